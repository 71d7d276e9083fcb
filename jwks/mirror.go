package jwks

import (
	"context"
	"time"
)

// Snapshot is the persisted form of a successfully fetched key set.
type Snapshot struct {
	Document  []byte    `json:"document"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Mirror persists the last good key-set document outside the process so a
// freshly started instance can serve while the upstream is unreachable.
// A Redis-backed implementation lives in storage/redis.
type Mirror interface {
	// Save stores the snapshot, replacing any previous one.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the stored snapshot. found is false when none exists.
	Load(ctx context.Context) (snap Snapshot, found bool, err error)
}
