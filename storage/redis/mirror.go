// Package redisstore mirrors the last good key-set document in Redis so a
// restarted sidecar can serve while the upstream certs endpoint is down.
//
// The mirror is trusted: anyone able to write the key can install
// verification keys. Point it at a Redis instance only the sidecars can
// write to.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accessjwt/forwardauth/jwks"
)

const (
	DefaultKey = "forwardauth:jwks"
	DefaultTTL = 24 * time.Hour
)

// KeySetMirror implements jwks.Mirror on a Redis string key.
type KeySetMirror struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

var _ jwks.Mirror = (*KeySetMirror)(nil)

// NewKeySetMirror returns a mirror stored under key. Snapshots expire after
// ttl so a long outage does not pin ancient keys forever.
func NewKeySetMirror(rdb redis.Cmdable, key string, ttl time.Duration) *KeySetMirror {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &KeySetMirror{rdb: rdb, key: key, ttl: ttl}
}

func (m *KeySetMirror) Save(ctx context.Context, snap jwks.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := m.rdb.Set(ctx, m.key, b, m.ttl).Err(); err != nil {
		return fmt.Errorf("saving key set to redis: %w", err)
	}
	return nil
}

func (m *KeySetMirror) Load(ctx context.Context) (jwks.Snapshot, bool, error) {
	val, err := m.rdb.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return jwks.Snapshot{}, false, nil
	}
	if err != nil {
		return jwks.Snapshot{}, false, fmt.Errorf("loading key set from redis: %w", err)
	}
	var snap jwks.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return jwks.Snapshot{}, false, fmt.Errorf("decoding mirrored key set: %w", err)
	}
	return snap, true, nil
}

// Clear removes the mirrored snapshot.
func (m *KeySetMirror) Clear(ctx context.Context) error {
	return m.rdb.Del(ctx, m.key).Err()
}
