package jwks

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// minRSAModulusBits is the smallest RSA modulus accepted at ingest.
const minRSAModulusBits = 2048

// VerificationKey is a single RS256 public key published by the upstream.
// It is never modified after construction; rotation replaces the whole KeySet.
type VerificationKey struct {
	id  string
	alg jwa.SignatureAlgorithm
	key *rsa.PublicKey
}

// NewVerificationKey builds an RS256 verification key. The public key must
// not be modified afterwards.
func NewVerificationKey(kid string, pub *rsa.PublicKey) (*VerificationKey, error) {
	if kid == "" {
		return nil, errors.New("key id cannot be empty")
	}
	if pub == nil || pub.N == nil {
		return nil, errors.New("public key cannot be nil")
	}
	if pub.N.BitLen() < minRSAModulusBits {
		return nil, fmt.Errorf("rsa modulus is %d bits, need at least %d", pub.N.BitLen(), minRSAModulusBits)
	}
	return &VerificationKey{id: kid, alg: jwa.RS256, key: pub}, nil
}

// KeyID returns the key identifier (kid).
func (k *VerificationKey) KeyID() string { return k.id }

// Algorithm returns the signature algorithm the key verifies.
func (k *VerificationKey) Algorithm() jwa.SignatureAlgorithm { return k.alg }

// PublicKey returns the RSA public key. Callers must treat it as read-only.
func (k *VerificationKey) PublicKey() *rsa.PublicKey { return k.key }

// KeySet is an immutable snapshot of the upstream key set, indexed by kid.
type KeySet struct {
	keys      map[string]*VerificationKey
	fetchedAt time.Time
	source    []byte
}

var emptyKeySet = &KeySet{keys: map[string]*VerificationKey{}}

// NewKeySet builds a snapshot from the given keys. Duplicate key ids are
// rejected. source is the raw document the keys were parsed from, if any.
func NewKeySet(keys []*VerificationKey, fetchedAt time.Time, source []byte) (*KeySet, error) {
	m := make(map[string]*VerificationKey, len(keys))
	for _, k := range keys {
		if k == nil {
			return nil, errors.New("key cannot be nil")
		}
		if _, dup := m[k.id]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.id)
		}
		m[k.id] = k
	}
	return &KeySet{keys: m, fetchedAt: fetchedAt, source: source}, nil
}

// Lookup returns the key with the given kid.
func (s *KeySet) Lookup(kid string) (*VerificationKey, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of keys in the set.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeyIDs returns the key ids of the set in sorted order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FetchedAt returns when the set was retrieved. It is zero for the empty
// set held before the first successful fetch.
func (s *KeySet) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// Source returns the raw document the set was parsed from. The returned
// slice must not be modified.
func (s *KeySet) Source() []byte {
	if s == nil {
		return nil
	}
	return s.source
}

// SkippedKey records a document entry that was not usable for verification.
type SkippedKey struct {
	KeyID  string
	Reason string
}

type keyDocument struct {
	Keys []json.RawMessage `json:"keys"`
}

type keyHeader struct {
	KeyID   string `json:"kid"`
	KeyType string `json:"kty"`
	Alg     string `json:"alg"`
	Use     string `json:"use"`
}

// ParseKeySet parses a JSON Web Key Set document. Only RSA keys declared for
// RS256 signatures ("kty":"RSA", "alg":"RS256", "use":"sig") with a key id
// are retained; every other entry is reported in the skipped list.
//
// A document that is not a key set returns ErrMalformedKeySet; a document
// without a single usable key returns ErrNoUsableKeys.
func ParseKeySet(doc []byte, fetchedAt time.Time) (*KeySet, []SkippedKey, error) {
	var d keyDocument
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedKeySet, err)
	}
	if d.Keys == nil {
		return nil, nil, fmt.Errorf("%w: document has no \"keys\" member", ErrMalformedKeySet)
	}

	var (
		keys    []*VerificationKey
		skipped []SkippedKey
		seen    = make(map[string]struct{}, len(d.Keys))
	)
	for i, raw := range d.Keys {
		key, err := parseKey(raw)
		if err != nil {
			var h keyHeader
			_ = json.Unmarshal(raw, &h)
			id := h.KeyID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			skipped = append(skipped, SkippedKey{KeyID: id, Reason: err.Error()})
			continue
		}
		if _, dup := seen[key.id]; dup {
			skipped = append(skipped, SkippedKey{KeyID: key.id, Reason: "duplicate key id"})
			continue
		}
		seen[key.id] = struct{}{}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, skipped, fmt.Errorf("%w: %d entries, none usable", ErrNoUsableKeys, len(d.Keys))
	}

	set, err := NewKeySet(keys, fetchedAt, doc)
	if err != nil {
		return nil, skipped, fmt.Errorf("%w: %w", ErrMalformedKeySet, err)
	}
	return set, skipped, nil
}

func parseKey(raw json.RawMessage) (*VerificationKey, error) {
	var h keyHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("entry is not a JSON object: %w", err)
	}
	switch {
	case h.KeyID == "":
		return nil, errors.New("missing kid")
	case h.KeyType != jwa.RSA.String():
		return nil, fmt.Errorf("key type %q is not RSA", h.KeyType)
	case h.Alg != jwa.RS256.String():
		return nil, fmt.Errorf("algorithm %q is not RS256", h.Alg)
	case h.Use != string(jwk.ForSignature):
		return nil, fmt.Errorf("use %q is not sig", h.Use)
	}

	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid RSA components: %w", err)
	}
	pubKey, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("could not derive public key: %w", err)
	}
	var pub rsa.PublicKey
	if err := pubKey.Raw(&pub); err != nil {
		return nil, fmt.Errorf("invalid RSA components: %w", err)
	}
	return NewVerificationKey(h.KeyID, &pub)
}
