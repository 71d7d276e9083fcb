package jwks

import "sync/atomic"

// Store holds the active KeySet. Readers never block each other or the
// writer; a Replace is a single pointer swap, so a reader observes either the
// previous set or the new one in full. The zero value is ready to use and
// serves an empty set.
type Store struct {
	current atomic.Pointer[KeySet]
}

// NewStore returns a Store serving an empty key set.
func NewStore() *Store {
	return &Store{}
}

// Current returns the active snapshot. It is never nil.
func (s *Store) Current() *KeySet {
	if ks := s.current.Load(); ks != nil {
		return ks
	}
	return emptyKeySet
}

// Replace atomically installs ks as the active snapshot. Writers are
// serialized by the Coordinator.
func (s *Store) Replace(ks *KeySet) {
	if ks == nil {
		ks = emptyKeySet
	}
	s.current.Store(ks)
}
