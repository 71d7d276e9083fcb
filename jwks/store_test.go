package jwks

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessjwt/forwardauth/internal/accesstest"
)

func newTestKeySet(t *testing.T, key *accesstest.SigningKey, ids ...string) *KeySet {
	t.Helper()
	keys := make([]*VerificationKey, 0, len(ids))
	for _, id := range ids {
		vk, err := NewVerificationKey(id, &key.Private.PublicKey)
		require.NoError(t, err)
		keys = append(keys, vk)
	}
	set, err := NewKeySet(keys, time.Now(), nil)
	require.NoError(t, err)
	return set
}

func Test_Store(t *testing.T) {
	key := accesstest.NewSigningKey(t, "kid")

	t.Run("the zero value serves an empty set", func(t *testing.T) {
		var s Store
		require.NotNil(t, s.Current())
		assert.Zero(t, s.Current().Len())
	})

	t.Run("Replace swaps the whole set", func(t *testing.T) {
		s := NewStore()
		old := newTestKeySet(t, key, "a", "b")
		s.Replace(old)
		assert.Same(t, old, s.Current())

		next := newTestKeySet(t, key, "c")
		s.Replace(next)
		assert.Same(t, next, s.Current())
		_, ok := s.Current().Lookup("a")
		assert.False(t, ok, "keys of the previous set must not survive a replace")
	})

	t.Run("Replace with nil installs the empty set", func(t *testing.T) {
		s := NewStore()
		s.Replace(newTestKeySet(t, key, "a"))
		s.Replace(nil)
		assert.Zero(t, s.Current().Len())
	})

	t.Run("readers never observe a mix of two sets", func(t *testing.T) {
		s := NewStore()
		setA := newTestKeySet(t, key, "a1", "a2", "a3")
		setB := newTestKeySet(t, key, "b1", "b2")
		s.Replace(setA)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if i%2 == 0 {
					s.Replace(setB)
				} else {
					s.Replace(setA)
				}
			}
		}()

		var readers sync.WaitGroup
		for r := 0; r < 8; r++ {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for i := 0; i < 2000; i++ {
					cur := s.Current()
					ids := cur.KeyIDs()
					switch cur.Len() {
					case 3:
						assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
					case 2:
						assert.Equal(t, []string{"b1", "b2"}, ids)
					default:
						t.Errorf("unexpected key set of size %d", cur.Len())
						return
					}
				}
			}()
		}
		readers.Wait()
		close(stop)
		wg.Wait()
	})
}
