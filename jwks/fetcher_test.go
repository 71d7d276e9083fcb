package jwks

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessjwt/forwardauth/internal/accesstest"
)

func Test_Fetcher(t *testing.T) {
	issuer := accesstest.NewIssuer(t)
	key := accesstest.NewSigningKey(t, "kid-1")

	t.Run("it fetches and parses the certs document", func(t *testing.T) {
		issuer.Publish(t, key)
		fetchedAt := time.Unix(1700000000, 0)

		f, err := NewFetcher(issuer.CertsURL(), WithFetcherClock(func() time.Time { return fetchedAt }))
		require.NoError(t, err)

		set, err := f.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"kid-1"}, set.KeyIDs())
		assert.Equal(t, fetchedAt, set.FetchedAt())
	})

	t.Run("it logs skipped entries", func(t *testing.T) {
		issuer.Publish(t, key, map[string]any{"kid": "enc", "kty": "RSA", "alg": "RS256", "use": "enc"})
		logger, hook := test.NewNullLogger()

		f, err := NewFetcher(issuer.CertsURL(), WithFetcherLogger(logger))
		require.NoError(t, err)

		_, err = f.Fetch(context.Background())
		require.NoError(t, err)

		var warned bool
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel && entry.Data["kid"] == "enc" {
				warned = true
			}
		}
		assert.True(t, warned, "skipped key should be logged")
	})

	t.Run("it reports a non-200 status", func(t *testing.T) {
		issuer.SetStatus(http.StatusServiceUnavailable)
		defer issuer.SetStatus(http.StatusOK)

		f, err := NewFetcher(issuer.CertsURL())
		require.NoError(t, err)

		_, err = f.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrUpstreamStatus)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("it reports a malformed document", func(t *testing.T) {
		issuer.SetDocument([]byte("<html>oops</html>"))
		defer issuer.Publish(t, key)

		f, err := NewFetcher(issuer.CertsURL())
		require.NoError(t, err)

		_, err = f.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrMalformedKeySet)
	})

	t.Run("it refuses oversized documents", func(t *testing.T) {
		issuer.SetDocument([]byte(`{"keys":[],"pad":"` + strings.Repeat("x", 2048) + `"}`))
		defer issuer.Publish(t, key)

		f, err := NewFetcher(issuer.CertsURL(), WithMaxBodySize(1024))
		require.NoError(t, err)

		_, err = f.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrMalformedKeySet)
		assert.Contains(t, err.Error(), "exceeds 1024 bytes")
	})

	t.Run("it gives up when the client timeout elapses", func(t *testing.T) {
		release := issuer.Block()
		defer release()

		f, err := NewFetcher(issuer.CertsURL(), WithHTTPClient(NewHTTPClient(time.Second, 100*time.Millisecond)))
		require.NoError(t, err)

		started := time.Now()
		_, err = f.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrFetch)
		assert.Less(t, time.Since(started), 5*time.Second)
	})

	t.Run("it honours context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()

		f, err := NewFetcher(issuer.CertsURL())
		require.NoError(t, err)

		_, err = f.Fetch(ctx)
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("it reports an unreachable upstream", func(t *testing.T) {
		down := accesstest.NewIssuer(t)
		down.Close()

		f, err := NewFetcher(down.CertsURL())
		require.NoError(t, err)

		_, err = f.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func Test_NewFetcher(t *testing.T) {
	t.Run("it rejects invalid URLs", func(t *testing.T) {
		for _, u := range []string{"", "ftp://example.com/certs", "https://", "://"} {
			_, err := NewFetcher(u)
			assert.Error(t, err, u)
		}
	})

	t.Run("option validation", func(t *testing.T) {
		_, err := NewFetcher("https://example.com/certs", WithHTTPClient(nil))
		assert.EqualError(t, err, "invalid option: HTTP client cannot be nil")

		_, err = NewFetcher("https://example.com/certs", WithMaxBodySize(0))
		assert.EqualError(t, err, "invalid option: max body size must be positive")

		_, err = NewFetcher("https://example.com/certs", WithFetcherLogger(nil))
		assert.EqualError(t, err, "invalid option: logger cannot be nil")
	})

	t.Run("it exposes the certs URL", func(t *testing.T) {
		f, err := NewFetcher("https://team.cloudflareaccess.com/cdn-cgi/access/certs")
		require.NoError(t, err)
		assert.Equal(t, "https://team.cloudflareaccess.com/cdn-cgi/access/certs", f.URL())
	})
}
