package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessjwt/forwardauth/internal/accesstest"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FORWARDAUTH_TEAM_NAME", "")
	t.Setenv("CF_TEAM_NAME", "")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeysCommand(t *testing.T) {
	issuer := accesstest.NewIssuer(t)
	issuer.Publish(t, accesstest.NewSigningKey(t, "kid-b"), accesstest.NewSigningKey(t, "kid-a"))

	t.Run("json", func(t *testing.T) {
		out, err := run(t, "", "keys", "--team", accesstest.Team, "--certs-url", issuer.CertsURL(), "--json")
		require.NoError(t, err)

		var got struct {
			CertsURL string    `json:"certs_url"`
			Keys     []keyInfo `json:"keys"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, issuer.CertsURL(), got.CertsURL)
		assert.Equal(t, []keyInfo{
			{KeyID: "kid-a", Algorithm: "RS256", Bits: 2048},
			{KeyID: "kid-b", Algorithm: "RS256", Bits: 2048},
		}, got.Keys)
	})

	t.Run("table", func(t *testing.T) {
		out, err := run(t, "", "keys", "--team", accesstest.Team, "--certs-url", issuer.CertsURL())
		require.NoError(t, err)
		assert.Contains(t, out, "kid-a")
		assert.Contains(t, out, "kid-b")
	})

	t.Run("upstream failure", func(t *testing.T) {
		issuer.SetStatus(http.StatusInternalServerError)
		defer issuer.SetStatus(http.StatusOK)

		_, err := run(t, "", "keys", "--team", accesstest.Team, "--certs-url", issuer.CertsURL())
		assert.ErrorContains(t, err, "500")
	})

	t.Run("missing team name", func(t *testing.T) {
		_, err := run(t, "", "keys")
		assert.ErrorContains(t, err, "team_name")
	})
}

func TestCheckCommand(t *testing.T) {
	issuer := accesstest.NewIssuer(t)
	key := issuer.Rotate(t, "kid-1")
	const aud = "app-aud"
	base := []string{"check", "--team", accesstest.Team, "--certs-url", issuer.CertsURL(), "--aud", aud}

	t.Run("accepted", func(t *testing.T) {
		out, err := run(t, "", append(base, issuer.Token(t, key, aud))...)
		require.NoError(t, err)
		assert.Contains(t, out, "accepted")
		assert.Contains(t, out, `"email": "user@example.com"`)
	})

	t.Run("token from stdin", func(t *testing.T) {
		out, err := run(t, issuer.Token(t, key, aud)+"\n", append(base, "-")...)
		require.NoError(t, err)
		assert.Contains(t, out, "accepted")
	})

	t.Run("rejected", func(t *testing.T) {
		out, err := run(t, "", append(base, issuer.Token(t, key, "other-aud"))...)
		assert.ErrorIs(t, err, errRejected)
		assert.Contains(t, out, "invalid_audience")
	})

	t.Run("aud is required", func(t *testing.T) {
		_, err := run(t, "", "check", "--team", accesstest.Team, "some-token")
		assert.ErrorContains(t, err, `required flag(s) "aud" not set`)
	})
}
