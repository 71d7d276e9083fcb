// Package accesstest provides a fake Access team domain for tests: an HTTP
// server publishing a certs document and helpers that sign tokens the way the
// edge service does.
//
//	iss := accesstest.NewIssuer(t)
//	key := iss.Rotate(t, "kid-1")
//	token := iss.Token(t, key, "my-app-aud")
package accesstest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Team is the team name the fake issuer stands for.
const Team = "test-team"

// IssuerURL is the issuer claim the fake issuer writes into tokens.
const IssuerURL = "https://" + Team + ".cloudflareaccess.com"

// CertsPath is where the certs document is served.
const CertsPath = "/cdn-cgi/access/certs"

// SigningKey is an RSA key pair with its key id.
type SigningKey struct {
	ID      string
	Private *rsa.PrivateKey
}

// NewSigningKey generates a 2048-bit RSA signing key.
func NewSigningKey(t testing.TB, id string) *SigningKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}
	return &SigningKey{ID: id, Private: priv}
}

// PublicJWK returns the public half as an RS256 signing JWK.
func (k *SigningKey) PublicJWK(t testing.TB) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(&k.Private.PublicKey)
	if err != nil {
		t.Fatalf("failed to create JWK: %v", err)
	}
	for name, value := range map[string]any{
		jwk.KeyIDKey:     k.ID,
		jwk.AlgorithmKey: jwa.RS256,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := key.Set(name, value); err != nil {
			t.Fatalf("failed to set %s: %v", name, err)
		}
	}
	return key
}

// Document renders a certs document. Entries may be *SigningKey (published
// as RS256 signing keys) or any JSON-marshalable value, published verbatim.
func Document(t testing.TB, entries ...any) []byte {
	t.Helper()
	keys := make([]any, 0, len(entries))
	for _, e := range entries {
		if k, ok := e.(*SigningKey); ok {
			keys = append(keys, k.PublicJWK(t))
			continue
		}
		keys = append(keys, e)
	}
	doc, err := json.Marshal(map[string]any{"keys": keys})
	if err != nil {
		t.Fatalf("failed to marshal certs document: %v", err)
	}
	return doc
}

// Issuer is a fake team domain serving a certs document.
type Issuer struct {
	server   *httptest.Server
	requests atomic.Int32

	mu     sync.Mutex
	doc    []byte
	status int
	gate   chan struct{}
}

// NewIssuer starts the fake team domain. It publishes no keys until Publish
// or Rotate is called and is closed when the test ends.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	iss := &Issuer{status: http.StatusOK, doc: []byte(`{"keys":[]}`)}

	mux := http.NewServeMux()
	mux.HandleFunc(CertsPath, iss.handleCerts)
	iss.server = httptest.NewServer(mux)
	t.Cleanup(iss.server.Close)
	return iss
}

func (i *Issuer) handleCerts(w http.ResponseWriter, r *http.Request) {
	i.requests.Add(1)

	i.mu.Lock()
	gate, status, doc := i.gate, i.status, i.doc
	i.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// CertsURL returns the URL of the certs document.
func (i *Issuer) CertsURL() string {
	return i.server.URL + CertsPath
}

// Requests returns how many times the certs document was requested.
func (i *Issuer) Requests() int {
	return int(i.requests.Load())
}

// Publish replaces the served document with the given entries.
func (i *Issuer) Publish(t testing.TB, entries ...any) {
	t.Helper()
	doc := Document(t, entries...)
	i.SetDocument(doc)
}

// Rotate generates a new key, publishes it as the only key and returns it.
func (i *Issuer) Rotate(t testing.TB, id string) *SigningKey {
	t.Helper()
	key := NewSigningKey(t, id)
	i.Publish(t, key)
	return key
}

// SetDocument serves doc verbatim.
func (i *Issuer) SetDocument(doc []byte) {
	i.mu.Lock()
	i.doc = doc
	i.mu.Unlock()
}

// SetStatus makes the endpoint answer with the given status code; anything
// other than 200 is sent with an empty body.
func (i *Issuer) SetStatus(code int) {
	i.mu.Lock()
	i.status = code
	i.mu.Unlock()
}

// Block holds every certs request until the returned release function is
// called.
func (i *Issuer) Block() (release func()) {
	gate := make(chan struct{})
	i.mu.Lock()
	i.gate = gate
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.gate = nil
			i.mu.Unlock()
			close(gate)
		})
	}
}

// Close shuts the server down so the certs URL becomes unreachable.
func (i *Issuer) Close() {
	i.server.Close()
}

// Claims returns the claims the edge service puts into an application token,
// valid for an hour from now.
func Claims(audience string) map[string]any {
	now := time.Now()
	return map[string]any{
		"aud":            []string{audience},
		"email":          "user@example.com",
		"exp":            now.Add(time.Hour).Unix(),
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"iss":            IssuerURL,
		"type":           "app",
		"identity_nonce": "6ei69kawdKzMIAPF",
		"sub":            "7335d417-61da-459d-899c-0a01c76a2f94",
		"country":        "DE",
	}
}

// Token signs a token for audience with key. Mutators adjust the claims
// before signing; a mutator may delete entries.
func (i *Issuer) Token(t testing.TB, key *SigningKey, audience string, mutators ...func(claims map[string]any)) string {
	t.Helper()
	return Token(t, key, audience, mutators...)
}

// Token is Issuer.Token for tests that need no certs endpoint.
func Token(t testing.TB, key *SigningKey, audience string, mutators ...func(claims map[string]any)) string {
	t.Helper()
	claims := Claims(audience)
	for _, m := range mutators {
		m(claims)
	}
	return Sign(t, map[string]any{jws.KeyIDKey: key.ID}, claims, jwa.RS256, key.Private)
}

// Sign produces a compact JWS over the JSON encoding of claims with the given
// protected headers, algorithm and key.
func Sign(t testing.TB, headers map[string]any, claims map[string]any, alg jwa.SignatureAlgorithm, key any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		t.Fatalf("failed to set typ: %v", err)
	}
	for name, value := range headers {
		if err := hdrs.Set(name, value); err != nil {
			t.Fatalf("failed to set header %s: %v", name, err)
		}
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}
