package validator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"

	"github.com/accessjwt/forwardauth/core"
	"github.com/accessjwt/forwardauth/jwks"
)

// KeyProvider serves verification keys. Refresh is called at most once per
// Validate call, when the token's key id is not in the current set.
type KeyProvider interface {
	Current() *jwks.KeySet
	Refresh(ctx context.Context, trigger jwks.Trigger) error
}

// Validator checks edge-service tokens against the provider's keys.
// It is safe for concurrent use.
type Validator struct {
	keys             KeyProvider   // Required.
	issuer           string        // Required.
	allowedClockSkew time.Duration // Optional.
	now              func() time.Time
	logger           logrus.FieldLogger
}

// header is the part of the JOSE header the pipeline looks at.
type header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
}

// New sets up a Validator.
//
// Required options:
//   - WithKeyProvider: Source of verification keys
//   - WithIssuer: Expected issuer (iss) claim
//
// Optional options:
//   - WithAllowedClockSkew: Tolerance on exp (default: 0)
//   - WithClock, WithLogger
func New(opts ...Option) (*Validator, error) {
	v := &Validator{
		now:    time.Now,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if v.keys == nil {
		return nil, errors.New("key provider is required (use WithKeyProvider)")
	}
	if v.issuer == "" {
		return nil, errors.New("issuer is required (use WithIssuer)")
	}
	return v, nil
}

// Issuer returns the issuer tokens must carry.
func (v *Validator) Issuer() string { return v.issuer }

// Validate runs the verification pipeline on raw and returns the first
// failing check, or the token's claims. Steps, in order: structure, header
// algorithm and key id, key lookup (with one refresh on a miss), signature,
// expiry, issuer and audience.
func (v *Validator) Validate(ctx context.Context, raw, expectedAudience string) Outcome {
	hdr, err := parseHeader(raw)
	if err != nil {
		return Reject(core.ReasonMalformed, "token is not a well-formed JWT", err)
	}

	if hdr.Algorithm != jwa.RS256.String() {
		return Reject(core.ReasonUnsupportedAlgorithm, fmt.Sprintf("expected %q signing algorithm but token specified %q", jwa.RS256, hdr.Algorithm), nil)
	}
	if hdr.KeyID == "" {
		return Reject(core.ReasonMissingKeyID, "token header has no key id", nil)
	}

	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return Reject(core.ReasonMalformed, "could not decode the token claims", err)
	}

	key, err := v.lookup(ctx, hdr.KeyID)
	if err != nil {
		return Reject(core.ReasonUnknownKey, fmt.Sprintf("no verification key with id %q", hdr.KeyID), err)
	}

	if _, err := jws.Verify([]byte(raw), jws.WithKey(jwa.RS256, key.PublicKey())); err != nil {
		return Reject(core.ReasonBadSignature, "signature verification failed", err)
	}

	if !v.notExpired(tok) {
		return Reject(core.ReasonExpired, "token is expired", nil)
	}

	if tok.Issuer() != v.issuer {
		return Reject(core.ReasonBadIssuer, fmt.Sprintf("expected issuer %q but token specified %q", v.issuer, tok.Issuer()), nil)
	}

	if expectedAudience == "" {
		return Reject(core.ReasonMissingExpectedAudience, "no expected audience given", nil)
	}
	if !slices.Contains(tok.Audience(), expectedAudience) {
		return Reject(core.ReasonBadAudience, fmt.Sprintf("token audience does not include %q", expectedAudience), nil)
	}

	return Accept(claimsFromToken(tok))
}

// errKeyNotFound is wrapped into UnknownKey rejections when the refresh
// itself succeeded.
var errKeyNotFound = errors.New("key id not in the refreshed key set")

func (v *Validator) lookup(ctx context.Context, kid string) (*jwks.VerificationKey, error) {
	if key, ok := v.keys.Current().Lookup(kid); ok {
		return key, nil
	}

	v.logger.WithField("kid", kid).Debug("unknown key id, refreshing key set")
	if err := v.keys.Refresh(ctx, jwks.TriggerMiss); err != nil {
		return nil, fmt.Errorf("refreshing key set: %w", err)
	}
	if key, ok := v.keys.Current().Lookup(kid); ok {
		return key, nil
	}
	return nil, errKeyNotFound
}

// notExpired compares in whole seconds; a token without exp never passes.
func (v *Validator) notExpired(tok jwt.Token) bool {
	if _, ok := tok.Get(jwt.ExpirationKey); !ok {
		return false
	}
	now := v.now().Unix()
	exp := tok.Expiration().Add(v.allowedClockSkew).Unix()
	return exp > now
}

// parseHeader decodes the protected header of a compact JWS and checks that
// the payload is a JSON object. The signature segment is only checked for
// being valid base64url here.
func parseHeader(raw string) (header, error) {
	parts := bytes.Split([]byte(raw), []byte("."))
	if len(parts) != 3 {
		return header{}, fmt.Errorf("expected 3 segments, got %d", len(parts))
	}

	var segs [3][]byte
	for i, p := range parts {
		dec, err := base64.RawURLEncoding.DecodeString(string(p))
		if err != nil {
			return header{}, fmt.Errorf("segment %d is not base64url: %w", i, err)
		}
		segs[i] = dec
	}

	var hdr header
	if err := json.Unmarshal(segs[0], &hdr); err != nil {
		return header{}, fmt.Errorf("header is not a JSON object: %w", err)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(segs[1], &payload); err != nil {
		return header{}, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if payload == nil {
		return header{}, errors.New("payload is not a JSON object")
	}
	return hdr, nil
}
