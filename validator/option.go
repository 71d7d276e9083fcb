package validator

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Option is how options for the Validator are set up.
// Options return errors to enable validation during construction.
type Option func(*Validator) error

// WithKeyProvider sets where verification keys come from.
// This is a required option.
//
// A *jwks.Coordinator is the usual provider: lookups read its current key
// set and an unknown key id asks it for one refresh.
func WithKeyProvider(keys KeyProvider) Option {
	return func(v *Validator) error {
		if keys == nil {
			return errors.New("key provider cannot be nil")
		}
		v.keys = keys
		return nil
	}
}

// WithIssuer sets the expected issuer claim (iss) for token validation.
// This is a required option.
//
// The comparison is exact, so the value must match the team domain URL the
// edge service writes, e.g. https://myteam.cloudflareaccess.com.
func WithIssuer(issuerURL string) Option {
	return func(v *Validator) error {
		if issuerURL == "" {
			return errors.New("issuer cannot be empty")
		}
		if _, err := url.Parse(issuerURL); err != nil {
			return fmt.Errorf("invalid issuer URL: %w", err)
		}
		v.issuer = issuerURL
		return nil
	}
}

// WithAllowedClockSkew sets the tolerance applied to the exp claim.
//
// If not set, the default is 0: a token is expired from the second its exp
// claim names.
func WithAllowedClockSkew(skew time.Duration) Option {
	return func(v *Validator) error {
		if skew < 0 {
			return errors.New("clock skew cannot be negative")
		}
		v.allowedClockSkew = skew
		return nil
	}
}

// WithClock sets the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		v.now = now
		return nil
	}
}

// WithLogger sets the logger used for key-miss diagnostics.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(v *Validator) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		v.logger = logger
		return nil
	}
}
