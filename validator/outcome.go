package validator

import (
	"github.com/accessjwt/forwardauth/core"
)

// Outcome is the result of validating one token: either accepted with the
// token's claims, or rejected with exactly one reason.
type Outcome struct {
	claims *Claims
	err    *core.ValidationError
}

// Accept returns an accepted Outcome.
func Accept(claims Claims) Outcome {
	return Outcome{claims: &claims}
}

// Reject returns a rejected Outcome. details may be nil.
func Reject(reason core.Reason, message string, details error) Outcome {
	return Outcome{err: core.NewValidationError(reason, message, details)}
}

// Accepted reports whether the token was accepted.
func (o Outcome) Accepted() bool { return o.err == nil && o.claims != nil }

// Claims returns the claims of an accepted token, nil otherwise.
func (o Outcome) Claims() *Claims {
	if !o.Accepted() {
		return nil
	}
	return o.claims
}

// Reason returns why the token was rejected. It is the zero Reason for an
// accepted token.
func (o Outcome) Reason() core.Reason {
	if o.err == nil {
		return 0
	}
	return o.err.Reason
}

// Err returns the rejection as an error, nil for an accepted token.
func (o Outcome) Err() error {
	if o.err == nil {
		return nil
	}
	return o.err
}
