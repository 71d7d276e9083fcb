package core

import "errors"

// Sentinel errors for token validation.
var (
	// ErrJWTInvalid is matched by every ValidationError, whatever its Reason.
	ErrJWTInvalid = errors.New("jwt invalid")

	// ErrJWTMissing is returned when the request carries no token at all.
	ErrJWTMissing = errors.New("jwt missing")

	// ErrClaimsNotFound is returned when no claims are stored in a context.
	ErrClaimsNotFound = errors.New("claims not found in context")
)

// Reason enumerates why a token was rejected. The set is closed: callers
// switching over a Reason are expected to handle every value.
type Reason int

// Rejection reasons, in the order the validation protocol can produce them.
const (
	_ Reason = iota
	ReasonMalformed
	ReasonUnsupportedAlgorithm
	ReasonMissingKeyID
	ReasonUnknownKey
	ReasonBadSignature
	ReasonExpired
	ReasonBadIssuer
	ReasonBadAudience
	ReasonMissingExpectedAudience
	ReasonNoToken
)

// Reasons lists every rejection reason.
var Reasons = []Reason{
	ReasonMalformed,
	ReasonUnsupportedAlgorithm,
	ReasonMissingKeyID,
	ReasonUnknownKey,
	ReasonBadSignature,
	ReasonExpired,
	ReasonBadIssuer,
	ReasonBadAudience,
	ReasonMissingExpectedAudience,
	ReasonNoToken,
}

// String returns the machine-readable code of the reason, suitable for
// log fields and metric labels.
func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "token_malformed"
	case ReasonUnsupportedAlgorithm:
		return "invalid_algorithm"
	case ReasonMissingKeyID:
		return "missing_key_id"
	case ReasonUnknownKey:
		return "jwks_key_not_found"
	case ReasonBadSignature:
		return "invalid_signature"
	case ReasonExpired:
		return "token_expired"
	case ReasonBadIssuer:
		return "invalid_issuer"
	case ReasonBadAudience:
		return "invalid_audience"
	case ReasonMissingExpectedAudience:
		return "missing_expected_audience"
	case ReasonNoToken:
		return "token_missing"
	default:
		return "unknown"
	}
}

// ValidationError describes a rejected token. The Reason is safe to record
// in metrics; Message and Details are for internal diagnostics only and must
// never reach an unauthenticated caller.
type ValidationError struct {
	// Reason is the rejection category.
	Reason Reason

	// Message is a human-readable error message
	Message string

	// Details contains the underlying error
	Details error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := e.Reason.String() + ": " + e.Message
	if e.Details != nil {
		return msg + ": " + e.Details.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ValidationError) Unwrap() error {
	return e.Details
}

// Is allows the error to be compared with ErrJWTInvalid, and with
// ErrJWTMissing when no token was supplied.
func (e *ValidationError) Is(target error) bool {
	if target == ErrJWTMissing {
		return e.Reason == ReasonNoToken
	}
	return target == ErrJWTInvalid
}

// NewValidationError creates a new ValidationError with the given reason and message.
func NewValidationError(reason Reason, message string, details error) *ValidationError {
	return &ValidationError{
		Reason:  reason,
		Message: message,
		Details: details,
	}
}
