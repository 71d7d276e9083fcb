/*
Package core holds the vocabulary shared by every layer of forwardauth: the
closed set of rejection reasons and the ValidationError that carries them.

A Reason is what the rest of the system switches on. It names the failing
step of the validation protocol (malformed structure, unsupported algorithm,
unknown key, bad signature and so on) and maps to a stable snake_case code
used as a log field and a metric label:

	err := core.NewValidationError(core.ReasonExpired, "token expired", nil)
	errors.Is(err, core.ErrJWTInvalid) // true
	err.Reason.String()                 // "token_expired"

Transport code never returns Message or Details to the caller; every
rejection maps to the same response so that an unauthenticated client cannot
learn why its token failed.

Adapters that let a request through store the accepted claims with
SetClaims; handlers read them back with GetClaims.
*/
package core
