package jwks

import "errors"

// Errors reported by a failed refresh. None of them invalidates the key set
// already being served.
var (
	// ErrFetch is returned when the upstream could not be reached or the
	// response could not be read.
	ErrFetch = errors.New("jwks fetch failed")

	// ErrUpstreamStatus is returned when the upstream answers with a non-200 status.
	ErrUpstreamStatus = errors.New("jwks endpoint returned unexpected status")

	// ErrMalformedKeySet is returned when the document is not a JSON Web Key Set.
	ErrMalformedKeySet = errors.New("malformed jwks document")

	// ErrNoUsableKeys is returned when the document holds no RS256 signing key.
	ErrNoUsableKeys = errors.New("jwks document has no usable keys")
)
