package forwardauth

import (
	"errors"
	"net/http"
	"strings"
)

// Where the edge service and the proxy put the token and the audience.
const (
	TokenHeader       = "CF-Authorization"
	TokenCookie       = "CF_Authorization"
	AudienceHeader    = "X-Expected-Audience"
	AudienceParameter = "aud"
)

// TokenExtractor is a function that takes a request as input and returns
// either a value or an error. An error should only be returned if a value was
// present but malformed. A missing value is not an error: an empty string is
// returned in that case.
//
// The same type locates the expected audience.
type TokenExtractor func(r *http.Request) (string, error)

// DefaultTokenExtractor reads the CF-Authorization header and falls back to
// the CF_Authorization cookie.
var DefaultTokenExtractor = MultiTokenExtractor(
	HeaderTokenExtractor(TokenHeader),
	CookieTokenExtractor(TokenCookie),
)

// DefaultAudienceExtractor reads the X-Expected-Audience header and falls
// back to the aud query parameter. A header that is present wins even when
// blank, which leaves the request without an audience.
var DefaultAudienceExtractor = PresentHeaderExtractor(
	AudienceHeader,
	ParameterTokenExtractor(AudienceParameter),
)

// PresentHeaderExtractor returns a TokenExtractor that reads the named header
// whenever the request carries it and runs fallback only when it is absent.
func PresentHeaderExtractor(name string, fallback TokenExtractor) TokenExtractor {
	header := HeaderTokenExtractor(name)
	return func(r *http.Request) (string, error) {
		if len(r.Header.Values(name)) > 0 {
			return header(r)
		}
		return fallback(r)
	}
}

// HeaderTokenExtractor builds a TokenExtractor that takes a request and
// extracts the value of the named header. Surrounding whitespace is ignored.
func HeaderTokenExtractor(name string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return strings.TrimSpace(r.Header.Get(name)), nil
	}
}

// CookieTokenExtractor builds a TokenExtractor that takes a request and
// extracts the token from the cookie using the passed in cookieName.
func CookieTokenExtractor(cookieName string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil // No cookie, then no JWT, so no error.
		}
		if err != nil {
			return "", err
		}
		return cookie.Value, nil
	}
}

// ParameterTokenExtractor returns a TokenExtractor that extracts
// the value from the specified query string parameter.
func ParameterTokenExtractor(param string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return r.URL.Query().Get(param), nil
	}
}

// MultiTokenExtractor returns a TokenExtractor that runs multiple TokenExtractors
// and takes the one that does not return an empty token. If a TokenExtractor
// returns an error that error is immediately returned.
func MultiTokenExtractor(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) (string, error) {
		for _, ex := range extractors {
			token, err := ex(r)
			if err != nil {
				return "", err
			}

			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
