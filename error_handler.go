package forwardauth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/accessjwt/forwardauth/core"
)

// ErrorHandler is called when a request is not let through. err is a
// *core.ValidationError for every rejected token; anything else is an
// internal failure. The handler must abort the gin context.
//
// The default handler answers with an empty body and the status returned by
// StatusFor, so clients cannot tell rejection reasons apart.
type ErrorHandler func(c *gin.Context, err error)

// DefaultErrorHandler aborts with StatusFor(err) and no body.
func DefaultErrorHandler(c *gin.Context, err error) {
	c.AbortWithStatus(StatusFor(err))
}

// StatusFor maps an error to the HTTP status of the auth response: 401 for
// every rejection reason, 500 for anything else.
func StatusFor(err error) int {
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		if errors.Is(err, core.ErrJWTMissing) {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	}

	switch ve.Reason {
	case core.ReasonMalformed,
		core.ReasonUnsupportedAlgorithm,
		core.ReasonMissingKeyID,
		core.ReasonUnknownKey,
		core.ReasonBadSignature,
		core.ReasonExpired,
		core.ReasonBadIssuer,
		core.ReasonBadAudience,
		core.ReasonMissingExpectedAudience,
		core.ReasonNoToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
