package forwardauth

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const loggerKey = "forwardauth.logger"

// LoggerFrom returns the request-scoped logger stored by the RequestID
// middleware, or fallback when there is none.
func LoggerFrom(c *gin.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return fallback
}

// tokenPrefix returns at most the first 16 characters of raw for debug logs.
func tokenPrefix(raw string) string {
	const n = 16
	if len(raw) <= n {
		return raw
	}
	return raw[:n] + "..."
}
