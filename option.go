package forwardauth

import (
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/accessjwt/forwardauth/metrics"
)

// Option configures the Handler.
// Returns error for validation failures.
type Option func(*Handler) error

// WithValidator sets the token validator (REQUIRED). A *validator.Validator
// satisfies TokenValidator.
func WithValidator(v TokenValidator) Option {
	return func(h *Handler) error {
		if v == nil {
			return ErrValidatorNil
		}
		h.validator = v
		return nil
	}
}

// WithKeyManager sets the key-set coordinator used by /refresh-keys and
// /keys/status (REQUIRED). A *jwks.Coordinator satisfies KeyManager.
func WithKeyManager(k KeyManager) Option {
	return func(h *Handler) error {
		if k == nil {
			return errors.New("key manager cannot be nil")
		}
		h.keys = k
		return nil
	}
}

// WithTokenExtractor sets where the token is read from.
// Default: DefaultTokenExtractor.
func WithTokenExtractor(e TokenExtractor) Option {
	return func(h *Handler) error {
		if e == nil {
			return errors.New("token extractor cannot be nil")
		}
		h.tokenExtractor = e
		return nil
	}
}

// WithAudienceExtractor sets where the expected audience is read from.
// Default: DefaultAudienceExtractor.
func WithAudienceExtractor(e TokenExtractor) Option {
	return func(h *Handler) error {
		if e == nil {
			return errors.New("audience extractor cannot be nil")
		}
		h.audienceExtractor = e
		return nil
	}
}

// WithErrorHandler sets the handler for rejected requests.
// Default: DefaultErrorHandler.
func WithErrorHandler(eh ErrorHandler) Option {
	return func(h *Handler) error {
		if eh == nil {
			return errors.New("error handler cannot be nil")
		}
		h.errorHandler = eh
		return nil
	}
}

// WithIdentityHeaders controls whether accepted /auth responses carry the
// X-Auth-Email and X-Auth-Subject headers. Default: true.
func WithIdentityHeaders(enabled bool) Option {
	return func(h *Handler) error {
		h.identityHeaders = enabled
		return nil
	}
}

// WithLogger sets the logger used when no request-scoped logger is present.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		h.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for auth decisions.
func WithMetrics(m metrics.Metrics) Option {
	return func(h *Handler) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		h.metrics = m
		return nil
	}
}

// WithTracer sets the tracer for auth spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) error {
		if tracer == nil {
			return errors.New("tracer cannot be nil")
		}
		h.tracer = tracer
		return nil
	}
}
