package forwardauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/accessjwt/forwardauth/core"
	"github.com/accessjwt/forwardauth/jwks"
	"github.com/accessjwt/forwardauth/metrics"
	"github.com/accessjwt/forwardauth/validator"
)

// Identity headers set on accepted /auth responses, for auth_request_set.
const (
	HeaderAuthEmail   = "X-Auth-Email"
	HeaderAuthSubject = "X-Auth-Subject"
)

// ErrValidatorNil is returned when WithValidator is given nil.
var ErrValidatorNil = errors.New("validator cannot be nil")

// TokenValidator defines the interface for token validation.
// This interface is satisfied by *validator.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, raw, expectedAudience string) validator.Outcome
}

// KeyManager is the operator view of the key set.
// This interface is satisfied by *jwks.Coordinator.
type KeyManager interface {
	Refresh(ctx context.Context, trigger jwks.Trigger) error
	Status() jwks.Status
}

// Handler serves the forward-auth endpoints.
type Handler struct {
	validator         TokenValidator
	keys              KeyManager
	tokenExtractor    TokenExtractor
	audienceExtractor TokenExtractor
	errorHandler      ErrorHandler
	identityHeaders   bool
	logger            logrus.FieldLogger
	metrics           metrics.Metrics
	tracer            trace.Tracer
}

// New constructs a Handler.
//
// Required options:
//   - WithValidator
//   - WithKeyManager
//
// Example:
//
//	h, err := forwardauth.New(
//	    forwardauth.WithValidator(v),
//	    forwardauth.WithKeyManager(coordinator),
//	)
//	if err != nil {
//	    log.Fatalf("failed to create handler: %v", err)
//	}
//	router := forwardauth.NewRouter(h, logger)
func New(opts ...Option) (*Handler, error) {
	h := &Handler{
		tokenExtractor:    DefaultTokenExtractor,
		audienceExtractor: DefaultAudienceExtractor,
		errorHandler:      DefaultErrorHandler,
		identityHeaders:   true,
		logger:            logrus.StandardLogger(),
		metrics:           &metrics.NoopMetrics{},
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if h.validator == nil {
		return nil, errors.New("validator is required (use WithValidator)")
	}
	if h.keys == nil {
		return nil, errors.New("key manager is required (use WithKeyManager)")
	}
	return h, nil
}

// NewRouter returns a gin engine serving the Handler's endpoints behind the
// request-id, no-cache and access-log middleware.
func NewRouter(h *Handler, logger logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(logger), NoCache(), AccessLog(logger))
	h.Register(r)
	return r
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/auth", h.Auth)
	r.GET("/health", h.Health)
	r.GET("/refresh-keys", h.RefreshKeys)
	r.GET("/keys/status", h.KeyStatus)
}

// Auth answers the proxy's forward-auth subrequest: 204 when the token is
// accepted for the expected audience, 401 otherwise. Bodies are empty.
func (h *Handler) Auth(c *gin.Context) {
	audience, err := h.audienceExtractor(c.Request)
	if err != nil {
		h.reject(c, audience, validator.Reject(core.ReasonMissingExpectedAudience, "could not read the expected audience", err))
		return
	}
	if audience == "" {
		h.reject(c, audience, validator.Reject(core.ReasonMissingExpectedAudience, "no expected audience in header or query", nil))
		return
	}

	outcome := h.check(c, audience)
	if !outcome.Accepted() {
		h.reject(c, audience, outcome)
		return
	}

	claims := outcome.Claims()
	if h.identityHeaders {
		if claims.Email != "" {
			c.Header(HeaderAuthEmail, claims.Email)
		}
		if claims.Subject != "" {
			c.Header(HeaderAuthSubject, claims.Subject)
		}
	}
	LoggerFrom(c, h.logger).WithFields(logrus.Fields{
		"audience": audience,
		"subject":  claims.Subject,
	}).Debug("token accepted")
	c.Status(http.StatusNoContent)
}

// RequireAccess returns gin middleware that lets a request through only when
// it carries a token accepted for audience. The claims are stored in the
// request context; read them with core.GetClaims[*validator.Claims].
func (h *Handler) RequireAccess(audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := h.check(c, audience)
		if !outcome.Accepted() {
			h.reject(c, audience, outcome)
			return
		}
		c.Request = c.Request.WithContext(core.SetClaims(c.Request.Context(), outcome.Claims()))
		c.Next()
	}
}

// check locates and validates the token. Accepted decisions are counted
// here, rejections by reject.
func (h *Handler) check(c *gin.Context, audience string) validator.Outcome {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "forwardauth.check")
	defer span.End()

	outcome := h.validate(ctx, c, audience)

	recordOutcome(span, audience, outcome)
	if outcome.Accepted() {
		h.metrics.IncCounter(metrics.AuthRequestsTotal, map[string]string{"result": "accepted", "reason": "none"})
	}
	h.metrics.ObserveHistogram(metrics.AuthDurationSeconds, time.Since(start).Seconds(), nil)
	return outcome
}

func (h *Handler) validate(ctx context.Context, c *gin.Context, audience string) validator.Outcome {
	raw, err := h.tokenExtractor(c.Request)
	if err != nil {
		return validator.Reject(core.ReasonMalformed, "could not read the token", err)
	}
	if raw == "" {
		return validator.Reject(core.ReasonNoToken, "no token in header or cookie", core.ErrJWTMissing)
	}

	LoggerFrom(c, h.logger).WithField("token", tokenPrefix(raw)).Debug("validating token")
	return h.validator.Validate(ctx, raw, audience)
}

func (h *Handler) reject(c *gin.Context, audience string, outcome validator.Outcome) {
	reason := outcome.Reason()
	h.metrics.IncCounter(metrics.AuthRequestsTotal, map[string]string{"result": "rejected", "reason": reason.String()})
	LoggerFrom(c, h.logger).WithFields(logrus.Fields{
		"reason":   reason.String(),
		"audience": audience,
	}).WithError(outcome.Err()).Warn("request rejected")
	h.errorHandler(c, outcome.Err())
}

// Health reports that the process is serving. It does not look at the key
// set.
func (h *Handler) Health(c *gin.Context) {
	c.Status(http.StatusOK)
}

// RefreshKeys refreshes the key set on operator request and waits for the
// result: 200 on success, 500 on failure. The wait is bounded by the
// coordinator's fetch timeout.
func (h *Handler) RefreshKeys(c *gin.Context) {
	logger := LoggerFrom(c, h.logger)
	logger.Info("manual key set refresh requested")

	if err := h.keys.Refresh(c.Request.Context(), jwks.TriggerOperator); err != nil {
		logger.WithError(err).Error("manual key set refresh failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	logger.Info("manual key set refresh completed")
	c.Status(http.StatusOK)
}

// KeyStatusResponse is the body of GET /keys/status. It never carries key
// material.
type KeyStatusResponse struct {
	State       string     `json:"state"`
	KeyIDs      []string   `json:"key_ids"`
	FetchedAt   *time.Time `json:"fetched_at,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Attempts    uint64     `json:"attempts"`
}

// KeyStatus reports the coordinator's state as JSON.
func (h *Handler) KeyStatus(c *gin.Context) {
	st := h.keys.Status()
	resp := KeyStatusResponse{
		State:       st.State.String(),
		KeyIDs:      st.KeyIDs,
		FetchedAt:   timeOrNil(st.FetchedAt),
		LastAttempt: timeOrNil(st.LastAttempt),
		LastSuccess: timeOrNil(st.LastSuccess),
		Attempts:    st.Attempts,
	}
	if resp.KeyIDs == nil {
		resp.KeyIDs = []string{}
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
