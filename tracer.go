package forwardauth

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/accessjwt/forwardauth/validator"
)

const tracerName = "github.com/accessjwt/forwardauth"

// Span attribute keys.
const (
	attrAccepted = attribute.Key("forwardauth.accepted")
	attrReason   = attribute.Key("forwardauth.reason")
	attrAudience = attribute.Key("forwardauth.audience")
	attrSubject  = attribute.Key("forwardauth.subject")
)

// recordOutcome annotates span with the decision. Rejections are not span
// errors: a 401 is a normal answer.
func recordOutcome(span oteltrace.Span, audience string, outcome validator.Outcome) {
	span.SetAttributes(
		attrAccepted.Bool(outcome.Accepted()),
		attrAudience.String(audience),
	)
	if outcome.Accepted() {
		span.SetAttributes(attrSubject.String(outcome.Claims().Subject))
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attrReason.String(outcome.Reason().String()))
}
