package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for expense report spans and metrics.
const (
	AttrReportID       = attribute.Key("logware.report.id")
	AttrReportStatus   = attribute.Key("logware.report.status")
	AttrTransition     = attribute.Key("logware.report.transition")
	AttrAlgorithm      = attribute.Key("logware.attest.algorithm")
	AttrVerifyResult   = attribute.Key("logware.attest.result")
	AttrPolicyAction   = attribute.Key("logware.policy.action")
	AttrPolicyDecision = attribute.Key("logware.policy.decision")
	AttrActorID        = attribute.Key("logware.actor.id")
)

// ReportOperation returns attributes for a lifecycle call on one report.
// An empty reportID (submission before an ID exists) is omitted.
func ReportOperation(reportID, transition, actorID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if reportID != "" {
		attrs = append(attrs, AttrReportID.String(reportID))
	}
	if transition != "" {
		attrs = append(attrs, AttrTransition.String(transition))
	}
	if actorID != "" {
		attrs = append(attrs, AttrActorID.String(actorID))
	}
	return attrs
}

// AttestOperation returns attributes for a signing or verification.
func AttestOperation(reportID, algorithm, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrReportID.String(reportID),
		AttrAlgorithm.String(algorithm),
	}
	if result != "" {
		attrs = append(attrs, AttrVerifyResult.String(result))
	}
	return attrs
}

// PolicyOperation returns attributes for a policy decision.
func PolicyOperation(action string, allowed bool) []attribute.KeyValue {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	return []attribute.KeyValue{
		AttrPolicyAction.String(action),
		AttrPolicyDecision.String(decision),
	}
}

// SpanFromContext returns the current span, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
