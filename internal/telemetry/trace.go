package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, TracerIAM, "iam.Resolve",
//	    attribute.String(telemetry.AttrCredentialKind, kind.String()),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Tracer names
const (
	TracerIAM = "wikiauth/services/iam"
)

// Common attribute keys
const (
	AttrPrincipalUID   = "principal.uid"
	AttrPrincipalRole  = "principal.role"
	AttrCredentialKind = "credential.kind"
	AttrRequiredRole   = "authz.required_role"
	AttrAction         = "authz.action"
	AttrUserCreated    = "user.created"
	AttrClaimSynced    = "role.claim_synced"
)
