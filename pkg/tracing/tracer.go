// Package tracing provides a shared OTel tracer helper for all domain packages.
//
// When no TracerProvider is registered (e.g. in tests or local dev without OTel),
// the global no-op provider is used automatically and all calls are inert.
// Domain packages should call tracing.Start rather than using the OTel API
// directly.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nexus"

// Attribute keys shared by the CRM sync spans.
const (
	AttrOrganizationID = attribute.Key("nexus.organization.id")
	AttrProvider       = attribute.Key("nexus.crm.provider")
	AttrDirection      = attribute.Key("nexus.crm.direction")
	AttrEntity         = attribute.Key("nexus.crm.entity")
)

// Start creates a new OTel span as a child of the span in ctx, or a root span
// when ctx carries no active span. The caller MUST call span.End() when the
// operation is done (typically via defer span.End()).
//
// Example:
//
//	ctx, span := tracing.Start(ctx, "crmsync.phase",
//	    tracing.AttrProvider.String("hubspot"),
//	    tracing.AttrEntity.String("donors"),
//	)
//	defer span.End()
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
