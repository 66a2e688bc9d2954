package opentelemetry

import (
	"context"
	"maps"
	"strings"
	"unicode/utf8"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the tracer registered for the given component name under the
// lib-transact instrumentation scope.
func Tracer(component string) trace.Tracer {
	if component == "" {
		return otel.Tracer(constant.TelemetrySDKName)
	}

	return otel.Tracer(constant.TelemetrySDKName + "/" + component)
}

// HandleSpanError sets the status of the span to error and records the error.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && *span != nil && err != nil {
		(*span).SetStatus(codes.Error, sanitizeUTF8String(message+": "+err.Error()))
		(*span).RecordError(err)
	}
}

// HandleSpanEvent adds an event to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil && *span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// InjectQueueTraceContext returns the W3C trace headers for the span in ctx.
func InjectQueueTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.HeaderCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make(map[string]string, len(carrier))

	for k, v := range carrier {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return headers
}

// ExtractQueueTraceContext returns ctx enriched with the trace context found in headers.
func ExtractQueueTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	carrier := propagation.HeaderCarrier{}
	for k, v := range headers {
		carrier.Set(k, v)
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// PrepareQueueHeaders copies baseHeaders and adds the trace context of ctx.
// The result is suitable for an amqp.Table.
func PrepareQueueHeaders(ctx context.Context, baseHeaders map[string]any) map[string]any {
	headers := make(map[string]any, len(baseHeaders)+2)

	maps.Copy(headers, baseHeaders)

	for k, v := range InjectQueueTraceContext(ctx) {
		headers[k] = v
	}

	return headers
}

// ExtractTraceContextFromQueueHeaders reads string-valued entries of an
// amqp.Table and extracts their trace context into baseCtx.
func ExtractTraceContextFromQueueHeaders(baseCtx context.Context, amqpHeaders map[string]any) context.Context {
	if len(amqpHeaders) == 0 {
		return baseCtx
	}

	traceHeaders := make(map[string]string)

	for k, v := range amqpHeaders {
		if str, ok := v.(string); ok {
			traceHeaders[k] = str
		}
	}

	return ExtractQueueTraceContext(baseCtx, traceHeaders)
}

// GetTraceIDFromContext returns the trace id of the active span, or "".
func GetTraceIDFromContext(ctx context.Context) string {
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if !spanContext.IsValid() {
		return ""
	}

	return spanContext.TraceID().String()
}

func sanitizeUTF8String(s string) string {
	if !utf8.ValidString(s) {
		return strings.ToValidUTF8(s, "�")
	}

	return s
}
