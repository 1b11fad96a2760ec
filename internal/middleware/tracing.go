package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing creates HTTP middleware that instruments requests with OpenTelemetry spans.
// Incoming W3C traceparent/tracestate headers are honored, so a feed request
// joins the caller's trace.
//
// Span names use the normalized route ("GET /soup") rather than the raw path.
// Place it after RequestID in the chain.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/metrics"
			}),
		)
	}
}

// GetTraceID extracts the trace ID from the request context.
// Returns empty string if no trace is active.
func GetTraceID(r *http.Request) string {
	spanCtx := trace.SpanContextFromContext(r.Context())
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// GetSpanID extracts the span ID from the request context.
// Returns empty string if no span is active.
func GetSpanID(r *http.Request) string {
	spanCtx := trace.SpanContextFromContext(r.Context())
	if spanCtx.IsValid() {
		return spanCtx.SpanID().String()
	}
	return ""
}
