package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used for spans started by this package.
const (
	tracerName   = "soup"
	dbTracerName = "soup/db"
)

// DBOperation is the kind of database statement being traced.
type DBOperation string

const (
	// DBOperationQuery is a SELECT.
	DBOperationQuery DBOperation = "query"
	// DBOperationExec is DDL or any statement run for its side effects.
	DBOperationExec DBOperation = "exec"
)

// StartDBSpan creates a new span for a database operation.
// Returns the new context and a function to end the span.
//
// Example usage:
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "documents", tracing.DBOperationQuery)
//	defer endSpan(err)
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	spanName := string(operation)
	if table != "" {
		spanName = spanName + " " + table
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", string(operation)),
		),
	)
	if table != "" {
		span.SetAttributes(attribute.String("db.sql.table", table))
	}

	return ctx, endFunc(span)
}

// StartSpan creates a new internal span.
//
//	ctx, endSpan := tracing.StartSpan(ctx, "soup.get_page")
//	defer endSpan(err)
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, endFunc(span)
}

// StartClientSpan creates a span for a call to a collaborator such as the
// item repository or the scoring service.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
