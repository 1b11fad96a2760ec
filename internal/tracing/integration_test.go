package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/soup/internal/middleware"
	"github.com/onnwee/soup/internal/soup"
	"github.com/onnwee/soup/internal/tracing"
)

// TestEndToEndTracing serves a feed page behind the HTTP tracing middleware
// and checks that the page, scorer and repository spans join the request trace.
func TestEndToEndTracing(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	scorer := soup.NewInMemoryScorer()
	repo := soup.NewInMemoryItemRepository(scorer, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		repo.Put(soup.Item{
			Kind: soup.KindDocument, ID: id, OwnerID: "u1", Title: id,
			CreatedAt: now, UpdatedAt: now.Add(-time.Duration(i) * time.Minute),
			Document: &soup.DocumentFields{FileType: "md"},
		})
		repo.Grant("u1", id)
	}
	scorer.Record("u1", "b", 5)
	svc := soup.NewService(repo, scorer, soup.Config{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, err := svc.GetPage(r.Context(), soup.Request{UserID: "u1"})
		if err != nil {
			t.Errorf("GetPage: %v", err)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		tracing.AddEvent(r.Context(), "page_written", attribute.Int("items", len(page.Items)))
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/soup", nil)
	rr := httptest.NewRecorder()
	middleware.Tracing("test-service")(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	spans := spanRecorder.Ended()
	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		byName[span.Name()] = span
	}

	for _, name := range []string{
		"GET /soup",
		"soup.get_page",
		"soup.scorer.rank",
		"soup.items.fetch_by_ids",
		"soup.items.fetch_by_sort",
	} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing required span: %s", name)
		}
	}

	if len(spans) > 0 {
		traceID := spans[0].SpanContext().TraceID()
		for i, span := range spans {
			if span.SpanContext().TraceID() != traceID {
				t.Errorf("span %d (%s) has different trace ID", i, span.Name())
			}
		}
	}

	if page, ok := byName["soup.get_page"]; ok {
		var branch string
		for _, attr := range page.Attributes() {
			if attr.Key == "soup.branch" {
				branch = attr.Value.AsString()
			}
		}
		if branch != "relevance" {
			t.Errorf("soup.branch = %q, want relevance", branch)
		}
	}
}

// TestTracingDisabled verifies that span helpers are safe when tracing is off.
func TestTracingDisabled(t *testing.T) {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName: "test-service",
		Enabled:     false,
	})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}

	ctx, endSpan := tracing.StartSpan(context.Background(), "soup.get_page")
	tracing.SetAttributes(ctx, attribute.String("soup.branch", "plain"))
	tracing.AddEvent(ctx, "test-event")
	endSpan(nil)
}

// TestTraceContextPropagation verifies that an incoming W3C traceparent
// header is continued by the HTTP middleware.
func TestTraceContextPropagation(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	otel.SetTextMapPropagator(propagation.TraceContext{})

	var capturedTraceID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = middleware.GetTraceID(r)
		w.WriteHeader(http.StatusOK)
	})

	const parentTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/soup", nil)
	req.Header.Set("traceparent", "00-"+parentTraceID+"-00f067aa0ba902b7-01")
	middleware.Tracing("test-service")(handler).ServeHTTP(httptest.NewRecorder(), req)

	if capturedTraceID != parentTraceID {
		t.Fatalf("trace ID = %q, want the caller's %s", capturedTraceID, parentTraceID)
	}
	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != capturedTraceID {
		t.Errorf("trace ID mismatch: handler captured %s, span has %s", capturedTraceID, got)
	}
}
