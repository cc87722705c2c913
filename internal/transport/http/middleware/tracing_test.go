package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func TestTracingContinuesIncomingTrace(t *testing.T) {
	recorder := installRecorder(t)
	gin.SetMode(gin.TestMode)

	var inner trace.SpanContext
	router := gin.New()
	router.Use(Tracing())
	router.GET("/items/:id", func(c *gin.Context) {
		inner = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	if got := rr.Header().Get(TraceIDHeader); got != wantTrace {
		t.Fatalf("expected trace header %s, got %q", wantTrace, got)
	}
	if inner.TraceID().String() != wantTrace {
		t.Fatalf("expected handler context to carry the trace, got %s", inner.TraceID())
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /items/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].SpanKind() != trace.SpanKindServer {
		t.Fatalf("expected server span, got %v", spans[0].SpanKind())
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Fatalf("expected error status for 500, got %v", spans[0].Status().Code)
	}
}

func TestTracingFallsBackToRandomID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(noop.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	router := gin.New()
	router.Use(Tracing())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Body.String() == "" || rr.Body.String() != rr.Header().Get(TraceIDHeader) {
		t.Fatalf("expected generated trace id, body %q header %q", rr.Body.String(), rr.Header().Get(TraceIDHeader))
	}
}
