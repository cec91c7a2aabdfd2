package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareRecordsBillingOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/billing/purchases/webhook", func(c *gin.Context) {
		c.Set(ginKeyStripeEventType, "checkout.session.completed")
		c.Set(ginKeyLedgerStatus, "PROCESSED")
		c.Set("stripe_signature", "t=1,v1=secret")
		c.Status(http.StatusOK)
	})
	r.POST("/projects", func(c *gin.Context) {
		c.Set(ginKeyQuotaKey, "projects.max")
		c.Status(http.StatusForbidden)
	})

	for _, path := range []string{"/billing/purchases/webhook", "/projects"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	webhookAttrs := attributeMap(spans[0].Attributes())
	if webhookAttrs["stripe.event_type"] != "checkout.session.completed" {
		t.Fatalf("missing event type: %v", webhookAttrs)
	}
	if webhookAttrs["ledger.status"] != "PROCESSED" {
		t.Fatalf("missing ledger status: %v", webhookAttrs)
	}
	if spans[0].Name() != "HTTP POST /billing/purchases/webhook" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}

	events := spans[1].Events()
	if len(events) != 1 || events[0].Name != "quota.denied" {
		t.Fatalf("expected quota.denied event, got %v", events)
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.Emit()
	}
	return out
}
