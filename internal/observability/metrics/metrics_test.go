package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("quota_key", "projects.max"),
		attribute.String("status", "PROCESSED"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" {
			t.Fatalf("expected org_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "PROCESSED", "invoice.paid")
	m.RecordQuotaDenied(context.Background(), "projects.max", "quota_exceeded")
	m.RecordGrantMutation(context.Background(), "created")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookEvent(context.Background(), "FAILED", "")
}

func TestHTTPMetricsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{ServiceName: "test", Environment: "test"})

	m.Observe("post", "/billing/purchases/webhook", 200, 10*time.Millisecond)
	m.Observe("post", "/billing/purchases/webhook", 403, time.Millisecond)

	got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/billing/purchases/webhook", "200"))
	if got != 1 {
		t.Fatalf("expected 1 request with status 200, got %v", got)
	}
	if n := testutil.CollectAndCount(m.requests); n != 2 {
		t.Fatalf("expected 2 series, got %d", n)
	}
}
