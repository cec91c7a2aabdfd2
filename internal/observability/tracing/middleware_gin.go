package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/corates/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Handlers publish these gin keys so the request span carries the billing outcome.
const (
	ginKeyStripeEventType = "stripe_event_type"
	ginKeyLedgerStatus    = "ledger_status"
	ginKeyQuotaKey        = "quota_key"
)

var billingContextKeys = []struct {
	ginKey string
	attr   attribute.Key
}{
	{ginKey: ginKeyStripeEventType, attr: "stripe.event_type"},
	{ginKey: ginKeyLedgerStatus, attr: "ledger.status"},
	{ginKey: ginKeyQuotaKey, attr: "quota.key"},
}

// GinMiddleware instruments inbound HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("corates/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		requestID := obscontext.RequestIDFromContext(ctx)
		if requestID != "" {
			member, err := baggage.NewMember("request_id", requestID)
			if err == nil {
				bag, bagErr := baggage.New(member)
				if bagErr == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		for _, key := range billingContextKeys {
			if value := strings.TrimSpace(c.GetString(key.ginKey)); value != "" {
				attrs = append(attrs, attribute.String(string(key.attr), value))
			}
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if quotaKey := c.GetString(ginKeyQuotaKey); quotaKey != "" {
			span.AddEvent("quota.denied", trace.WithAttributes(attribute.String("quota.key", quotaKey)))
		}

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}
