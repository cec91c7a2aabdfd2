package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/corates/internal/clock"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ctxKey struct{}

func newTestRouter(t *testing.T, table map[EventType]Handler) *Router {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	return &Router{
		db:    db,
		log:   zap.NewNop(),
		clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		table: table,
	}
}

func TestDispatchPassesRequestContextToHandler(t *testing.T) {
	var seen context.Context
	var seenNow time.Time
	r := newTestRouter(t, map[EventType]Handler{
		EventInvoicePaid: func(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
			seen = ctx
			seenNow = hc.Now
			return HandlerResult{Handled: true, Result: "ok"}, nil
		},
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-7")
	res, err := r.Dispatch(ctx, &stripe.Event{ID: "evt_1", Type: stripe.EventType(EventInvoicePaid)})
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, "req-7", seen.Value(ctxKey{}))
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), seenNow)
}

func TestDispatchSeparatesDomainAndInfrastructureErrors(t *testing.T) {
	infra := errors.New("connection reset")
	r := newTestRouter(t, map[EventType]Handler{
		EventInvoicePaid: func(context.Context, HandlerContext) (HandlerResult, error) {
			return HandlerResult{}, fail(webhookdomain.LinkContext{}, "org %s unknown", "42")
		},
		EventInvoicePaymentFailed: func(context.Context, HandlerContext) (HandlerResult, error) {
			return HandlerResult{}, infra
		},
	})

	res, err := r.Dispatch(context.Background(), &stripe.Event{ID: "evt_1", Type: stripe.EventType(EventInvoicePaid)})
	require.NoError(t, err)
	require.Equal(t, webhookdomain.ResultHandlerFailed, res.Result)
	require.Equal(t, "org 42 unknown", res.Error)

	_, err = r.Dispatch(context.Background(), &stripe.Event{ID: "evt_2", Type: stripe.EventType(EventInvoicePaymentFailed)})
	require.ErrorIs(t, err, infra)
}

func TestDispatchAcknowledgesUnknownType(t *testing.T) {
	r := newTestRouter(t, map[EventType]Handler{})
	res, err := r.Dispatch(context.Background(), &stripe.Event{ID: "evt_1", Type: "product.created"})
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, webhookdomain.ResultUnhandledType, res.Result)
}
