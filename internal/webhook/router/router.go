// Package router dispatches verified payment provider events to their handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EventType string

const (
	EventCheckoutSessionCompleted    EventType = "checkout.session.completed"
	EventCustomerSubscriptionCreated EventType = "customer.subscription.created"
	EventCustomerSubscriptionUpdated EventType = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventInvoicePaymentFailed        EventType = "invoice.payment_failed"
	EventInvoicePaid                 EventType = "invoice.paid"
	EventChargeRefunded              EventType = "charge.refunded"
)

// HandlerContext is what a handler sees of the outside world.
type HandlerContext struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Now   time.Time
	Event *stripe.Event
}

// EventTime is the provider's creation time of the event, or Now when absent.
func (hc HandlerContext) EventTime() time.Time {
	if hc.Event != nil && hc.Event.Created > 0 {
		return time.Unix(hc.Event.Created, 0).UTC()
	}
	return hc.Now
}

type HandlerResult struct {
	Handled bool
	Result  string
	Action  string
	GrantID snowflake.ID
	// Error is a domain failure. The ledger row is marked FAILED and the provider retries.
	Error         string
	LedgerContext webhookdomain.LinkContext
}

// Handler returns a Go error only for infrastructure failures.
type Handler func(ctx context.Context, hc HandlerContext) (HandlerResult, error)

// domainError aborts a handler transaction without being treated as an infrastructure failure.
type domainError struct {
	msg string
	ctx webhookdomain.LinkContext
}

func (e *domainError) Error() string { return e.msg }

func fail(linkCtx webhookdomain.LinkContext, format string, args ...any) error {
	return &domainError{msg: fmt.Sprintf(format, args...), ctx: linkCtx}
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Config           config.Config
	Clock            clock.Clock
	GenID            *snowflake.Node
	Grants           grantdomain.Service
	Organizations    organizationdomain.Service
	SubscriptionRepo subscriptiondomain.Repository
}

type Router struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	clock   clock.Clock
	genID   *snowflake.Node
	grants  grantdomain.Service
	orgs    organizationdomain.Service
	subRepo subscriptiondomain.Repository

	table map[EventType]Handler
}

func NewRouter(p Params) *Router {
	r := &Router{
		db:      p.DB,
		log:     p.Log.Named("webhook.router"),
		cfg:     p.Config,
		clock:   p.Clock,
		genID:   p.GenID,
		grants:  p.Grants,
		orgs:    p.Organizations,
		subRepo: p.SubscriptionRepo,
	}
	r.table = map[EventType]Handler{
		EventCheckoutSessionCompleted:    r.handleCheckoutSessionCompleted,
		EventCustomerSubscriptionCreated: r.handleSubscriptionUpsert,
		EventCustomerSubscriptionUpdated: r.handleSubscriptionUpsert,
		EventCustomerSubscriptionDeleted: r.handleSubscriptionDeleted,
		EventInvoicePaymentFailed:        r.handleInvoicePaymentFailed,
		EventInvoicePaid:                 r.handleInvoicePaid,
		EventChargeRefunded:              r.handleChargeRefunded,
	}
	return r
}

// Handles reports whether the event type has a handler.
func (r *Router) Handles(t EventType) bool {
	_, ok := r.table[t]
	return ok
}

// Dispatch runs the handler for event. Unknown types are acknowledged without side effects.
func (r *Router) Dispatch(ctx context.Context, event *stripe.Event) (HandlerResult, error) {
	eventType := EventType(event.Type)
	handler, ok := r.table[eventType]
	if !ok {
		r.log.Info("unhandled event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		return HandlerResult{Handled: false, Result: webhookdomain.ResultUnhandledType}, nil
	}

	hc := HandlerContext{
		DB:    r.db.WithContext(ctx),
		Log:   r.log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type))),
		Now:   r.clock.Now(),
		Event: event,
	}

	res, err := handler(ctx, hc)
	var de *domainError
	if errors.As(err, &de) {
		hc.Log.Warn("event rejected", zap.String("reason", de.msg))
		return HandlerResult{
			Handled:       true,
			Result:        webhookdomain.ResultHandlerFailed,
			Error:         de.msg,
			LedgerContext: de.ctx,
		}, nil
	}
	if err != nil {
		return HandlerResult{}, err
	}
	if res.Error != "" {
		hc.Log.Warn("event rejected", zap.String("reason", res.Error))
	}
	return res, nil
}

func decode(event *stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return &domainError{msg: "event has no data object"}
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return &domainError{msg: fmt.Sprintf("decode %s: %v", event.Type, err)}
	}
	return nil
}
