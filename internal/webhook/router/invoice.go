package router

import (
	"context"

	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
)

func (r *Router) handleInvoicePaymentFailed(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	return r.handleInvoice(ctx, hc, func(sub *subscriptiondomain.Subscription) (subscriptiondomain.SubscriptionStatus, string) {
		switch sub.Status {
		case subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.SubscriptionStatusTrialing:
			return subscriptiondomain.SubscriptionStatusPastDue, "subscription_past_due"
		default:
			return "", "no_status_change"
		}
	})
}

func (r *Router) handleInvoicePaid(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	return r.handleInvoice(ctx, hc, func(sub *subscriptiondomain.Subscription) (subscriptiondomain.SubscriptionStatus, string) {
		switch sub.Status {
		case subscriptiondomain.SubscriptionStatusPastDue, subscriptiondomain.SubscriptionStatusUnpaid:
			return subscriptiondomain.SubscriptionStatusActive, "subscription_reactivated"
		default:
			return "", "no_status_change"
		}
	})
}

func (r *Router) handleInvoice(
	ctx context.Context,
	hc HandlerContext,
	decide func(sub *subscriptiondomain.Subscription) (subscriptiondomain.SubscriptionStatus, string),
) (HandlerResult, error) {
	var inv invoice
	if err := decode(hc.Event, &inv); err != nil {
		return HandlerResult{}, err
	}
	linkCtx := webhookdomain.LinkContext{
		StripeCustomerID:     inv.Customer.String(),
		StripeSubscriptionID: inv.subscriptionID(),
		Extra:                map[string]any{"invoice_id": inv.ID},
	}
	if linkCtx.StripeSubscriptionID == "" {
		return HandlerResult{Handled: false, Result: "invoice_without_subscription", LedgerContext: linkCtx}, nil
	}

	result, err := r.transitionSubscription(ctx, hc, linkCtx.StripeSubscriptionID, &linkCtx, decide)
	if err != nil {
		return HandlerResult{}, err
	}
	return HandlerResult{Handled: true, Result: result, LedgerContext: linkCtx}, nil
}
