package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const resultStaleEvent = "stale_event_ignored"

// handleSubscriptionUpsert applies customer.subscription.created and .updated.
func (r *Router) handleSubscriptionUpsert(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	var obj subscriptionObject
	if err := decode(hc.Event, &obj); err != nil {
		return HandlerResult{}, err
	}
	linkCtx := webhookdomain.LinkContext{
		StripeSubscriptionID: obj.ID,
		StripeCustomerID:     obj.Customer.String(),
	}
	if strings.TrimSpace(obj.ID) == "" {
		return HandlerResult{}, fail(linkCtx, "subscription has no id")
	}

	status, ok := subscriptiondomain.ParseStatus(obj.Status)
	if !ok {
		return HandlerResult{}, fail(linkCtx, "unknown subscription status %q", obj.Status)
	}
	planID, err := r.subscriptionPlan(obj)
	if err != nil {
		return HandlerResult{}, fail(linkCtx, "%v", err)
	}
	eventAt := hc.EventTime()
	periodStart, periodEnd := obj.period()

	var result string
	err = hc.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := r.subRepo.FindByStripeIDForUpdate(ctx, tx, obj.ID)
		if err != nil {
			return err
		}

		if existing != nil {
			linkCtx.OrgID = existing.OrgID
			if isStale(existing, eventAt) {
				result = resultStaleEvent
				return nil
			}
			existing.PlanID = planID
			existing.Status = status
			existing.PeriodStart = periodStart
			existing.PeriodEnd = periodEnd
			existing.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
			if c := obj.Customer.String(); c != "" {
				existing.StripeCustomerID = c
			}
			existing.LastEventAt = &eventAt
			existing.UpdatedAt = hc.Now
			if err := r.subRepo.Update(ctx, tx, existing); err != nil {
				return err
			}
			result = "subscription_updated"
			return nil
		}

		orgID, err := r.subscriptionOrg(ctx, hc, tx, obj)
		if err != nil {
			return err
		}
		if orgID == 0 {
			return fail(linkCtx, "subscription %s cannot be mapped to an organization", obj.ID)
		}
		linkCtx.OrgID = orgID

		if c := obj.Customer.String(); c != "" {
			if _, err := r.orgs.LinkStripeCustomer(ctx, tx, orgID, c); err != nil {
				if errors.Is(err, organizationdomain.ErrCustomerLinked) || errors.Is(err, organizationdomain.ErrNotFound) {
					return fail(linkCtx, "%v", err)
				}
				return err
			}
		}

		sub := &subscriptiondomain.Subscription{
			ID:                   r.genID.Generate(),
			OrgID:                orgID,
			PlanID:               planID,
			Status:               status,
			StripeSubscriptionID: obj.ID,
			StripeCustomerID:     obj.Customer.String(),
			PeriodStart:          periodStart,
			PeriodEnd:            periodEnd,
			CancelAtPeriodEnd:    obj.CancelAtPeriodEnd,
			LastEventAt:          &eventAt,
			CreatedAt:            hc.Now,
			UpdatedAt:            hc.Now,
		}
		if err := r.subRepo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		result = "subscription_created"
		return nil
	})
	if err != nil {
		return HandlerResult{}, err
	}

	hc.Log.Info("subscription applied",
		zap.String("org_id", linkCtx.OrgID.String()),
		zap.String("stripe_subscription_id", obj.ID),
		zap.String("plan_id", planID),
		zap.String("status", string(status)),
		zap.String("result", result),
	)
	return HandlerResult{Handled: true, Result: result, LedgerContext: linkCtx}, nil
}

func (r *Router) handleSubscriptionDeleted(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	var obj subscriptionObject
	if err := decode(hc.Event, &obj); err != nil {
		return HandlerResult{}, err
	}
	linkCtx := webhookdomain.LinkContext{
		StripeSubscriptionID: obj.ID,
		StripeCustomerID:     obj.Customer.String(),
	}
	if strings.TrimSpace(obj.ID) == "" {
		return HandlerResult{}, fail(linkCtx, "subscription has no id")
	}

	result, err := r.transitionSubscription(ctx, hc, obj.ID, &linkCtx, func(sub *subscriptiondomain.Subscription) (subscriptiondomain.SubscriptionStatus, string) {
		if sub.Status == subscriptiondomain.SubscriptionStatusCanceled {
			return "", "already_canceled"
		}
		return subscriptiondomain.SubscriptionStatusCanceled, "subscription_canceled"
	})
	if err != nil {
		return HandlerResult{}, err
	}
	return HandlerResult{Handled: true, Result: result, LedgerContext: linkCtx}, nil
}

// transitionSubscription loads the subscription under lock and applies the status decide returns.
// An empty status leaves the row untouched.
func (r *Router) transitionSubscription(
	ctx context.Context,
	hc HandlerContext,
	stripeSubscriptionID string,
	linkCtx *webhookdomain.LinkContext,
	decide func(sub *subscriptiondomain.Subscription) (subscriptiondomain.SubscriptionStatus, string),
) (string, error) {
	eventAt := hc.EventTime()
	var result string
	err := hc.DB.Transaction(func(tx *gorm.DB) error {
		sub, err := r.subRepo.FindByStripeIDForUpdate(ctx, tx, stripeSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			result = "subscription_not_found"
			return nil
		}
		linkCtx.OrgID = sub.OrgID
		if isStale(sub, eventAt) {
			result = resultStaleEvent
			return nil
		}

		next, outcome := decide(sub)
		result = outcome
		if next == "" {
			return nil
		}
		return r.subRepo.UpdateStatus(ctx, tx, sub.ID, next, eventAt)
	})
	return result, err
}

// subscriptionPlan prefers the tier in metadata and falls back to the price mapping.
func (r *Router) subscriptionPlan(obj subscriptionObject) (string, error) {
	if tier := strings.ToLower(strings.TrimSpace(obj.Metadata[metadataTier])); tier != "" {
		if plan.IsPaidTier(tier) {
			return tier, nil
		}
		return "", errors.New("unknown tier " + tier)
	}
	priceID := obj.firstPriceID()
	tier, _, ok := r.cfg.PriceTier(priceID)
	if !ok || !plan.IsPaidTier(tier) {
		return "", errors.New("unknown price " + priceID)
	}
	return tier, nil
}

func (r *Router) subscriptionOrg(ctx context.Context, hc HandlerContext, tx *gorm.DB, obj subscriptionObject) (snowflake.ID, error) {
	if id, ok := parseOrgID(obj.Metadata[metadataOrgID]); ok {
		return id, nil
	}
	org, err := r.orgs.FindByStripeCustomer(ctx, tx, obj.Customer.String())
	if err != nil {
		return 0, err
	}
	if org == nil {
		return 0, nil
	}
	return org.ID, nil
}

// isStale reports an event older than the last one applied to the subscription.
func isStale(sub *subscriptiondomain.Subscription, eventAt time.Time) bool {
	return sub.LastEventAt != nil && eventAt.Before(*sub.LastEventAt)
}
