package router

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	metadataOrgID     = "org_id"
	metadataTier      = "tier"
	metadataGrantType = "grant_type"

	checkoutModePayment      = "payment"
	checkoutModeSubscription = "subscription"
)

func (r *Router) handleCheckoutSessionCompleted(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	var session checkoutSession
	if err := decode(hc.Event, &session); err != nil {
		return HandlerResult{}, err
	}

	linkCtx := webhookdomain.LinkContext{
		CheckoutSessionID: session.ID,
		StripeCustomerID:  session.Customer.String(),
	}
	if strings.TrimSpace(session.ID) == "" {
		return HandlerResult{}, fail(linkCtx, "checkout session has no id")
	}

	orgID, ok := parseOrgID(session.ClientReferenceID, session.Metadata[metadataOrgID])
	if !ok {
		return HandlerResult{}, fail(linkCtx, "checkout session %s has no organization reference", session.ID)
	}
	linkCtx.OrgID = orgID

	switch session.Mode {
	case checkoutModePayment:
		return r.applySingleProjectPurchase(ctx, hc, session, linkCtx)
	case checkoutModeSubscription:
		return r.linkSubscriptionCustomer(ctx, hc, session, linkCtx)
	default:
		return HandlerResult{Handled: false, Result: "unsupported_checkout_mode", LedgerContext: linkCtx}, nil
	}
}

func (r *Router) applySingleProjectPurchase(ctx context.Context, hc HandlerContext, session checkoutSession, linkCtx webhookdomain.LinkContext) (HandlerResult, error) {
	if session.Metadata[metadataGrantType] != string(grantdomain.GrantTypeSingleProject) {
		return HandlerResult{Handled: false, Result: "unsupported_grant_type", LedgerContext: linkCtx}, nil
	}
	if session.PaymentStatus == "unpaid" {
		return HandlerResult{Handled: true, Result: "payment_pending", LedgerContext: linkCtx}, nil
	}

	var purchase grantdomain.PurchaseResult
	err := hc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		purchase, err = r.grants.ApplyPurchase(ctx, tx, grantdomain.PurchaseRequest{
			OrgID:             linkCtx.OrgID,
			CheckoutSessionID: session.ID,
			PaymentIntentID:   session.PaymentIntent.String(),
			Now:               hc.Now,
		})
		if err != nil {
			if errors.Is(err, grantdomain.ErrInvalidOrgID) || errors.Is(err, grantdomain.ErrMissingSession) {
				return fail(linkCtx, "%v", err)
			}
			return err
		}

		if customerID := session.Customer.String(); customerID != "" {
			if _, err := r.orgs.LinkStripeCustomer(ctx, tx, linkCtx.OrgID, customerID); err != nil {
				if !errors.Is(err, organizationdomain.ErrCustomerLinked) {
					return err
				}
				hc.Log.Warn("customer belongs to another organization", zap.String("stripe_customer_id", customerID))
			}
		}
		return nil
	})
	if err != nil {
		return HandlerResult{}, err
	}

	res := HandlerResult{
		Handled:       true,
		Result:        "single_project_purchase",
		Action:        string(purchase.Action),
		LedgerContext: linkCtx,
	}
	if purchase.Grant != nil {
		res.GrantID = purchase.Grant.ID
		res.LedgerContext.GrantID = purchase.Grant.ID
	}
	hc.Log.Info("single project purchase applied",
		zap.String("org_id", linkCtx.OrgID.String()),
		zap.String("action", res.Action),
		zap.String("grant_id", res.GrantID.String()),
	)
	return res, nil
}

// linkSubscriptionCustomer records the customer. The subscription row itself arrives
// with customer.subscription.created.
func (r *Router) linkSubscriptionCustomer(ctx context.Context, hc HandlerContext, session checkoutSession, linkCtx webhookdomain.LinkContext) (HandlerResult, error) {
	customerID := session.Customer.String()
	linkCtx.StripeSubscriptionID = session.Subscription.String()
	if customerID == "" {
		return HandlerResult{}, fail(linkCtx, "subscription checkout %s has no customer", session.ID)
	}

	var link organizationdomain.LinkResult
	err := hc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = r.orgs.LinkStripeCustomer(ctx, tx, linkCtx.OrgID, customerID)
		switch {
		case errors.Is(err, organizationdomain.ErrCustomerLinked),
			errors.Is(err, organizationdomain.ErrNotFound),
			errors.Is(err, organizationdomain.ErrInvalidCustomer):
			return fail(linkCtx, "%v", err)
		default:
			return err
		}
	})
	if err != nil {
		return HandlerResult{}, err
	}

	return HandlerResult{Handled: true, Result: string(link), LedgerContext: linkCtx}, nil
}

// parseOrgID returns the first candidate that parses as an organization id.
func parseOrgID(candidates ...string) (snowflake.ID, bool) {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := snowflake.ParseString(raw)
		if err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
