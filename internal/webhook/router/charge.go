package router

import (
	"context"

	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// handleChargeRefunded revokes the grant, or reverts the extension, bought with the
// refunded payment. Partial refunds leave both in place.
func (r *Router) handleChargeRefunded(ctx context.Context, hc HandlerContext) (HandlerResult, error) {
	var ch charge
	if err := decode(hc.Event, &ch); err != nil {
		return HandlerResult{}, err
	}
	paymentIntentID := ch.PaymentIntent.String()
	linkCtx := webhookdomain.LinkContext{
		StripeCustomerID: ch.Customer.String(),
		Extra: map[string]any{
			"charge_id":         ch.ID,
			"payment_intent_id": paymentIntentID,
		},
	}
	if !ch.Refunded {
		return HandlerResult{Handled: true, Result: "partial_refund_ignored", LedgerContext: linkCtx}, nil
	}

	var revoke grantdomain.RevokeResult
	err := hc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		revoke, err = r.grants.RevokeByPaymentIntent(ctx, tx, paymentIntentID, hc.Now)
		return err
	})
	if err != nil {
		return HandlerResult{}, err
	}

	res := HandlerResult{
		Handled:       true,
		Result:        string(revoke.Action),
		Action:        string(revoke.Action),
		LedgerContext: linkCtx,
	}
	if revoke.Grant != nil {
		res.GrantID = revoke.Grant.ID
		res.LedgerContext.GrantID = revoke.Grant.ID
		res.LedgerContext.OrgID = revoke.Grant.OrgID
	}
	hc.Log.Info("refund applied",
		zap.String("payment_intent_id", paymentIntentID),
		zap.String("action", res.Action),
	)
	return res, nil
}
