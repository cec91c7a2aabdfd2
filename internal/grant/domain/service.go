package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PurchaseAction string

const (
	PurchaseActionCreated          PurchaseAction = "created"
	PurchaseActionExtended         PurchaseAction = "extended"
	PurchaseActionAlreadyProcessed PurchaseAction = "already_processed"
)

// PurchaseRequest describes a completed one-time purchase of a single-project grant.
type PurchaseRequest struct {
	OrgID             snowflake.ID
	CheckoutSessionID string
	PaymentIntentID   string
	Now               time.Time
}

type PurchaseResult struct {
	Action PurchaseAction
	Grant  *Grant
}

type RevokeAction string

const (
	RevokeActionRevoked           RevokeAction = "revoked"
	RevokeActionExtensionReverted RevokeAction = "extension_reverted"
	RevokeActionAlreadyProcessed  RevokeAction = "already_processed"
	RevokeActionNotFound          RevokeAction = "grant_not_found"
)

type RevokeResult struct {
	Action RevokeAction
	Grant  *Grant
}

type Service interface {
	StartTrial(ctx context.Context, orgID snowflake.ID) (*Grant, error)
	// ApplyPurchase and RevokeByPaymentIntent run inside the caller's transaction.
	ApplyPurchase(ctx context.Context, tx *gorm.DB, req PurchaseRequest) (PurchaseResult, error)
	RevokeByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string, at time.Time) (RevokeResult, error)
}
