// Package domain contains the webhook ledger: one row per inbound payment provider request.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type LedgerStatus string

const (
	StatusReceived          LedgerStatus = "RECEIVED"
	StatusIgnoredUnverified LedgerStatus = "IGNORED_UNVERIFIED"
	StatusSkippedDuplicate  LedgerStatus = "SKIPPED_DUPLICATE"
	StatusIgnoredTestMode   LedgerStatus = "IGNORED_TEST_MODE"
	StatusProcessed         LedgerStatus = "PROCESSED"
	StatusFailed            LedgerStatus = "FAILED"
)

func (s LedgerStatus) IsTerminal() bool {
	return s != StatusReceived && s != ""
}

// LedgerEntry is appended once and then updated; it is never deleted.
//
// DedupeHash and DedupeEventID are the claim columns. They hold PayloadHash and
// StripeEventID while the row owns the delivery and are cleared when the row ends
// FAILED or fails verification, so the provider's retry is processed.
type LedgerEntry struct {
	ID                   snowflake.ID      `gorm:"primaryKey" json:"id"`
	PayloadHash          string            `gorm:"type:text;not null;index" json:"payloadHash"`
	DedupeHash           *string           `gorm:"type:text;uniqueIndex:ux_stripe_webhook_events_dedupe_hash" json:"-"`
	StripeEventID        *string           `gorm:"type:text;index" json:"stripeEventId,omitempty"`
	DedupeEventID        *string           `gorm:"type:text;uniqueIndex:ux_stripe_webhook_events_dedupe_event_id" json:"-"`
	SignaturePresent     bool              `gorm:"not null" json:"signaturePresent"`
	Route                string            `gorm:"type:text;not null" json:"route"`
	RequestID            string            `gorm:"type:text" json:"requestId,omitempty"`
	Status               LedgerStatus      `gorm:"type:text;not null;index" json:"status"`
	Type                 *string           `gorm:"type:text;index" json:"type,omitempty"`
	Livemode             *bool             `json:"livemode,omitempty"`
	EventCreatedAt       *time.Time        `json:"eventCreatedAt,omitempty"`
	Error                *string           `gorm:"type:text" json:"error,omitempty"`
	HTTPStatus           int               `gorm:"not null" json:"httpStatus"`
	Handled              *bool             `json:"handled,omitempty"`
	Result               *string           `gorm:"type:text" json:"result,omitempty"`
	OrgID                *snowflake.ID     `gorm:"index" json:"orgId,omitempty"`
	StripeSubscriptionID *string           `gorm:"type:text" json:"stripeSubscriptionId,omitempty"`
	StripeCustomerID     *string           `gorm:"type:text" json:"stripeCustomerId,omitempty"`
	CheckoutSessionID    *string           `gorm:"type:text" json:"checkoutSessionId,omitempty"`
	GrantID              *snowflake.ID     `json:"grantId,omitempty"`
	Context              datatypes.JSONMap `json:"context,omitempty"`
	ReceivedAt           time.Time         `gorm:"not null" json:"receivedAt"`
	ProcessedAt          *time.Time        `json:"processedAt,omitempty"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "stripe_webhook_events" }

// LinkContext carries the identifiers a handler touched, for audit queries.
type LinkContext struct {
	OrgID                snowflake.ID
	StripeSubscriptionID string
	StripeCustomerID     string
	CheckoutSessionID    string
	GrantID              snowflake.ID
	Extra                map[string]any
}
