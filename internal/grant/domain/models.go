// Package domain contains persistence models for non-recurring access grants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type GrantType string

const (
	GrantTypeTrial         GrantType = "trial"
	GrantTypeSingleProject GrantType = "single_project"
)

// Precedence orders grant types when more than one is active. Higher wins.
func (t GrantType) Precedence() int {
	switch t {
	case GrantTypeTrial:
		return 2
	case GrantTypeSingleProject:
		return 1
	default:
		return 0
	}
}

const (
	SourcePromotion = "promotion"
	SourcePurchase  = "purchase"
)

// Grant is an internally issued entitlement with a validity window [StartsAt, ExpiresAt).
// Only RevokedAt and, for paid extensions, ExpiresAt change after creation.
type Grant struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID                   snowflake.ID `gorm:"not null;index" json:"orgId"`
	Type                    GrantType    `gorm:"type:text;not null" json:"type"`
	StartsAt                time.Time    `gorm:"not null" json:"startsAt"`
	ExpiresAt               time.Time    `gorm:"not null" json:"expiresAt"`
	RevokedAt               *time.Time   `json:"revokedAt,omitempty"`
	Source                  string       `gorm:"type:text;not null" json:"source"`
	StripeCheckoutSessionID *string      `gorm:"type:text;uniqueIndex" json:"stripeCheckoutSessionId,omitempty"`
	StripePaymentIntentID   *string      `gorm:"type:text;index" json:"stripePaymentIntentId,omitempty"`
	CreatedAt               time.Time    `gorm:"not null" json:"createdAt"`
}

// TableName sets the database table name.
func (Grant) TableName() string { return "access_grants" }

func (g Grant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// IsActive reports now ∈ [StartsAt, ExpiresAt) on a non-revoked grant.
func (g Grant) IsActive(now time.Time) bool {
	if g.IsRevoked() {
		return false
	}
	return !now.Before(g.StartsAt) && now.Before(g.ExpiresAt)
}

// IsExpired reports a non-revoked grant whose window has closed.
func (g Grant) IsExpired(now time.Time) bool {
	if g.IsRevoked() {
		return false
	}
	return !now.Before(g.ExpiresAt)
}

// Extension records one paid extension of a grant. The checkout session is unique so a
// redelivered purchase event cannot extend twice. RevertedAt is set once when the
// extension's payment is refunded.
type Extension struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	GrantID                 snowflake.ID `gorm:"not null;index" json:"grantId"`
	OrgID                   snowflake.ID `gorm:"not null;index" json:"orgId"`
	StripeCheckoutSessionID string       `gorm:"type:text;not null;uniqueIndex" json:"stripeCheckoutSessionId"`
	StripePaymentIntentID   *string      `gorm:"type:text;index" json:"stripePaymentIntentId,omitempty"`
	PreviousExpiresAt       time.Time    `gorm:"not null" json:"previousExpiresAt"`
	NewExpiresAt            time.Time    `gorm:"not null" json:"newExpiresAt"`
	RevertedAt              *time.Time   `json:"revertedAt,omitempty"`
	CreatedAt               time.Time    `gorm:"not null" json:"createdAt"`
}

// TableName sets the database table name.
func (Extension) TableName() string { return "access_grant_extensions" }

// Delta is how much validity the extension added.
func (e Extension) Delta() time.Duration {
	return e.NewExpiresAt.Sub(e.PreviousExpiresAt)
}

// ExtendedExpiry returns max(now, current) + period, so renewing early or late never
// shortens the remaining validity.
func ExtendedExpiry(current, now time.Time, period time.Duration) time.Time {
	base := current
	if now.After(base) {
		base = now
	}
	return base.Add(period)
}
