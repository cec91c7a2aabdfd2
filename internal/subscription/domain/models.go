// Package domain contains persistence models for provider-managed subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// ParseStatus maps a provider status string. Unknown values are reported as not ok.
func ParseStatus(raw string) (SubscriptionStatus, bool) {
	switch s := SubscriptionStatus(raw); s {
	case SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusPaused,
		SubscriptionStatusUnpaid,
		SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired:
		return s, true
	default:
		return "", false
	}
}

// Subscription is a recurring billing relationship mapped to a plan.
// Rows only ever change status; they are never deleted.
type Subscription struct {
	ID                   snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrgID                snowflake.ID       `gorm:"not null;index" json:"orgId"`
	PlanID               string             `gorm:"type:text;not null" json:"planId"`
	Status               SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	StripeSubscriptionID string             `gorm:"type:text;not null;uniqueIndex" json:"stripeSubscriptionId"`
	StripeCustomerID     string             `gorm:"type:text;not null;default:''" json:"stripeCustomerId"`
	PeriodStart          *time.Time         `json:"periodStart,omitempty"`
	PeriodEnd            *time.Time         `json:"periodEnd,omitempty"`
	CancelAtPeriodEnd    bool               `gorm:"not null;default:false" json:"cancelAtPeriodEnd"`
	LastEventAt          *time.Time         `json:"lastEventAt,omitempty"`
	CreatedAt            time.Time          `gorm:"not null" json:"createdAt"`
	UpdatedAt            time.Time          `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsActive reports whether the subscription confers access at now.
// trialing is always active; active is active unless it was set to cancel and the
// period has ended; past_due keeps access until the period ends.
func (s Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusTrialing:
		return true
	case SubscriptionStatusActive:
		if s.CancelAtPeriodEnd && s.PeriodEnd != nil && !now.Before(*s.PeriodEnd) {
			return false
		}
		return true
	case SubscriptionStatusPastDue:
		return s.PeriodEnd != nil && now.Before(*s.PeriodEnd)
	default:
		return false
	}
}
