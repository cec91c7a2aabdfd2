// Package domain describes hosted checkout sessions for plan purchases.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/plan"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrInvalidInterval     = errors.New("invalid_interval")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrPriceNotConfigured  = errors.New("price_not_configured")
	ErrCheckoutInProgress  = errors.New("checkout_in_progress")
	ErrSessionFailed       = errors.New("checkout_session_failed")
)

const CodeInvalidInput = "INVALID_INPUT"

const (
	MetadataOrgID     = "org_id"
	MetadataUserID    = "user_id"
	MetadataTier      = "tier"
	MetadataInterval  = "interval"
	MetadataGrantType = "grant_type"
)

type SubscriptionCheckoutRequest struct {
	Tier     string `json:"tier" validate:"required,oneof=starter_team team unlimited_team"`
	Interval string `json:"interval" validate:"required,oneof=monthly yearly"`
}

type Session struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// DowngradeError is returned when the org's current usage does not fit the target plan.
type DowngradeError struct {
	Code       string                  `json:"code"`
	Violations []quotadomain.Violation `json:"violations"`
	Usage      quotadomain.Usage       `json:"usage"`
	TargetPlan plan.Plan               `json:"targetPlan"`
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("downgrade to %s blocked by %d quota violation(s)", e.TargetPlan.ID, len(e.Violations))
}

// RateLimitError is returned when the org exhausted its checkout budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "checkout rate limited"
}

// SessionCreator creates hosted checkout sessions.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type Service interface {
	CreateSubscriptionCheckout(ctx context.Context, orgID, userID snowflake.ID, req SubscriptionCheckoutRequest) (*Session, error)
	CreateSingleProjectCheckout(ctx context.Context, orgID, userID snowflake.ID) (*Session, error)
}
