package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.findByStripeID(ctx, db, stripeSubscriptionID, false)
}

func (r *repo) FindByStripeIDForUpdate(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.findByStripeID(ctx, db, stripeSubscriptionID, true)
}

func (r *repo) findByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string, lock bool) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	query := db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"org_id":               sub.OrgID,
			"plan_id":              sub.PlanID,
			"status":               sub.Status,
			"stripe_customer_id":   sub.StripeCustomerID,
			"period_start":         sub.PeriodStart,
			"period_end":           sub.PeriodEnd,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"last_event_at":        sub.LastEventAt,
			"updated_at":           sub.UpdatedAt,
		}).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, eventAt time.Time) error {
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"last_event_at": eventAt,
			"updated_at":    time.Now().UTC(),
		}).Error
}
