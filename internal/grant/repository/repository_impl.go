package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() grantdomain.Repository {
	return &repo{}
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]grantdomain.Grant, error) {
	var items []grantdomain.Grant
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*grantdomain.Grant, error) {
	var grant grantdomain.Grant
	return first(db.WithContext(ctx).Where("id = ?", id), &grant)
}

func (r *repo) FindByCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string) (*grantdomain.Grant, error) {
	var grant grantdomain.Grant
	return first(db.WithContext(ctx).Where("stripe_checkout_session_id = ?", sessionID), &grant)
}

func (r *repo) FindExtensionByCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string) (*grantdomain.Extension, error) {
	return firstExtension(db.WithContext(ctx).Where("stripe_checkout_session_id = ?", sessionID))
}

func (r *repo) FindExtensionByPaymentIntent(ctx context.Context, db *gorm.DB, paymentIntentID string) (*grantdomain.Extension, error) {
	return firstExtension(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Order("id DESC"))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*grantdomain.Grant, error) {
	var grant grantdomain.Grant
	return first(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id), &grant)
}

func (r *repo) FindLatestByTypeForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, grantType grantdomain.GrantType) (*grantdomain.Grant, error) {
	var grant grantdomain.Grant
	query := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND type = ? AND revoked_at IS NULL", orgID, grantType).
		Order("expires_at DESC").
		Order("id DESC")
	return first(query, &grant)
}

func (r *repo) FindByPaymentIntent(ctx context.Context, db *gorm.DB, paymentIntentID string) (*grantdomain.Grant, error) {
	var grant grantdomain.Grant
	return first(db.WithContext(ctx).Where("stripe_payment_intent_id = ?", paymentIntentID).Order("id DESC"), &grant)
}

func (r *repo) ExistsByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, grantType grantdomain.GrantType) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&grantdomain.Grant{}).
		Where("org_id = ? AND type = ?", orgID, grantType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, grant *grantdomain.Grant) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertExtension(ctx context.Context, db *gorm.DB, ext *grantdomain.Extension) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ext)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt time.Time) error {
	return db.WithContext(ctx).
		Model(&grantdomain.Grant{}).
		Where("id = ?", id).
		Update("expires_at", expiresAt).Error
}

func (r *repo) Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&grantdomain.Grant{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).Error
}

func (r *repo) RevertExtension(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&grantdomain.Extension{}).
		Where("id = ? AND reverted_at IS NULL", id).
		Update("reverted_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func firstExtension(query *gorm.DB) (*grantdomain.Extension, error) {
	var ext grantdomain.Extension
	err := query.First(&ext).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ext, nil
}

func first(query *gorm.DB, grant *grantdomain.Grant) (*grantdomain.Grant, error) {
	err := query.First(grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}
