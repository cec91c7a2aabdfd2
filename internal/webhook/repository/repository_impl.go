package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"github.com/smallbiznis/corates/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() webhookdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *webhookdomain.LedgerEntry) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindClaimHolder(ctx context.Context, db *gorm.DB, column webhookdomain.ClaimColumn, value string) (*webhookdomain.LedgerEntry, error) {
	var entry webhookdomain.LedgerEntry
	err := db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: string(column)}, Value: value}).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) ExpireClaim(ctx context.Context, db *gorm.DB, id snowflake.ID, staleBefore time.Time, fields map[string]any) (bool, error) {
	result := db.WithContext(ctx).
		Model(&webhookdomain.LedgerEntry{}).
		Where("id = ? AND status = ? AND received_at < ?", id, webhookdomain.StatusReceived, staleBefore).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClaimEvent(ctx context.Context, conn *gorm.DB, id snowflake.ID, eventID string) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&webhookdomain.LedgerEntry{}).
		Where("id = ?", id).
		Update("dedupe_event_id", eventID)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&webhookdomain.LedgerEntry{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*webhookdomain.LedgerEntry, error) {
	var entry webhookdomain.LedgerEntry
	err := db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, q webhookdomain.ListQuery) ([]webhookdomain.LedgerEntry, error) {
	query := db.WithContext(ctx).Model(&webhookdomain.LedgerEntry{})
	if q.OrgID != 0 {
		query = query.Where("org_id = ?", q.OrgID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}
	if q.BeforeID != 0 {
		query = query.Where("id < ?", q.BeforeID)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var items []webhookdomain.LedgerEntry
	if err := query.Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
