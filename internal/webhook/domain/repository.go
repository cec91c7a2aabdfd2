package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListQuery struct {
	OrgID    snowflake.ID
	Status   LedgerStatus
	Type     string
	BeforeID snowflake.ID
	Limit    int
}

// ClaimColumn names one of the ledger's unique claim columns.
type ClaimColumn string

const (
	ClaimPayloadHash ClaimColumn = "dedupe_hash"
	ClaimEventID     ClaimColumn = "dedupe_event_id"
)

type Repository interface {
	// Insert returns false when the row's claim columns conflict with an existing row.
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) (bool, error)
	// FindClaimHolder returns the row holding value in column, or nil.
	FindClaimHolder(ctx context.Context, db *gorm.DB, column ClaimColumn, value string) (*LedgerEntry, error)
	// ExpireClaim applies fields to a row that is still RECEIVED and was received
	// before staleBefore. It returns false when the row finished or was expired
	// by someone else first.
	ExpireClaim(ctx context.Context, db *gorm.DB, id snowflake.ID, staleBefore time.Time, fields map[string]any) (bool, error)
	// ClaimEvent returns false when another row already holds the event id.
	ClaimEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, eventID string) (bool, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LedgerEntry, error)
	List(ctx context.Context, db *gorm.DB, q ListQuery) ([]LedgerEntry, error)
}
