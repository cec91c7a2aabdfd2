package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Grant, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Grant, error)
	FindByCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string) (*Grant, error)
	FindExtensionByCheckoutSession(ctx context.Context, db *gorm.DB, sessionID string) (*Extension, error)
	FindLatestByTypeForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, grantType GrantType) (*Grant, error)
	FindByPaymentIntent(ctx context.Context, db *gorm.DB, paymentIntentID string) (*Grant, error)
	FindExtensionByPaymentIntent(ctx context.Context, db *gorm.DB, paymentIntentID string) (*Extension, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Grant, error)
	ExistsByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, grantType GrantType) (bool, error)
	// Insert returns false when a grant for the same checkout session already exists.
	Insert(ctx context.Context, db *gorm.DB, grant *Grant) (bool, error)
	// InsertExtension returns false when the checkout session was already applied.
	InsertExtension(ctx context.Context, db *gorm.DB, ext *Extension) (bool, error)
	UpdateExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt time.Time) error
	Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// RevertExtension marks the extension reverted and returns false when it already was.
	RevertExtension(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}
