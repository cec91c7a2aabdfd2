package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/plan"
	"gorm.io/gorm"
)

type Enforcer interface {
	// CheckQuota returns the check and, when it is not allowed, a *QuotaError.
	CheckQuota(ctx context.Context, orgID snowflake.ID, key plan.QuotaKey) (Check, error)
	CheckCollaboratorQuota(ctx context.Context, orgID snowflake.ID) (Check, error)
	// InsertWithQuotaCheck counts and runs insert in one transaction. When the quota is
	// exhausted the transaction is rolled back and a *QuotaError is returned.
	InsertWithQuotaCheck(ctx context.Context, orgID snowflake.ID, key plan.QuotaKey, insert func(tx *gorm.DB) error) (Check, error)
	Usage(ctx context.Context, orgID snowflake.ID) (Usage, error)
	ValidatePlanChange(ctx context.Context, orgID snowflake.ID, targetPlanID string) (Validation, error)
}
