package service

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/plan"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"gorm.io/gorm"
)

// counter describes the resource a quota key limits. Table names come only from this
// registry, never from callers.
type counter struct {
	table string
	where string
	noun  string
}

var registry = map[plan.QuotaKey]counter{
	plan.QuotaProjects: {
		table: "projects",
		where: "org_id = ?",
		noun:  "project",
	},
	// The owner is not a collaborator for billing purposes.
	plan.QuotaCollaborators: {
		table: "organization_members",
		where: "org_id = ? AND role <> 'owner'",
		noun:  "collaborator",
	},
}

func lookupCounter(key plan.QuotaKey) (counter, error) {
	c, ok := registry[key]
	if !ok {
		return counter{}, quotadomain.ErrUnknownQuotaKey
	}
	return c, nil
}

func (c counter) count(db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var n int64
	if err := db.Table(c.table).Where(c.where, orgID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
