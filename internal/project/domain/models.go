// Package domain contains persistence models for projects.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Project is the resource limited by the projects.max quota.
type Project struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedBy snowflake.ID `gorm:"not null" json:"created_by"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, project *Project) error
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Project, error)
	CountByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
}

type CreateProjectRequest struct {
	Name string
}

type Service interface {
	Create(ctx context.Context, orgID snowflake.ID, userID snowflake.ID, req CreateProjectRequest) (*Project, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Project, error)
	Count(ctx context.Context, orgID snowflake.ID) (int64, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidOrgID = errors.New("invalid_org_id")
	ErrInvalidUser  = errors.New("invalid_user")
)
