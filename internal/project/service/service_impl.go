package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/plan"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  projectdomain.Repository
	Quota quotadomain.Enforcer
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  projectdomain.Repository
	quota quotadomain.Enforcer
}

func NewService(p Params) projectdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("project.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		quota: p.Quota,
	}
}

func (s *Service) Create(ctx context.Context, orgID snowflake.ID, userID snowflake.ID, req projectdomain.CreateProjectRequest) (*projectdomain.Project, error) {
	if orgID == 0 {
		return nil, projectdomain.ErrInvalidOrgID
	}
	if userID == 0 {
		return nil, projectdomain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, projectdomain.ErrInvalidName
	}

	project := &projectdomain.Project{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		CreatedBy: userID,
		CreatedAt: s.clock.Now(),
	}
	check, err := s.quota.InsertWithQuotaCheck(ctx, orgID, plan.QuotaProjects, func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, project)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("project created",
		zap.String("org_id", orgID.String()),
		zap.String("project_id", project.ID.String()),
		zap.Int64("used", check.Used+1),
		zap.Int64("limit", check.Limit),
	)
	return project, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]projectdomain.Project, error) {
	if orgID == 0 {
		return nil, projectdomain.ErrInvalidOrgID
	}
	return s.repo.ListByOrg(ctx, s.db, orgID)
}

func (s *Service) Count(ctx context.Context, orgID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, projectdomain.ErrInvalidOrgID
	}
	return s.repo.CountByOrg(ctx, s.db, orgID)
}
