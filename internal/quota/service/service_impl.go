package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	obsmetrics "github.com/smallbiznis/corates/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Resolver accessdomain.Resolver
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	resolver accessdomain.Resolver
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) quotadomain.Enforcer {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quota.service"),
		resolver: p.Resolver,
		metrics:  p.Metrics,
	}
}

func (s *Service) CheckQuota(ctx context.Context, orgID snowflake.ID, key plan.QuotaKey) (quotadomain.Check, error) {
	c, err := lookupCounter(key)
	if err != nil {
		return quotadomain.Check{}, err
	}
	res, err := s.resolve(ctx, orgID)
	if err != nil {
		return quotadomain.Check{}, err
	}

	used, err := c.count(s.db.WithContext(ctx), orgID)
	if err != nil {
		return quotadomain.Check{}, fmt.Errorf("count %s: %w", c.table, err)
	}

	check := quotadomain.Check{
		QuotaKey: key,
		Used:     used,
		Limit:    res.Limit(key),
		PlanID:   res.EffectivePlanID,
	}
	if res.IsReadOnly() {
		return check, s.deny(ctx, orgID, check, quotadomain.ReasonAccessReadOnly)
	}
	check.Allowed = quotadomain.Allows(check.Used, check.Limit)
	if !check.Allowed {
		return check, s.deny(ctx, orgID, check, quotadomain.ReasonQuotaExceeded)
	}
	return check, nil
}

func (s *Service) CheckCollaboratorQuota(ctx context.Context, orgID snowflake.ID) (quotadomain.Check, error) {
	return s.CheckQuota(ctx, orgID, plan.QuotaCollaborators)
}

func (s *Service) InsertWithQuotaCheck(ctx context.Context, orgID snowflake.ID, key plan.QuotaKey, insert func(tx *gorm.DB) error) (quotadomain.Check, error) {
	c, err := lookupCounter(key)
	if err != nil {
		return quotadomain.Check{}, err
	}

	// The limit is resolved before the transaction so no row lock is held while reading
	// subscriptions and grants.
	res, err := s.resolve(ctx, orgID)
	if err != nil {
		return quotadomain.Check{}, err
	}
	check := quotadomain.Check{
		QuotaKey: key,
		Limit:    res.Limit(key),
		PlanID:   res.EffectivePlanID,
	}

	var quotaErr *quotadomain.QuotaError
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrganization(tx, orgID); err != nil {
			return err
		}

		used, err := c.count(tx, orgID)
		if err != nil {
			return fmt.Errorf("count %s: %w", c.table, err)
		}
		check.Used = used

		if res.IsReadOnly() {
			quotaErr = check.Err(quotadomain.ReasonAccessReadOnly)
			return quotaErr
		}
		if !quotadomain.Allows(used, check.Limit) {
			quotaErr = check.Err(quotadomain.ReasonQuotaExceeded)
			return quotaErr
		}

		if err := insert(tx); err != nil {
			return err
		}
		check.Allowed = true
		return nil
	})
	if quotaErr != nil {
		return check, s.deny(ctx, orgID, check, quotaErr.Reason)
	}
	if err != nil {
		return check, err
	}
	return check, nil
}

func (s *Service) Usage(ctx context.Context, orgID snowflake.ID) (quotadomain.Usage, error) {
	if orgID == 0 {
		return quotadomain.Usage{}, quotadomain.ErrInvalidOrgID
	}
	return s.usage(s.db.WithContext(ctx), orgID)
}

func (s *Service) usage(db *gorm.DB, orgID snowflake.ID) (quotadomain.Usage, error) {
	projects, err := registry[plan.QuotaProjects].count(db, orgID)
	if err != nil {
		return quotadomain.Usage{}, fmt.Errorf("count projects: %w", err)
	}
	collaborators, err := registry[plan.QuotaCollaborators].count(db, orgID)
	if err != nil {
		return quotadomain.Usage{}, fmt.Errorf("count collaborators: %w", err)
	}
	return quotadomain.Usage{Projects: projects, Collaborators: collaborators}, nil
}

// ValidatePlanChange compares current usage with every quota of the target plan and
// reports all violations.
func (s *Service) ValidatePlanChange(ctx context.Context, orgID snowflake.ID, targetPlanID string) (quotadomain.Validation, error) {
	if orgID == 0 {
		return quotadomain.Validation{}, quotadomain.ErrInvalidOrgID
	}
	target, ok := plan.Lookup(targetPlanID)
	if !ok {
		return quotadomain.Validation{}, quotadomain.ErrUnknownPlan
	}

	usage, err := s.usage(s.db.WithContext(ctx), orgID)
	if err != nil {
		return quotadomain.Validation{}, err
	}

	violations := make([]quotadomain.Violation, 0)
	for _, key := range target.QuotaKeys() {
		c, err := lookupCounter(key)
		if err != nil {
			return quotadomain.Validation{}, err
		}
		used := usage.ByKey(key)
		limit := target.Limit(key)
		if limit == plan.Unlimited || used <= limit {
			continue
		}
		violations = append(violations, quotadomain.Violation{
			QuotaKey: key,
			Used:     used,
			Limit:    limit,
			Message:  removeMessage(used-limit, c.noun),
		})
	}

	return quotadomain.Validation{
		Valid:      len(violations) == 0,
		Violations: violations,
		Usage:      usage,
		TargetPlan: target,
	}, nil
}

func (s *Service) resolve(ctx context.Context, orgID snowflake.ID) (accessdomain.Resolution, error) {
	if orgID == 0 {
		return accessdomain.Resolution{}, quotadomain.ErrInvalidOrgID
	}
	res, err := s.resolver.Resolve(ctx, orgID, time.Time{})
	if err != nil {
		return accessdomain.Resolution{}, fmt.Errorf("resolve access: %w", err)
	}
	return res, nil
}

func (s *Service) deny(ctx context.Context, orgID snowflake.ID, check quotadomain.Check, reason string) error {
	s.metrics.RecordQuotaDenied(ctx, string(check.QuotaKey), reason)
	s.log.Info("quota denied",
		zap.String("org_id", orgID.String()),
		zap.String("quota_key", string(check.QuotaKey)),
		zap.String("plan_id", check.PlanID),
		zap.Int64("used", check.Used),
		zap.Int64("limit", check.Limit),
		zap.String("reason", reason),
	)
	return check.Err(reason)
}

// lockOrganization serializes quota-gated inserts per organization.
func lockOrganization(tx *gorm.DB, orgID snowflake.ID) error {
	var org organizationdomain.Organization
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", orgID).
		Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return organizationdomain.ErrNotFound
	}
	return err
}

func removeMessage(n int64, noun string) string {
	if n != 1 {
		noun += "s"
	}
	return fmt.Sprintf("Remove %d %s", n, noun)
}
