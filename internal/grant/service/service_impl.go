package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	obsmetrics "github.com/smallbiznis/corates/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	"github.com/smallbiznis/corates/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Entitlements     *config.EntitlementConfigHolder
	Repo             grantdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	entitlements *config.EntitlementConfigHolder
	repo         grantdomain.Repository
	subRepo      subscriptiondomain.Repository
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) grantdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("grant.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		entitlements: p.Entitlements,
		repo:         p.Repo,
		subRepo:      p.SubscriptionRepo,
		metrics:      p.Metrics,
	}
}

func (s *Service) StartTrial(ctx context.Context, orgID snowflake.ID) (*grantdomain.Grant, error) {
	if orgID == 0 {
		return nil, grantdomain.ErrInvalidOrgID
	}
	now := s.clock.Now()

	var created *grantdomain.Grant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		used, err := s.repo.ExistsByType(ctx, tx, orgID, grantdomain.GrantTypeTrial)
		if err != nil {
			return err
		}
		if used {
			return grantdomain.ErrTrialAlreadyUsed
		}

		subs, err := s.subRepo.ListByOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub.IsActive(now) {
				return grantdomain.ErrSubscriptionActive
			}
		}

		grant := &grantdomain.Grant{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			Type:      grantdomain.GrantTypeTrial,
			StartsAt:  now,
			ExpiresAt: now.Add(s.entitlements.Get().Grants.Trial()),
			Source:    grantdomain.SourcePromotion,
			CreatedAt: now,
		}
		inserted, err := s.repo.Insert(ctx, tx, grant)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				return grantdomain.ErrTrialAlreadyUsed
			}
			return err
		}
		if !inserted {
			return grantdomain.ErrTrialAlreadyUsed
		}
		created = grant
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGrantMutation(ctx, "trial_started")
	s.log.Info("trial grant started",
		zap.String("org_id", orgID.String()),
		zap.String("grant_id", created.ID.String()),
		zap.Time("expires_at", created.ExpiresAt),
	)
	return created, nil
}

// ApplyPurchase creates a single-project grant for the org or, when one already exists,
// extends it. The checkout session is the idempotency key for both paths.
func (s *Service) ApplyPurchase(ctx context.Context, tx *gorm.DB, req grantdomain.PurchaseRequest) (grantdomain.PurchaseResult, error) {
	sessionID := strings.TrimSpace(req.CheckoutSessionID)
	if sessionID == "" {
		return grantdomain.PurchaseResult{}, grantdomain.ErrMissingSession
	}
	if req.OrgID == 0 {
		return grantdomain.PurchaseResult{}, grantdomain.ErrInvalidOrgID
	}
	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}

	existing, err := s.repo.FindByCheckoutSession(ctx, tx, sessionID)
	if err != nil {
		return grantdomain.PurchaseResult{}, err
	}
	if existing != nil {
		return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionAlreadyProcessed, Grant: existing}, nil
	}

	ext, err := s.repo.FindExtensionByCheckoutSession(ctx, tx, sessionID)
	if err != nil {
		return grantdomain.PurchaseResult{}, err
	}
	if ext != nil {
		grant, err := s.repo.FindByID(ctx, tx, ext.GrantID)
		if err != nil {
			return grantdomain.PurchaseResult{}, err
		}
		return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionAlreadyProcessed, Grant: grant}, nil
	}

	durations := s.entitlements.Get().Grants
	paymentIntent := optionalString(req.PaymentIntentID)

	current, err := s.repo.FindLatestByTypeForUpdate(ctx, tx, req.OrgID, grantdomain.GrantTypeSingleProject)
	if err != nil {
		return grantdomain.PurchaseResult{}, err
	}

	if current != nil {
		newExpiry := grantdomain.ExtendedExpiry(current.ExpiresAt, now, durations.Extension())
		inserted, err := s.repo.InsertExtension(ctx, tx, &grantdomain.Extension{
			ID:                      s.genID.Generate(),
			GrantID:                 current.ID,
			OrgID:                   req.OrgID,
			StripeCheckoutSessionID: sessionID,
			StripePaymentIntentID:   paymentIntent,
			PreviousExpiresAt:       current.ExpiresAt,
			NewExpiresAt:            newExpiry,
			CreatedAt:               now,
		})
		if err != nil {
			return grantdomain.PurchaseResult{}, fmt.Errorf("insert grant extension: %w", err)
		}
		if !inserted {
			return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionAlreadyProcessed, Grant: current}, nil
		}
		if err := s.repo.UpdateExpiry(ctx, tx, current.ID, newExpiry); err != nil {
			return grantdomain.PurchaseResult{}, fmt.Errorf("extend grant: %w", err)
		}
		current.ExpiresAt = newExpiry

		s.metrics.RecordGrantMutation(ctx, string(grantdomain.PurchaseActionExtended))
		return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionExtended, Grant: current}, nil
	}

	grant := &grantdomain.Grant{
		ID:                      s.genID.Generate(),
		OrgID:                   req.OrgID,
		Type:                    grantdomain.GrantTypeSingleProject,
		StartsAt:                now,
		ExpiresAt:               now.Add(durations.SingleProject()),
		Source:                  grantdomain.SourcePurchase,
		StripeCheckoutSessionID: &sessionID,
		StripePaymentIntentID:   paymentIntent,
		CreatedAt:               now,
	}
	inserted, err := s.repo.Insert(ctx, tx, grant)
	if err != nil {
		return grantdomain.PurchaseResult{}, fmt.Errorf("insert grant: %w", err)
	}
	if !inserted {
		winner, err := s.repo.FindByCheckoutSession(ctx, tx, sessionID)
		if err != nil {
			return grantdomain.PurchaseResult{}, err
		}
		return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionAlreadyProcessed, Grant: winner}, nil
	}

	s.metrics.RecordGrantMutation(ctx, string(grantdomain.PurchaseActionCreated))
	return grantdomain.PurchaseResult{Action: grantdomain.PurchaseActionCreated, Grant: grant}, nil
}

func (s *Service) RevokeByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string, at time.Time) (grantdomain.RevokeResult, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return grantdomain.RevokeResult{Action: grantdomain.RevokeActionNotFound}, nil
	}

	grant, err := s.repo.FindByPaymentIntent(ctx, tx, paymentIntentID)
	if err != nil {
		return grantdomain.RevokeResult{}, err
	}
	if grant == nil {
		return s.revertExtension(ctx, tx, paymentIntentID, at)
	}
	if grant.IsRevoked() {
		return grantdomain.RevokeResult{Action: grantdomain.RevokeActionAlreadyProcessed, Grant: grant}, nil
	}

	if err := s.repo.Revoke(ctx, tx, grant.ID, at); err != nil {
		return grantdomain.RevokeResult{}, fmt.Errorf("revoke grant: %w", err)
	}
	grant.RevokedAt = &at

	s.metrics.RecordGrantMutation(ctx, string(grantdomain.RevokeActionRevoked))
	return grantdomain.RevokeResult{Action: grantdomain.RevokeActionRevoked, Grant: grant}, nil
}

// revertExtension takes back the validity a refunded extension added. The grant
// itself stays, since its original purchase was not refunded.
func (s *Service) revertExtension(ctx context.Context, tx *gorm.DB, paymentIntentID string, at time.Time) (grantdomain.RevokeResult, error) {
	ext, err := s.repo.FindExtensionByPaymentIntent(ctx, tx, paymentIntentID)
	if err != nil {
		return grantdomain.RevokeResult{}, err
	}
	if ext == nil {
		return grantdomain.RevokeResult{Action: grantdomain.RevokeActionNotFound}, nil
	}

	grant, err := s.repo.FindByIDForUpdate(ctx, tx, ext.GrantID)
	if err != nil {
		return grantdomain.RevokeResult{}, err
	}
	if grant == nil {
		return grantdomain.RevokeResult{Action: grantdomain.RevokeActionNotFound}, nil
	}

	reverted, err := s.repo.RevertExtension(ctx, tx, ext.ID, at)
	if err != nil {
		return grantdomain.RevokeResult{}, fmt.Errorf("revert grant extension: %w", err)
	}
	if !reverted {
		return grantdomain.RevokeResult{Action: grantdomain.RevokeActionAlreadyProcessed, Grant: grant}, nil
	}

	if !grant.IsRevoked() {
		newExpiry := grant.ExpiresAt.Add(-ext.Delta())
		if err := s.repo.UpdateExpiry(ctx, tx, grant.ID, newExpiry); err != nil {
			return grantdomain.RevokeResult{}, fmt.Errorf("shorten grant: %w", err)
		}
		grant.ExpiresAt = newExpiry
	}

	s.metrics.RecordGrantMutation(ctx, string(grantdomain.RevokeActionExtensionReverted))
	s.log.Info("grant extension reverted",
		zap.String("grant_id", grant.ID.String()),
		zap.String("extension_id", ext.ID.String()),
		zap.Time("expires_at", grant.ExpiresAt),
	)
	return grantdomain.RevokeResult{Action: grantdomain.RevokeActionExtensionReverted, Grant: grant}, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
