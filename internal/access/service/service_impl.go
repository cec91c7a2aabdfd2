package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	"github.com/smallbiznis/corates/internal/clock"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	SubscriptionRepo subscriptiondomain.Repository
	GrantRepo        grantdomain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	subRepo   subscriptiondomain.Repository
	grantRepo grantdomain.Repository
}

func NewService(p Params) accessdomain.Resolver {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("access.service"),
		clock:     p.Clock,
		subRepo:   p.SubscriptionRepo,
		grantRepo: p.GrantRepo,
	}
}

func (s *Service) Resolve(ctx context.Context, orgID snowflake.ID, now time.Time) (accessdomain.Resolution, error) {
	if orgID == 0 {
		return accessdomain.Resolution{}, accessdomain.ErrInvalidOrgID
	}
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	db := s.db.WithContext(ctx)
	subs, err := s.subRepo.ListByOrg(ctx, db, orgID)
	if err != nil {
		return accessdomain.Resolution{}, fmt.Errorf("load subscriptions: %w", err)
	}
	grants, err := s.grantRepo.ListByOrg(ctx, db, orgID)
	if err != nil {
		return accessdomain.Resolution{}, fmt.Errorf("load grants: %w", err)
	}

	res := Decide(subs, grants, now)
	res.OrgID = orgID

	if res.Source == accessdomain.SourceSubscription && res.Subscription != nil {
		if countActive(subs, now) > 1 {
			s.log.Warn("multiple active subscriptions",
				zap.String("org_id", orgID.String()),
				zap.String("selected_subscription_id", res.Subscription.ID.String()),
			)
		}
	}

	s.log.Debug("access resolved",
		zap.String("org_id", orgID.String()),
		zap.String("plan_id", res.EffectivePlanID),
		zap.String("source", string(res.Source)),
		zap.String("access_mode", string(res.AccessMode)),
	)
	return res, nil
}

func countActive(subs []subscriptiondomain.Subscription, now time.Time) int {
	n := 0
	for _, sub := range subs {
		if sub.IsActive(now) {
			n++
		}
	}
	return n
}
