package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	obsmetrics "github.com/smallbiznis/corates/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"github.com/smallbiznis/corates/internal/ratelimit"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const rateLimitEndpoint = "billing.checkout"

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Resolver accessdomain.Resolver
	Quota    quotadomain.Enforcer
	OrgRepo  organizationdomain.Repository
	Creator  checkoutdomain.SessionCreator
	Limiter  *ratelimit.CheckoutLimiter `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	resolver accessdomain.Resolver
	quota    quotadomain.Enforcer
	orgRepo  organizationdomain.Repository
	creator  checkoutdomain.SessionCreator
	limiter  *ratelimit.CheckoutLimiter
	metrics  *obsmetrics.Metrics
	validate *validator.Validate
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		log:      p.Log.Named("checkout.service"),
		cfg:      p.Config,
		clock:    p.Clock,
		resolver: p.Resolver,
		quota:    p.Quota,
		orgRepo:  p.OrgRepo,
		creator:  p.Creator,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
		validate: validator.New(),
	}
}

func (s *Service) CreateSubscriptionCheckout(ctx context.Context, orgID, userID snowflake.ID, req checkoutdomain.SubscriptionCheckoutRequest) (*checkoutdomain.Session, error) {
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.Interval = strings.ToLower(strings.TrimSpace(req.Interval))
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	priceID, ok := s.cfg.PriceID(req.Tier, req.Interval)
	if !ok {
		return nil, checkoutdomain.ErrPriceNotConfigured
	}

	org, release, err := s.begin(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer release()

	resolution, err := s.resolver.Resolve(ctx, orgID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if plan.IsDowngrade(resolution.EffectivePlanID, req.Tier) {
		validation, err := s.quota.ValidatePlanChange(ctx, orgID, req.Tier)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			s.log.Info("downgrade blocked",
				zap.String("org_id", orgID.String()),
				zap.String("from_plan", resolution.EffectivePlanID),
				zap.String("target_plan", req.Tier),
				zap.Int("violations", len(validation.Violations)),
			)
			return nil, &checkoutdomain.DowngradeError{
				Code:       checkoutdomain.CodeInvalidInput,
				Violations: validation.Violations,
				Usage:      validation.Usage,
				TargetPlan: validation.TargetPlan,
			}
		}
	}

	metadata := map[string]string{
		checkoutdomain.MetadataOrgID:    orgID.String(),
		checkoutdomain.MetadataUserID:   userID.String(),
		checkoutdomain.MetadataTier:     req.Tier,
		checkoutdomain.MetadataInterval: req.Interval,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.returnURL("success")),
		CancelURL:         stripe.String(s.returnURL("canceled")),
		ClientReferenceID: stripe.String(orgID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				checkoutdomain.MetadataOrgID: orgID.String(),
				checkoutdomain.MetadataTier:  req.Tier,
			},
		},
		Metadata: metadata,
	}
	if org.StripeCustomerID != nil {
		params.Customer = stripe.String(*org.StripeCustomerID)
	}

	return s.create(ctx, orgID, params)
}

func (s *Service) CreateSingleProjectCheckout(ctx context.Context, orgID, userID snowflake.ID) (*checkoutdomain.Session, error) {
	priceID, ok := s.cfg.PriceID(config.PriceKeySingleProject, "")
	if !ok {
		return nil, checkoutdomain.ErrPriceNotConfigured
	}

	org, release, err := s.begin(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer release()

	metadata := map[string]string{
		checkoutdomain.MetadataOrgID:     orgID.String(),
		checkoutdomain.MetadataUserID:    userID.String(),
		checkoutdomain.MetadataGrantType: plan.IDSingleProject,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.returnURL("success")),
		CancelURL:         stripe.String(s.returnURL("canceled")),
		ClientReferenceID: stripe.String(orgID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				checkoutdomain.MetadataOrgID:     orgID.String(),
				checkoutdomain.MetadataGrantType: plan.IDSingleProject,
			},
		},
		Metadata: metadata,
	}
	if org.StripeCustomerID != nil {
		params.Customer = stripe.String(*org.StripeCustomerID)
	} else {
		params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
	}

	return s.create(ctx, orgID, params)
}

// begin loads the org and applies the per-org rate limit and in-flight lock. The
// returned release must be called once the session is created or abandoned.
func (s *Service) begin(ctx context.Context, orgID snowflake.ID) (*organizationdomain.Organization, func(), error) {
	noop := func() {}
	if orgID == 0 {
		return nil, noop, checkoutdomain.ErrInvalidOrganization
	}
	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, noop, err
	}
	if org == nil {
		return nil, noop, organizationdomain.ErrNotFound
	}

	if !s.limiter.Enabled() {
		return org, noop, nil
	}

	res, err := s.limiter.Allow(ctx, orgID)
	if err != nil {
		return nil, noop, fmt.Errorf("checkout rate limit: %w", err)
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "org-rate")
		return nil, noop, &checkoutdomain.RateLimitError{RetryAfter: res.RetryAfter}
	}

	token, ok, err := s.limiter.Acquire(ctx, orgID)
	if err != nil {
		return nil, noop, fmt.Errorf("checkout lock: %w", err)
	}
	if !ok {
		s.metrics.RecordRateLimitDenied(ctx, rateLimitEndpoint, "in-flight")
		return nil, noop, checkoutdomain.ErrCheckoutInProgress
	}
	s.metrics.RecordRateLimitAllowed(ctx, rateLimitEndpoint)

	return org, func() {
		if err := s.limiter.Release(context.WithoutCancel(ctx), orgID, token); err != nil {
			s.log.Warn("checkout lock release failed", zap.String("org_id", orgID.String()), zap.Error(err))
		}
	}, nil
}

func (s *Service) create(ctx context.Context, orgID snowflake.ID, params *stripe.CheckoutSessionParams) (*checkoutdomain.Session, error) {
	params.Context = ctx
	session, err := s.creator.New(params)
	if err != nil {
		s.log.Error("checkout session creation failed",
			zap.String("org_id", orgID.String()),
			zap.String("mode", stripe.StringValue(params.Mode)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", checkoutdomain.ErrSessionFailed, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, checkoutdomain.ErrSessionFailed
	}

	s.log.Info("checkout session created",
		zap.String("org_id", orgID.String()),
		zap.String("session_id", session.ID),
		zap.String("mode", stripe.StringValue(params.Mode)),
	)
	return &checkoutdomain.Session{URL: session.URL, SessionID: session.ID}, nil
}

func (s *Service) validateRequest(req checkoutdomain.SubscriptionCheckoutRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	switch fieldErrs[0].Field() {
	case "Interval":
		return checkoutdomain.ErrInvalidInterval
	default:
		return checkoutdomain.ErrInvalidTier
	}
}

func (s *Service) returnURL(result string) string {
	return fmt.Sprintf("%s/settings/billing?checkout=%s", s.cfg.AppURL, result)
}
