package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	accessservice "github.com/smallbiznis/corates/internal/access/service"
	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	grantrepo "github.com/smallbiznis/corates/internal/grant/repository"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/corates/internal/organization/repository"
	"github.com/smallbiznis/corates/internal/plan"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	quotaservice "github.com/smallbiznis/corates/internal/quota/service"
	"github.com/smallbiznis/corates/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/corates/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

const (
	orgID  = snowflake.ID(500)
	userID = snowflake.ID(7)
)

type fakeCreator struct {
	calls  []*stripe.CheckoutSessionParams
	err    error
	nextID int
}

func (f *fakeCreator) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	id := fmt.Sprintf("cs_test_%d", f.nextID)
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *fakeCreator) last() *stripe.CheckoutSessionParams {
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	db      *gorm.DB
	creator *fakeCreator
	svc     checkoutdomain.Service
}

func newFixture(t *testing.T, limiter *ratelimit.CheckoutLimiter) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&projectdomain.Project{},
		&subscriptiondomain.Subscription{},
		&grantdomain.Grant{},
	))
	require.NoError(t, db.Create(&organizationdomain.Organization{
		ID: orgID, Name: "Acme", Slug: "acme", CreatedAt: now, UpdatedAt: now,
	}).Error)

	clk := clock.NewFakeClock(now)
	resolver := accessservice.NewService(accessservice.Params{
		DB:               db,
		Log:              zap.NewNop(),
		Clock:            clk,
		SubscriptionRepo: subscriptionrepo.Provide(),
		GrantRepo:        grantrepo.Provide(),
	})
	quota := quotaservice.NewService(quotaservice.Params{DB: db, Log: zap.NewNop(), Resolver: resolver})

	creator := &fakeCreator{}
	cfg := config.Config{
		AppURL: "https://app.corates.test",
		Stripe: config.StripeConfig{
			Prices: map[string]string{
				"starter_team_monthly":   "price_starter_m",
				"team_monthly":           "price_team_m",
				"unlimited_team_yearly":  "price_unlimited_y",
				"unlimited_team_monthly": "price_unlimited_m",
				"single_project":         "price_single",
			},
		},
	}

	return &fixture{
		db:      db,
		creator: creator,
		svc: NewService(Params{
			Log:      zap.NewNop(),
			Config:   cfg,
			Clock:    clk,
			Resolver: resolver,
			Quota:    quota,
			OrgRepo:  organizationrepo.NewRepository(db),
			Creator:  creator,
			Limiter:  limiter,
		}),
	}
}

func (f *fixture) subscribe(t *testing.T, planID string) {
	t.Helper()
	end := now.Add(30 * 24 * time.Hour)
	require.NoError(t, f.db.Create(&subscriptiondomain.Subscription{
		ID:                   900,
		OrgID:                orgID,
		PlanID:               planID,
		Status:               subscriptiondomain.SubscriptionStatusActive,
		StripeSubscriptionID: "sub_900",
		PeriodEnd:            &end,
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
}

func (f *fixture) addProjects(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.db.Create(&projectdomain.Project{
			ID: snowflake.ID(1000 + i), OrgID: orgID, Name: fmt.Sprintf("p%d", i), CreatedBy: userID, CreatedAt: now,
		}).Error)
	}
}

func TestCreateSubscriptionCheckout(t *testing.T) {
	f := newFixture(t, nil)

	session, err := f.svc.CreateSubscriptionCheckout(context.Background(), orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{
		Tier: "Team", Interval: "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.SessionID)
	assert.NotEmpty(t, session.URL)

	params := f.creator.last()
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), stripe.StringValue(params.Mode))
	assert.Equal(t, orgID.String(), stripe.StringValue(params.ClientReferenceID))
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, "price_team_m", stripe.StringValue(params.LineItems[0].Price))
	assert.Equal(t, "team", params.Metadata["tier"])
	assert.Equal(t, "monthly", params.Metadata["interval"])
	assert.Equal(t, orgID.String(), params.SubscriptionData.Metadata["org_id"])
	assert.Nil(t, params.Customer)
	assert.Equal(t, "https://app.corates.test/settings/billing?checkout=success", stripe.StringValue(params.SuccessURL))
}

func TestCreateSubscriptionCheckoutReusesLinkedCustomer(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Model(&organizationdomain.Organization{}).Where("id = ?", orgID).
		Update("stripe_customer_id", "cus_acme").Error)

	_, err := f.svc.CreateSubscriptionCheckout(context.Background(), orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{
		Tier: plan.IDStarterTeam, Interval: "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_acme", stripe.StringValue(f.creator.last().Customer))
}

func TestCreateSubscriptionCheckoutValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateSubscriptionCheckout(ctx, orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{Tier: "enterprise", Interval: "monthly"})
	assert.ErrorIs(t, err, checkoutdomain.ErrInvalidTier)

	_, err = f.svc.CreateSubscriptionCheckout(ctx, orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{Tier: plan.IDTrial, Interval: "monthly"})
	assert.ErrorIs(t, err, checkoutdomain.ErrInvalidTier, "trial is not sold")

	_, err = f.svc.CreateSubscriptionCheckout(ctx, orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{Tier: plan.IDTeam, Interval: "weekly"})
	assert.ErrorIs(t, err, checkoutdomain.ErrInvalidInterval)

	_, err = f.svc.CreateSubscriptionCheckout(ctx, orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{Tier: plan.IDTeam, Interval: "yearly"})
	assert.ErrorIs(t, err, checkoutdomain.ErrPriceNotConfigured)

	_, err = f.svc.CreateSubscriptionCheckout(ctx, snowflake.ID(12345), userID, checkoutdomain.SubscriptionCheckoutRequest{Tier: plan.IDTeam, Interval: "monthly"})
	assert.ErrorIs(t, err, organizationdomain.ErrNotFound)

	assert.Empty(t, f.creator.calls)
}

func TestCreateSubscriptionCheckoutBlocksDowngradeOverQuota(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, plan.IDTeam)
	f.addProjects(t, 5)

	_, err := f.svc.CreateSubscriptionCheckout(context.Background(), orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{
		Tier: plan.IDStarterTeam, Interval: "monthly",
	})
	var downgrade *checkoutdomain.DowngradeError
	require.True(t, errors.As(err, &downgrade), "expected DowngradeError, got %v", err)
	assert.Equal(t, checkoutdomain.CodeInvalidInput, downgrade.Code)
	require.Len(t, downgrade.Violations, 1)
	assert.Equal(t, plan.QuotaProjects, downgrade.Violations[0].QuotaKey)
	assert.EqualValues(t, 5, downgrade.Violations[0].Used)
	assert.EqualValues(t, 3, downgrade.Violations[0].Limit)
	assert.EqualValues(t, 5, downgrade.Usage.Projects)
	assert.Equal(t, plan.IDStarterTeam, downgrade.TargetPlan.ID)
	assert.Empty(t, f.creator.calls)
}

func TestCreateSubscriptionCheckoutAllowsDowngradeWithinQuota(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, plan.IDTeam)
	f.addProjects(t, 3)

	_, err := f.svc.CreateSubscriptionCheckout(context.Background(), orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{
		Tier: plan.IDStarterTeam, Interval: "monthly",
	})
	require.NoError(t, err)
	assert.Len(t, f.creator.calls, 1)
}

func TestCreateSubscriptionCheckoutUpgradeSkipsValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, plan.IDTeam)
	f.addProjects(t, 9)

	_, err := f.svc.CreateSubscriptionCheckout(context.Background(), orgID, userID, checkoutdomain.SubscriptionCheckoutRequest{
		Tier: plan.IDUnlimitedTeam, Interval: "yearly",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_unlimited_y", stripe.StringValue(f.creator.last().LineItems[0].Price))
}

func TestCreateSingleProjectCheckout(t *testing.T) {
	f := newFixture(t, nil)

	session, err := f.svc.CreateSingleProjectCheckout(context.Background(), orgID, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)

	params := f.creator.last()
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), stripe.StringValue(params.Mode))
	assert.Equal(t, "price_single", stripe.StringValue(params.LineItems[0].Price))
	assert.Equal(t, plan.IDSingleProject, params.Metadata["grant_type"])
	assert.Equal(t, orgID.String(), params.Metadata["org_id"])
	assert.Equal(t, string(stripe.CheckoutSessionCustomerCreationAlways), stripe.StringValue(params.CustomerCreation))
	assert.Equal(t, plan.IDSingleProject, params.PaymentIntentData.Metadata["grant_type"])
}

func TestCreateCheckoutSessionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.creator.err = errors.New("stripe unavailable")

	_, err := f.svc.CreateSingleProjectCheckout(context.Background(), orgID, userID)
	assert.ErrorIs(t, err, checkoutdomain.ErrSessionFailed)
}

func TestCreateCheckoutRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewCheckoutLimiterWithClient(client, 0.001, 1, 15*time.Second)
	require.NoError(t, err)

	f := newFixture(t, limiter)
	ctx := context.Background()

	_, err = f.svc.CreateSingleProjectCheckout(ctx, orgID, userID)
	require.NoError(t, err)

	_, err = f.svc.CreateSingleProjectCheckout(ctx, orgID, userID)
	var limited *checkoutdomain.RateLimitError
	require.True(t, errors.As(err, &limited), "expected RateLimitError, got %v", err)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
	assert.Len(t, f.creator.calls, 1)

	// The in-flight lock was released after the first session.
	_, ok, err := limiter.Acquire(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, ok)
}
