package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	grantrepo "github.com/smallbiznis/corates/internal/grant/repository"
	grantservice "github.com/smallbiznis/corates/internal/grant/service"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/corates/internal/organization/repository"
	organizationservice "github.com/smallbiznis/corates/internal/organization/service"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/corates/internal/subscription/repository"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	webhookrepo "github.com/smallbiznis/corates/internal/webhook/repository"
	"github.com/smallbiznis/corates/internal/webhook/router"
	"github.com/smallbiznis/corates/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret = "whsec_test_secret"
	testOrgID  = snowflake.ID(4242)
	testRoute  = "/billing/purchases/webhook"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db    *gorm.DB
	svc   webhookdomain.Service
	clock *clock.FakeClock
	cfg   config.Config
}

func newHarness(t *testing.T, environment string) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&webhookdomain.LedgerEntry{},
		&grantdomain.Grant{},
		&grantdomain.Extension{},
		&subscriptiondomain.Subscription{},
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&projectdomain.Project{},
	))
	require.NoError(t, db.Create(&organizationdomain.Organization{
		ID: testOrgID, Name: "Acme", Slug: "acme", CreatedAt: testNow, UpdatedAt: testNow,
	}).Error)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()
	cfg := config.Config{
		Environment: environment,
		Stripe: config.StripeConfig{
			WebhookSecret: testSecret,
			Prices: map[string]string{
				"team_monthly":         "price_team_monthly",
				"starter_team_monthly": "price_starter_monthly",
			},
		},
	}

	subRepo := subscriptionrepo.Provide()
	grants := grantservice.NewService(grantservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Clock:            clk,
		Entitlements:     config.NewStaticEntitlementConfigHolder(config.EntitlementConfig{Grants: config.GrantDurations{TrialDays: 14, SingleProjectDays: 180, ExtensionDays: 90}}),
		Repo:             grantrepo.Provide(),
		SubscriptionRepo: subRepo,
	})
	orgs := organizationservice.NewService(organizationservice.Params{
		DB:    db,
		Log:   log,
		Repo:  organizationrepo.NewRepository(db),
		GenID: node,
		Clock: clk,
	})
	rt := router.NewRouter(router.Params{
		DB:               db,
		Log:              log,
		Config:           cfg,
		Clock:            clk,
		GenID:            node,
		Grants:           grants,
		Organizations:    orgs,
		SubscriptionRepo: subRepo,
	})

	return &harness{
		db:    db,
		clock: clk,
		cfg:   cfg,
		svc: NewService(Params{
			DB:     db,
			Log:    log,
			Config: cfg,
			Clock:  clk,
			GenID:  node,
			Repo:   webhookrepo.Provide(),
			Router: rt,
		}),
	}
}

func eventPayload(t *testing.T, id, eventType string, created time.Time, livemode bool, object map[string]any) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2025-03-31.basil",
		"type":        eventType,
		"created":     created.Unix(),
		"livemode":    livemode,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func (h *harness) deliver(payload []byte, signature string) webhookdomain.IngestResult {
	return h.svc.Ingest(context.Background(), webhookdomain.IngestRequest{
		Body:      bytes.NewReader(payload),
		Signature: signature,
		Route:     testRoute,
		RequestID: "req-test",
	})
}

func (h *harness) deliverSigned(payload []byte) webhookdomain.IngestResult {
	return h.deliver(payload, sign(payload))
}

func (h *harness) entry(t *testing.T, res webhookdomain.IngestResult) webhookdomain.LedgerEntry {
	t.Helper()
	var e webhookdomain.LedgerEntry
	require.NoError(t, h.db.First(&e, "id = ?", res.EntryID).Error)
	return e
}

func (h *harness) grants(t *testing.T) []grantdomain.Grant {
	t.Helper()
	var items []grantdomain.Grant
	require.NoError(t, h.db.Order("id").Find(&items).Error)
	return items
}

func purchaseSession(sessionID, paymentIntent string) map[string]any {
	return map[string]any{
		"id":                  sessionID,
		"object":              "checkout.session",
		"mode":                "payment",
		"payment_status":      "paid",
		"client_reference_id": testOrgID.String(),
		"customer":            "cus_acme",
		"payment_intent":      paymentIntent,
		"metadata": map[string]string{
			"org_id":     testOrgID.String(),
			"grant_type": "single_project",
		},
	}
}

func TestIngestMissingSignature(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))

	res := h.deliver(payload, "")
	assert.Equal(t, http.StatusForbidden, res.HTTPStatus)
	assert.False(t, res.Body.Received)

	e := h.entry(t, res)
	assert.Equal(t, webhookdomain.StatusIgnoredUnverified, e.Status)
	assert.False(t, e.SignaturePresent)
	assert.Nil(t, e.StripeEventID, "nothing is parsed before verification")
	assert.Empty(t, h.grants(t))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestIngestUnreadableBody(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)

	res := h.svc.Ingest(context.Background(), webhookdomain.IngestRequest{
		Body:      failingReader{},
		Signature: "t=1,v1=abc",
		Route:     testRoute,
	})
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusIgnoredUnverified, h.entry(t, res).Status)
}

func TestIngestOversizedBody(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)

	res := h.deliver(bytes.Repeat([]byte("a"), int(webhookdomain.MaxBodyBytes)+10), "t=1,v1=abc")
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
}

func TestIngestInvalidSignatureReleasesHashClaim(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))

	res := h.deliver(payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusForbidden, res.HTTPStatus)
	e := h.entry(t, res)
	assert.Equal(t, webhookdomain.StatusIgnoredUnverified, e.Status)
	assert.True(t, e.SignaturePresent)
	assert.Nil(t, e.DedupeHash)
	assert.Empty(t, h.grants(t))

	// The same bytes with a valid signature are processed, not skipped.
	res = h.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusProcessed, res.Status)
	assert.Len(t, h.grants(t), 1)
}

func TestIngestByteIdenticalDuplicateIsSkipped(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))
	signature := sign(payload)

	first := h.deliver(payload, signature)
	require.Equal(t, http.StatusOK, first.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusProcessed, first.Status)
	assert.True(t, first.Body.Handled)
	assert.Equal(t, string(grantdomain.PurchaseActionCreated), first.Body.Action)
	assert.NotEmpty(t, first.Body.GrantID)

	second := h.deliver(payload, signature)
	assert.Equal(t, http.StatusOK, second.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusSkippedDuplicate, second.Status)
	assert.True(t, second.Body.Skipped)
	assert.Equal(t, webhookdomain.ResultDuplicatePayload, second.Body.Result)

	assert.Len(t, h.grants(t), 1)
	e := h.entry(t, second)
	assert.Equal(t, first.Body.Result, *h.entry(t, first).Result)
	assert.Nil(t, e.DedupeHash)
}

func TestIngestReserializedEventIsSkippedByEventID(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))

	first := h.deliverSigned(payload)
	require.Equal(t, webhookdomain.StatusProcessed, first.Status)

	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, payload, "", "  "))
	second := h.deliverSigned(indented.Bytes())
	assert.Equal(t, http.StatusOK, second.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusSkippedDuplicate, second.Status)
	assert.Equal(t, webhookdomain.ResultDuplicateEvent, second.Body.Result)

	e := h.entry(t, second)
	require.NotNil(t, e.StripeEventID)
	assert.Equal(t, "evt_1", *e.StripeEventID)
	assert.Len(t, h.grants(t), 1)
}

// abandonedEntry leaves a RECEIVED row holding both claims, as a process that
// died between claiming and committing the handler would.
func (h *harness) abandonedEntry(t *testing.T, payload []byte, eventID string) webhookdomain.LedgerEntry {
	t.Helper()
	hash := hashPayload(payload)
	entry := webhookdomain.LedgerEntry{
		ID:               snowflake.ID(1),
		PayloadHash:      hash,
		DedupeHash:       &hash,
		StripeEventID:    &eventID,
		DedupeEventID:    &eventID,
		SignaturePresent: true,
		Route:            testRoute,
		Status:           webhookdomain.StatusReceived,
		HTTPStatus:       http.StatusAccepted,
		ReceivedAt:       h.clock.Now(),
	}
	require.NoError(t, h.db.Create(&entry).Error)
	return entry
}

func TestIngestRedeliveryWaitsForInFlightClaim(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_crash", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))
	h.abandonedEntry(t, payload, "evt_crash")

	h.clock.Advance(time.Minute)
	res := h.deliverSigned(payload)
	assert.Equal(t, http.StatusConflict, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusSkippedDuplicate, res.Status)
	assert.Equal(t, webhookdomain.ResultDuplicateInFlight, res.Body.Result)
	assert.Empty(t, h.grants(t))

	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, payload, "", "  "))
	res = h.deliverSigned(indented.Bytes())
	assert.Equal(t, http.StatusConflict, res.HTTPStatus)
	assert.Equal(t, webhookdomain.ResultDuplicateInFlight, res.Body.Result)
	assert.Nil(t, h.entry(t, res).DedupeHash, "a deferred row must not block the retry of its bytes")
	assert.Empty(t, h.grants(t))
}

func TestIngestRedeliveryTakesOverStaleClaim(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_crash", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))
	stale := h.abandonedEntry(t, payload, "evt_crash")

	h.clock.Advance(webhookdomain.DefaultClaimLease + time.Minute)
	res := h.deliverSigned(payload)
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusProcessed, res.Status)
	assert.Equal(t, string(grantdomain.PurchaseActionCreated), res.Body.Action)
	assert.Len(t, h.grants(t), 1)

	var old webhookdomain.LedgerEntry
	require.NoError(t, h.db.First(&old, "id = ?", stale.ID).Error)
	assert.Equal(t, webhookdomain.StatusFailed, old.Status)
	require.NotNil(t, old.Result)
	assert.Equal(t, webhookdomain.ResultClaimExpired, *old.Result)
	assert.Nil(t, old.DedupeHash)
	assert.Nil(t, old.DedupeEventID)

	again := h.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, again.HTTPStatus)
	assert.Equal(t, webhookdomain.ResultDuplicatePayload, again.Body.Result)
	assert.Len(t, h.grants(t), 1)
}

func TestIngestReserializedRedeliveryTakesOverStaleEventClaim(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_crash", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))
	h.abandonedEntry(t, payload, "evt_crash")

	h.clock.Advance(webhookdomain.DefaultClaimLease + time.Minute)
	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, payload, "", "  "))
	res := h.deliverSigned(indented.Bytes())
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusProcessed, res.Status)
	assert.Len(t, h.grants(t), 1)

	e := h.entry(t, res)
	require.NotNil(t, e.DedupeEventID)
	assert.Equal(t, "evt_crash", *e.DedupeEventID)
}

func TestIngestTestModeIgnoredInProduction(t *testing.T) {
	h := newHarness(t, config.EnvProduction)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1"))

	res := h.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusIgnoredTestMode, res.Status)
	assert.Equal(t, webhookdomain.ResultTestModeIgnored, res.Body.Result)
	assert.True(t, res.Body.Skipped)
	assert.Empty(t, h.grants(t))

	live := eventPayload(t, "evt_2", "checkout.session.completed", testNow, true, purchaseSession("cs_2", "pi_2"))
	res = h.deliverSigned(live)
	assert.Equal(t, webhookdomain.StatusProcessed, res.Status)
	assert.Len(t, h.grants(t), 1)
}

func TestIngestUnknownEventType(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	payload := eventPayload(t, "evt_1", "customer.tax_id.created", testNow, false, map[string]any{"id": "txi_1"})

	res := h.deliverSigned(payload)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusProcessed, res.Status)
	assert.False(t, res.Body.Handled)
	assert.Equal(t, webhookdomain.ResultUnhandledType, res.Body.Result)

	e := h.entry(t, res)
	require.NotNil(t, e.Handled)
	assert.False(t, *e.Handled)
}

func TestIngestSecondPurchaseExtendsGrant(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)

	first := h.deliverSigned(eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1")))
	require.Equal(t, string(grantdomain.PurchaseActionCreated), first.Body.Action)
	originalExpiry := testNow.Add(180 * 24 * time.Hour)

	h.clock.Advance(30 * 24 * time.Hour)
	second := h.deliverSigned(eventPayload(t, "evt_2", "checkout.session.completed", h.clock.Now(), false, purchaseSession("cs_2", "pi_2")))
	require.Equal(t, http.StatusOK, second.HTTPStatus)
	assert.Equal(t, string(grantdomain.PurchaseActionExtended), second.Body.Action)
	assert.Equal(t, first.Body.GrantID, second.Body.GrantID)

	items := h.grants(t)
	require.Len(t, items, 1)
	assert.True(t, items[0].ExpiresAt.Equal(originalExpiry.Add(90*24*time.Hour)))

	// Redelivery of the extension under a new event id is absorbed by the handler.
	again := h.deliverSigned(eventPayload(t, "evt_3", "checkout.session.completed", h.clock.Now(), false, purchaseSession("cs_2", "pi_2")))
	assert.Equal(t, string(grantdomain.PurchaseActionAlreadyProcessed), again.Body.Action)
	assert.True(t, h.grants(t)[0].ExpiresAt.Equal(originalExpiry.Add(90*24*time.Hour)))

	var org organizationdomain.Organization
	require.NoError(t, h.db.First(&org, "id = ?", testOrgID).Error)
	require.NotNil(t, org.StripeCustomerID)
	assert.Equal(t, "cus_acme", *org.StripeCustomerID)
}

func TestIngestDomainErrorReleasesClaimsForRetry(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	sub := map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"customer": "cus_unknown",
		"status":   "active",
		"items": map[string]any{"data": []map[string]any{
			{"price": map[string]any{"id": "price_not_configured"}},
		}},
	}
	payload := eventPayload(t, "evt_1", "customer.subscription.created", testNow, false, sub)
	signature := sign(payload)

	first := h.deliver(payload, signature)
	assert.Equal(t, http.StatusBadRequest, first.HTTPStatus)
	assert.Equal(t, webhookdomain.StatusFailed, first.Status)
	assert.NotEmpty(t, first.Body.Error)

	e := h.entry(t, first)
	assert.Nil(t, e.DedupeHash)
	assert.Nil(t, e.DedupeEventID)
	require.NotNil(t, e.Error)

	second := h.deliver(payload, signature)
	assert.Equal(t, http.StatusBadRequest, second.HTTPStatus, "a retry is processed again, not skipped")
	assert.Equal(t, webhookdomain.StatusFailed, second.Status)
}

func subscriptionObject(status string, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":                   "sub_1",
		"object":               "subscription",
		"customer":             map[string]any{"id": "cus_acme", "object": "customer"},
		"status":               status,
		"cancel_at_period_end": false,
		"metadata":             map[string]string{"org_id": testOrgID.String()},
		"items": map[string]any{"data": []map[string]any{
			{
				"price":                map[string]any{"id": "price_team_monthly"},
				"current_period_start": testNow.Unix(),
				"current_period_end":   periodEnd.Unix(),
			},
		}},
	}
}

func TestIngestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	periodEnd := testNow.Add(30 * 24 * time.Hour)

	load := func() subscriptiondomain.Subscription {
		var s subscriptiondomain.Subscription
		require.NoError(t, h.db.First(&s, "stripe_subscription_id = ?", "sub_1").Error)
		return s
	}

	res := h.deliverSigned(eventPayload(t, "evt_1", "customer.subscription.created", testNow, false, subscriptionObject("active", periodEnd)))
	require.Equal(t, http.StatusOK, res.HTTPStatus, res.Body.Error)
	assert.Equal(t, "subscription_created", res.Body.Result)
	s := load()
	assert.Equal(t, testOrgID, s.OrgID)
	assert.Equal(t, "team", s.PlanID)
	require.NotNil(t, s.PeriodEnd)
	assert.True(t, s.PeriodEnd.Equal(periodEnd))

	e := h.entry(t, res)
	require.NotNil(t, e.OrgID)
	assert.Equal(t, testOrgID, *e.OrgID)
	require.NotNil(t, e.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *e.StripeSubscriptionID)

	stale := h.deliverSigned(eventPayload(t, "evt_0", "customer.subscription.updated", testNow.Add(-time.Hour), false, subscriptionObject("canceled", periodEnd)))
	assert.Equal(t, "stale_event_ignored", stale.Body.Result)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, load().Status)

	invoice := map[string]any{"id": "in_1", "object": "invoice", "customer": "cus_acme", "subscription": "sub_1"}
	res = h.deliverSigned(eventPayload(t, "evt_2", "invoice.payment_failed", testNow.Add(time.Minute), false, invoice))
	assert.Equal(t, "subscription_past_due", res.Body.Result)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, load().Status)

	basil := map[string]any{
		"id": "in_2", "object": "invoice", "customer": "cus_acme",
		"parent": map[string]any{"subscription_details": map[string]any{"subscription": "sub_1"}},
	}
	res = h.deliverSigned(eventPayload(t, "evt_3", "invoice.paid", testNow.Add(2*time.Minute), false, basil))
	assert.Equal(t, "subscription_reactivated", res.Body.Result)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, load().Status)

	res = h.deliverSigned(eventPayload(t, "evt_4", "customer.subscription.deleted", testNow.Add(3*time.Minute), false, subscriptionObject("canceled", periodEnd)))
	assert.Equal(t, "subscription_canceled", res.Body.Result)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, load().Status)

	var count int64
	h.db.Model(&subscriptiondomain.Subscription{}).Count(&count)
	assert.EqualValues(t, 1, count, "subscriptions are never deleted")
}

func TestIngestSubscriptionCheckoutLinksCustomer(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	session := map[string]any{
		"id":                  "cs_sub",
		"object":              "checkout.session",
		"mode":                "subscription",
		"client_reference_id": testOrgID.String(),
		"customer":            "cus_new",
		"subscription":        "sub_9",
	}

	res := h.deliverSigned(eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, session))
	assert.Equal(t, string(organizationdomain.LinkResultLinked), res.Body.Result)

	// A subscription without org metadata is mapped through the linked customer.
	obj := subscriptionObject("trialing", testNow.Add(14*24*time.Hour))
	obj["id"] = "sub_9"
	obj["customer"] = "cus_new"
	obj["metadata"] = map[string]string{"tier": "starter_team"}
	res = h.deliverSigned(eventPayload(t, "evt_2", "customer.subscription.created", testNow, false, obj))
	require.Equal(t, http.StatusOK, res.HTTPStatus, res.Body.Error)

	var s subscriptiondomain.Subscription
	require.NoError(t, h.db.First(&s, "stripe_subscription_id = ?", "sub_9").Error)
	assert.Equal(t, testOrgID, s.OrgID)
	assert.Equal(t, "starter_team", s.PlanID)
}

func TestIngestChargeRefundedRevokesGrant(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	h.deliverSigned(eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1")))

	refund := map[string]any{"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "refunded": true}
	res := h.deliverSigned(eventPayload(t, "evt_2", "charge.refunded", testNow, false, refund))
	assert.Equal(t, string(grantdomain.RevokeActionRevoked), res.Body.Result)
	require.NotNil(t, h.grants(t)[0].RevokedAt)

	res = h.deliverSigned(eventPayload(t, "evt_3", "charge.refunded", testNow, false, refund))
	assert.Equal(t, string(grantdomain.RevokeActionAlreadyProcessed), res.Body.Result)

	unknown := map[string]any{"id": "ch_2", "object": "charge", "payment_intent": "pi_404", "refunded": true}
	res = h.deliverSigned(eventPayload(t, "evt_4", "charge.refunded", testNow, false, unknown))
	assert.Equal(t, string(grantdomain.RevokeActionNotFound), res.Body.Result)

	partial := map[string]any{"id": "ch_3", "object": "charge", "payment_intent": "pi_1", "refunded": false}
	res = h.deliverSigned(eventPayload(t, "evt_5", "charge.refunded", testNow, false, partial))
	assert.Equal(t, "partial_refund_ignored", res.Body.Result)
}

func TestIngestChargeRefundedRevertsExtension(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	h.deliverSigned(eventPayload(t, "evt_1", "checkout.session.completed", testNow, false, purchaseSession("cs_1", "pi_1")))
	beforeExtension := h.grants(t)[0].ExpiresAt

	h.clock.Advance(24 * time.Hour)
	h.deliverSigned(eventPayload(t, "evt_2", "checkout.session.completed", h.clock.Now(), false, purchaseSession("cs_2", "pi_2")))
	require.True(t, h.grants(t)[0].ExpiresAt.After(beforeExtension))

	refund := map[string]any{"id": "ch_2", "object": "charge", "payment_intent": "pi_2", "refunded": true}
	res := h.deliverSigned(eventPayload(t, "evt_3", "charge.refunded", h.clock.Now(), false, refund))
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, string(grantdomain.RevokeActionExtensionReverted), res.Body.Result)

	g := h.grants(t)[0]
	assert.True(t, g.ExpiresAt.Equal(beforeExtension))
	assert.Nil(t, g.RevokedAt)
	assert.Equal(t, g.ID.String(), res.Body.GrantID)
}

func TestListLedger(t *testing.T) {
	h := newHarness(t, config.EnvDevelopment)
	h.deliver([]byte(`{}`), "")
	for i := 0; i < 3; i++ {
		h.deliverSigned(eventPayload(t, fmt.Sprintf("evt_%d", i), "customer.tax_id.created", testNow, false, map[string]any{"id": i}))
	}

	all, err := h.svc.List(context.Background(), webhookdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all.Items, 4)
	assert.True(t, all.Items[0].ID > all.Items[1].ID, "newest first")

	processed, err := h.svc.List(context.Background(), webhookdomain.ListFilter{Status: "processed"})
	require.NoError(t, err)
	assert.Len(t, processed.Items, 3)

	page, err := h.svc.List(context.Background(), webhookdomain.ListFilter{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.True(t, page.PageInfo.HasMore)

	next, err := h.svc.List(context.Background(), webhookdomain.ListFilter{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, next.Items, 2)
	assert.False(t, next.PageInfo.HasMore)

	scoped, err := h.svc.List(context.Background(), webhookdomain.ListFilter{OrgID: snowflake.ID(999)})
	require.NoError(t, err)
	assert.Empty(t, scoped.Items)

	_, err = h.svc.List(context.Background(), webhookdomain.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidStatus)
}
