package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/config"
	obscontext "github.com/smallbiznis/corates/internal/observability/context"
	obslogger "github.com/smallbiznis/corates/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/corates/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"github.com/smallbiznis/corates/internal/webhook/router"
	"github.com/smallbiznis/corates/pkg/db/pagination"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    webhookdomain.Repository
	Router  *router.Router
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	secret     string
	production bool
	clock      clock.Clock
	genID      *snowflake.Node
	repo       webhookdomain.Repository
	router     *router.Router
	metrics    *obsmetrics.Metrics
	claimLease time.Duration
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		secret:     p.Config.Stripe.WebhookSecret,
		production: p.Config.IsProduction(),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		router:     p.Router,
		metrics:    p.Metrics,
		claimLease: claimLease(p.Config.Stripe.WebhookClaimLease),
	}
}

func claimLease(d time.Duration) time.Duration {
	if d <= 0 {
		return webhookdomain.DefaultClaimLease
	}
	return d
}

// Ingest records the delivery in the ledger and moves it to exactly one terminal state.
// Trust is established in two phases: before verification only the body hash and the
// presence of a signature are used.
func (s *Service) Ingest(ctx context.Context, req webhookdomain.IngestRequest) (out webhookdomain.IngestResult) {
	if req.RequestID != "" && obscontext.RequestIDFromContext(ctx) == "" {
		ctx = obscontext.WithRequestID(ctx, req.RequestID)
	}
	log := obslogger.WithContext(ctx, s.log).With(zap.String("route", req.Route))
	defer func() {
		s.metrics.RecordWebhookEvent(ctx, string(out.Status), out.EventType)
	}()

	now := s.clock.Now()
	signature := strings.TrimSpace(req.Signature)
	entry := &webhookdomain.LedgerEntry{
		ID:               s.genID.Generate(),
		SignaturePresent: signature != "",
		Route:            req.Route,
		RequestID:        req.RequestID,
		ReceivedAt:       now,
	}

	body, err := readBody(req.Body)
	if err != nil {
		log.Warn("unreadable webhook body", zap.Error(err))
		entry.PayloadHash = hashPayload(body)
		return s.reject(ctx, log, entry, http.StatusBadRequest, webhookdomain.ResultUnreadableBody, err.Error())
	}
	hash := hashPayload(body)
	entry.PayloadHash = hash
	log = obslogger.WithLedgerEntry(log, entry.ID.String(), hash)

	if signature == "" {
		log.Warn("webhook without signature")
		return s.reject(ctx, log, entry, http.StatusForbidden, webhookdomain.ResultMissingSignature, "")
	}

	state, err := s.checkClaim(ctx, log, webhookdomain.ClaimPayloadHash, hash)
	if err != nil {
		log.Error("ledger lookup failed", zap.Error(err))
		return s.internalError(ctx, log, nil, err)
	}
	switch state {
	case claimDone:
		return s.skipDuplicatePayload(ctx, log, entry)
	case claimInFlight:
		return s.deferPayload(ctx, log, entry)
	}

	entry.Status = webhookdomain.StatusReceived
	entry.DedupeHash = &hash
	entry.HTTPStatus = http.StatusAccepted
	inserted, err := s.repo.Insert(ctx, s.db, entry)
	if err != nil {
		log.Error("ledger insert failed", zap.Error(err))
		return s.internalError(ctx, log, nil, err)
	}
	if !inserted {
		// Another delivery of the same bytes claimed the hash first.
		entry.ID = s.genID.Generate()
		entry.DedupeHash = nil
		return s.deferPayload(ctx, log, entry)
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn("webhook signature verification failed", zap.Error(err))
		s.finish(ctx, log, entry.ID, map[string]any{
			"status":      webhookdomain.StatusIgnoredUnverified,
			"dedupe_hash": nil,
			"http_status": http.StatusForbidden,
			"result":      webhookdomain.ResultInvalidSignature,
			"error":       err.Error(),
		})
		return result(entry.ID, webhookdomain.StatusIgnoredUnverified, "", http.StatusForbidden, webhookdomain.Response{
			Result: webhookdomain.ResultInvalidSignature,
			Error:  "invalid signature",
		})
	}

	eventType := string(event.Type)
	log = obslogger.WithStripeEvent(log, event.ID, eventType, event.Livemode)
	verified := map[string]any{
		"stripe_event_id": event.ID,
		"type":            eventType,
		"livemode":        event.Livemode,
	}
	if event.Created > 0 {
		verified["event_created_at"] = time.Unix(event.Created, 0).UTC()
	}
	if err := s.repo.Update(ctx, s.db, entry.ID, verified); err != nil {
		log.Error("ledger update failed", zap.Error(err))
		return s.internalError(ctx, log, &entry.ID, err, eventType)
	}

	state, err = s.claimEvent(ctx, log, entry.ID, event.ID)
	if err != nil {
		log.Error("event claim failed", zap.Error(err))
		return s.internalError(ctx, log, &entry.ID, err, eventType)
	}
	if state == claimInFlight {
		log.Info("event in flight elsewhere, asking for redelivery")
		s.finish(ctx, log, entry.ID, map[string]any{
			"status":      webhookdomain.StatusSkippedDuplicate,
			"http_status": http.StatusConflict,
			"result":      webhookdomain.ResultDuplicateInFlight,
			"dedupe_hash": nil,
		})
		return result(entry.ID, webhookdomain.StatusSkippedDuplicate, eventType, http.StatusConflict, webhookdomain.Response{
			Received: true,
			Skipped:  true,
			Result:   webhookdomain.ResultDuplicateInFlight,
		})
	}
	if state == claimDone {
		log.Info("duplicate event skipped")
		s.finish(ctx, log, entry.ID, map[string]any{
			"status":      webhookdomain.StatusSkippedDuplicate,
			"http_status": http.StatusOK,
			"result":      webhookdomain.ResultDuplicateEvent,
		})
		return result(entry.ID, webhookdomain.StatusSkippedDuplicate, eventType, http.StatusOK, webhookdomain.Response{
			Received: true,
			Skipped:  true,
			Result:   webhookdomain.ResultDuplicateEvent,
		})
	}

	if s.production && !event.Livemode {
		log.Warn("test mode event ignored in production")
		s.finish(ctx, log, entry.ID, map[string]any{
			"status":      webhookdomain.StatusIgnoredTestMode,
			"http_status": http.StatusOK,
			"result":      webhookdomain.ResultTestModeIgnored,
		})
		return result(entry.ID, webhookdomain.StatusIgnoredTestMode, eventType, http.StatusOK, webhookdomain.Response{
			Received: true,
			Skipped:  true,
			Result:   webhookdomain.ResultTestModeIgnored,
		})
	}

	return s.dispatch(ctx, log, entry.ID, &event)
}

func (s *Service) dispatch(ctx context.Context, log *zap.Logger, id snowflake.ID, event *stripe.Event) webhookdomain.IngestResult {
	eventType := string(event.Type)
	res, err := s.router.Dispatch(ctx, event)
	if err != nil {
		log.Error("webhook handler failed", zap.Error(err))
		return s.internalError(ctx, log, &id, err, eventType)
	}

	fields := linkFields(res.LedgerContext)
	fields["handled"] = res.Handled
	fields["result"] = res.Result
	fields["processed_at"] = s.clock.Now()

	if res.Error != "" {
		fields["status"] = webhookdomain.StatusFailed
		fields["http_status"] = http.StatusBadRequest
		fields["error"] = res.Error
		fields["dedupe_hash"] = nil
		fields["dedupe_event_id"] = nil
		s.finish(ctx, log, id, fields)
		return result(id, webhookdomain.StatusFailed, eventType, http.StatusBadRequest, webhookdomain.Response{
			Received: true,
			Handled:  res.Handled,
			Result:   res.Result,
			Error:    res.Error,
		})
	}

	fields["status"] = webhookdomain.StatusProcessed
	fields["http_status"] = http.StatusOK
	s.finish(ctx, log, id, fields)

	log.Info("webhook processed",
		zap.Bool("handled", res.Handled),
		zap.String("result", res.Result),
		zap.String("action", res.Action),
	)
	body := webhookdomain.Response{
		Received: true,
		Handled:  res.Handled,
		Result:   res.Result,
		Action:   res.Action,
	}
	if res.GrantID != 0 {
		body.GrantID = res.GrantID.String()
	}
	return result(id, webhookdomain.StatusProcessed, eventType, http.StatusOK, body)
}

type claimState int

const (
	claimFree claimState = iota
	claimDone
	claimInFlight
)

// checkClaim reports whether value is free, owned by a finished row, or owned by
// a row still being processed. A RECEIVED holder older than the lease is
// presumed dead: it is failed and its claims cleared so this delivery runs.
func (s *Service) checkClaim(ctx context.Context, log *zap.Logger, column webhookdomain.ClaimColumn, value string) (claimState, error) {
	holder, err := s.repo.FindClaimHolder(ctx, s.db, column, value)
	if err != nil {
		return claimFree, err
	}
	if holder == nil {
		return claimFree, nil
	}
	if holder.Status.IsTerminal() {
		return claimDone, nil
	}

	now := s.clock.Now()
	staleBefore := now.Add(-s.claimLease)
	if !holder.ReceivedAt.Before(staleBefore) {
		return claimInFlight, nil
	}
	expired, err := s.repo.ExpireClaim(ctx, s.db, holder.ID, staleBefore, map[string]any{
		"status":          webhookdomain.StatusFailed,
		"http_status":     http.StatusInternalServerError,
		"result":          webhookdomain.ResultClaimExpired,
		"error":           "processing did not finish within the claim lease",
		"dedupe_hash":     nil,
		"dedupe_event_id": nil,
		"processed_at":    now,
	})
	if err != nil {
		return claimFree, err
	}
	if !expired {
		// The holder finished or another redelivery expired it first.
		return claimInFlight, nil
	}
	log.Warn("stale ledger claim expired",
		zap.String("stale_ledger_id", holder.ID.String()),
		zap.String("claim", string(column)),
	)
	return claimFree, nil
}

// claimEvent takes the event id claim for row id.
func (s *Service) claimEvent(ctx context.Context, log *zap.Logger, id snowflake.ID, eventID string) (claimState, error) {
	if strings.TrimSpace(eventID) == "" {
		return claimFree, nil
	}
	state, err := s.checkClaim(ctx, log, webhookdomain.ClaimEventID, eventID)
	if err != nil || state != claimFree {
		return state, err
	}
	ok, err := s.repo.ClaimEvent(ctx, s.db, id, eventID)
	if err != nil {
		return claimFree, err
	}
	if !ok {
		return claimInFlight, nil
	}
	return claimFree, nil
}

func (s *Service) skipDuplicatePayload(ctx context.Context, log *zap.Logger, entry *webhookdomain.LedgerEntry) webhookdomain.IngestResult {
	log.Info("duplicate payload skipped", zap.String("payload_hash", entry.PayloadHash))
	entry.Status = webhookdomain.StatusSkippedDuplicate
	entry.HTTPStatus = http.StatusOK
	entry.Result = strPtr(webhookdomain.ResultDuplicatePayload)
	if _, err := s.repo.Insert(ctx, s.db, entry); err != nil {
		log.Warn("ledger insert for duplicate failed", zap.Error(err))
	}
	return result(entry.ID, webhookdomain.StatusSkippedDuplicate, "", http.StatusOK, webhookdomain.Response{
		Received: true,
		Skipped:  true,
		Result:   webhookdomain.ResultDuplicatePayload,
	})
}

// deferPayload records a delivery whose bytes another attempt is still
// processing. The 409 makes the provider redeliver later instead of dropping it.
func (s *Service) deferPayload(ctx context.Context, log *zap.Logger, entry *webhookdomain.LedgerEntry) webhookdomain.IngestResult {
	log.Info("payload in flight elsewhere, asking for redelivery", zap.String("payload_hash", entry.PayloadHash))
	entry.Status = webhookdomain.StatusSkippedDuplicate
	entry.HTTPStatus = http.StatusConflict
	entry.DedupeHash = nil
	entry.Result = strPtr(webhookdomain.ResultDuplicateInFlight)
	if _, err := s.repo.Insert(ctx, s.db, entry); err != nil {
		log.Warn("ledger insert for deferred delivery failed", zap.Error(err))
	}
	return result(entry.ID, webhookdomain.StatusSkippedDuplicate, "", http.StatusConflict, webhookdomain.Response{
		Received: true,
		Skipped:  true,
		Result:   webhookdomain.ResultDuplicateInFlight,
	})
}

// reject records an unverified delivery that holds no claim.
func (s *Service) reject(ctx context.Context, log *zap.Logger, entry *webhookdomain.LedgerEntry, status int, reason, detail string) webhookdomain.IngestResult {
	entry.Status = webhookdomain.StatusIgnoredUnverified
	entry.HTTPStatus = status
	entry.Result = strPtr(reason)
	if detail != "" {
		entry.Error = strPtr(detail)
	}
	if _, err := s.repo.Insert(ctx, s.db, entry); err != nil {
		log.Warn("ledger insert for rejected delivery failed", zap.Error(err))
	}
	return result(entry.ID, webhookdomain.StatusIgnoredUnverified, "", status, webhookdomain.Response{
		Result: reason,
		Error:  strings.ReplaceAll(reason, "_", " "),
	})
}

// internalError fails the row when one exists and releases its claims. Ledger update
// failures here are logged so the primary error is not masked.
func (s *Service) internalError(ctx context.Context, log *zap.Logger, id *snowflake.ID, cause error, eventType ...string) webhookdomain.IngestResult {
	var typ string
	if len(eventType) > 0 {
		typ = eventType[0]
	}
	var entryID snowflake.ID
	if id != nil {
		entryID = *id
		s.finish(ctx, log, entryID, map[string]any{
			"status":          webhookdomain.StatusFailed,
			"http_status":     http.StatusInternalServerError,
			"result":          webhookdomain.ResultInternalError,
			"error":           cause.Error(),
			"dedupe_hash":     nil,
			"dedupe_event_id": nil,
			"processed_at":    s.clock.Now(),
		})
	}
	return result(entryID, webhookdomain.StatusFailed, typ, http.StatusInternalServerError, webhookdomain.Response{
		Received: true,
		Result:   webhookdomain.ResultInternalError,
		Error:    "internal error",
	})
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, id snowflake.ID, fields map[string]any) {
	if err := s.repo.Update(ctx, s.db, id, fields); err != nil {
		log.Error("ledger update failed", zap.String("ledger_id", id.String()), zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, filter webhookdomain.ListFilter) (webhookdomain.ListResult, error) {
	q := webhookdomain.ListQuery{
		OrgID: filter.OrgID,
		Type:  strings.TrimSpace(filter.Type),
		Limit: filter.Size() + 1,
	}
	if raw := strings.ToUpper(strings.TrimSpace(filter.Status)); raw != "" {
		status := webhookdomain.LedgerStatus(raw)
		if !isKnownStatus(status) {
			return webhookdomain.ListResult{}, webhookdomain.ErrInvalidStatus
		}
		q.Status = status
	}
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return webhookdomain.ListResult{}, webhookdomain.ErrInvalidCursor
		}
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return webhookdomain.ListResult{}, webhookdomain.ErrInvalidCursor
		}
		q.BeforeID = before
	}

	items, err := s.repo.List(ctx, s.db, q)
	if err != nil {
		return webhookdomain.ListResult{}, err
	}
	page, info, err := pagination.Trim(items, filter.Size(), func(e webhookdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String()}
	})
	if err != nil {
		return webhookdomain.ListResult{}, err
	}
	if page == nil {
		page = []webhookdomain.LedgerEntry{}
	}
	return webhookdomain.ListResult{Items: page, PageInfo: info}, nil
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("empty body")
	}
	body, err := io.ReadAll(io.LimitReader(r, webhookdomain.MaxBodyBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > webhookdomain.MaxBodyBytes {
		return body[:webhookdomain.MaxBodyBytes], webhookdomain.ErrBodyTooLarge
	}
	return body, nil
}

func hashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func linkFields(lc webhookdomain.LinkContext) map[string]any {
	fields := map[string]any{}
	if lc.OrgID != 0 {
		fields["org_id"] = lc.OrgID
	}
	if lc.StripeSubscriptionID != "" {
		fields["stripe_subscription_id"] = lc.StripeSubscriptionID
	}
	if lc.StripeCustomerID != "" {
		fields["stripe_customer_id"] = lc.StripeCustomerID
	}
	if lc.CheckoutSessionID != "" {
		fields["checkout_session_id"] = lc.CheckoutSessionID
	}
	if lc.GrantID != 0 {
		fields["grant_id"] = lc.GrantID
	}
	if len(lc.Extra) > 0 {
		fields["context"] = datatypes.JSONMap(lc.Extra)
	}
	return fields
}

func isKnownStatus(s webhookdomain.LedgerStatus) bool {
	switch s {
	case webhookdomain.StatusReceived,
		webhookdomain.StatusIgnoredUnverified,
		webhookdomain.StatusSkippedDuplicate,
		webhookdomain.StatusIgnoredTestMode,
		webhookdomain.StatusProcessed,
		webhookdomain.StatusFailed:
		return true
	default:
		return false
	}
}

func result(id snowflake.ID, status webhookdomain.LedgerStatus, eventType string, httpStatus int, body webhookdomain.Response) webhookdomain.IngestResult {
	out := webhookdomain.IngestResult{
		HTTPStatus: httpStatus,
		Body:       body,
		Status:     status,
		EventType:  eventType,
	}
	if id != 0 {
		out.EntryID = id.String()
	}
	return out
}

func strPtr(s string) *string {
	return &s
}
