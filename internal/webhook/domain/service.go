package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corates/pkg/db/pagination"
)

// MaxBodyBytes bounds the webhook body read.
const MaxBodyBytes int64 = 1 << 20

// DefaultClaimLease is how long a RECEIVED row may hold its claims before a
// redelivery presumes the original attempt died and takes them over.
const DefaultClaimLease = 5 * time.Minute

const (
	ResultUnreadableBody    = "unreadable_body"
	ResultMissingSignature  = "missing_signature"
	ResultInvalidSignature  = "invalid_signature"
	ResultDuplicatePayload  = "duplicate_payload"
	ResultDuplicateEvent    = "duplicate_event"
	ResultDuplicateInFlight = "duplicate_in_flight"
	ResultClaimExpired      = "claim_expired"
	ResultTestModeIgnored   = "test_mode_ignored"
	ResultUnhandledType     = "unhandled_event_type"
	ResultHandlerFailed     = "handler_failed"
	ResultInternalError     = "internal_error"
)

var (
	ErrBodyTooLarge  = errors.New("body_too_large")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidCursor = errors.New("invalid_cursor")
)

type IngestRequest struct {
	Body      io.Reader
	Signature string
	Route     string
	RequestID string
}

// Response is the JSON body returned to the payment provider.
type Response struct {
	Received bool   `json:"received"`
	Handled  bool   `json:"handled"`
	Result   string `json:"result,omitempty"`
	Action   string `json:"action,omitempty"`
	GrantID  string `json:"grantId,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

type IngestResult struct {
	HTTPStatus int
	Body       Response
	Status     LedgerStatus
	EventType  string
	EntryID    string
}

// ListFilter scopes the listing to OrgID when it is set.
type ListFilter struct {
	OrgID  snowflake.ID
	Status string
	Type   string
	pagination.Pagination
}

type ListResult struct {
	Items    []LedgerEntry       `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) IngestResult
	List(ctx context.Context, filter ListFilter) (ListResult, error)
}
