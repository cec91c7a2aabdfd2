package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)

const (
	ObjectBilling       = "billing"
	ObjectMember        = "member"
	ObjectProject       = "project"
	ObjectWebhookLedger = "webhook_ledger"
)

const (
	ActionBillingCheckout   = "billing.checkout"
	ActionBillingView       = "billing.view"
	ActionMemberInvite      = "member.invite"
	ActionProjectCreate     = "project.create"
	ActionWebhookLedgerView = "webhook_ledger.view"
)

// Service decides whether a user may perform an action inside an organization.
type Service interface {
	Authorize(ctx context.Context, userID, orgID snowflake.ID, object, action string) error
}
