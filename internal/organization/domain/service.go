package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member" // Read-only billing
)

func IsAssignableRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (*OrganizationResponse, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	AddMember(ctx context.Context, orgID snowflake.ID, req AddMemberRequest) (*MemberResponse, error)
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]MemberResponse, error)
	MemberRole(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error)

	// LinkStripeCustomer and FindByStripeCustomer run inside the caller's transaction.
	LinkStripeCustomer(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, customerID string) (LinkResult, error)
	FindByStripeCustomer(ctx context.Context, tx *gorm.DB, customerID string) (*Organization, error)
}

type CreateOrganizationRequest struct {
	Name string
}

type AddMemberRequest struct {
	UserID snowflake.ID
	Role   string
}

type LinkResult string

const (
	LinkResultLinked        LinkResult = "customer_linked"
	LinkResultAlreadyLinked LinkResult = "customer_already_linked"
	// LinkResultKept means the org was linked to a different customer and the first link stays.
	LinkResultKept LinkResult = "customer_link_kept"
)

type OrganizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberResponse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrNotFound            = errors.New("organization_not_found")
	ErrNotMember           = errors.New("not_member")
	ErrAlreadyMember       = errors.New("already_member")
	ErrCustomerLinked      = errors.New("customer_linked_to_other_organization")
)
