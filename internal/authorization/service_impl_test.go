package authorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOrg    = snowflake.ID(100)
	testOwner  = snowflake.ID(1)
	testAdmin  = snowflake.ID(2)
	testMember = snowflake.ID(3)
	testNobody = snowflake.ID(4)
)

func setupAuthorization(t *testing.T) (*gorm.DB, Service) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&organizationdomain.OrganizationMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	members := []organizationdomain.OrganizationMember{
		{ID: 11, OrgID: testOrg, UserID: testOwner, Role: organizationdomain.RoleOwner, CreatedAt: now},
		{ID: 12, OrgID: testOrg, UserID: testAdmin, Role: organizationdomain.RoleAdmin, CreatedAt: now},
		{ID: 13, OrgID: testOrg, UserID: testMember, Role: organizationdomain.RoleMember, CreatedAt: now},
	}
	if err := db.Create(&members).Error; err != nil {
		t.Fatalf("seed members: %v", err)
	}

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return db, NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRoles(t *testing.T) {
	_, svc := setupAuthorization(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		user    snowflake.ID
		object  string
		action  string
		allowed bool
	}{
		{"owner checkout", testOwner, ObjectBilling, ActionBillingCheckout, true},
		{"admin checkout", testAdmin, ObjectBilling, ActionBillingCheckout, false},
		{"member checkout", testMember, ObjectBilling, ActionBillingCheckout, false},
		{"member view billing", testMember, ObjectBilling, ActionBillingView, true},
		{"member invite", testMember, ObjectMember, ActionMemberInvite, false},
		{"admin invite", testAdmin, ObjectMember, ActionMemberInvite, true},
		{"member create project", testMember, ObjectProject, ActionProjectCreate, true},
		{"admin ledger", testAdmin, ObjectWebhookLedger, ActionWebhookLedgerView, false},
		{"owner ledger", testOwner, ObjectWebhookLedger, ActionWebhookLedgerView, true},
		{"non member", testNobody, ObjectBilling, ActionBillingView, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.user, testOrg, tc.object, tc.action)
			if tc.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tc.allowed && err != ErrForbidden {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	db, svc := setupAuthorization(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, testAdmin, testOrg, ObjectBilling, ActionBillingCheckout); err != ErrForbidden {
		t.Fatalf("expected admin to be denied, got %v", err)
	}

	if err := db.Model(&organizationdomain.OrganizationMember{}).
		Where("user_id = ?", testAdmin).
		Update("role", organizationdomain.RoleOwner).Error; err != nil {
		t.Fatalf("promote: %v", err)
	}

	if err := svc.Authorize(ctx, testAdmin, testOrg, ObjectBilling, ActionBillingCheckout); err != nil {
		t.Fatalf("expected promoted user to be allowed, got %v", err)
	}
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	_, svc := setupAuthorization(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, 0, testOrg, ObjectBilling, ActionBillingView); err != ErrInvalidActor {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
	if err := svc.Authorize(ctx, testOwner, 0, ObjectBilling, ActionBillingView); err != ErrInvalidOrganization {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
	if err := svc.Authorize(ctx, testOwner, testOrg, " ", ActionBillingView); err != ErrInvalidObject {
		t.Fatalf("expected ErrInvalidObject, got %v", err)
	}
	if err := svc.Authorize(ctx, testOwner, testOrg, ObjectBilling, ""); err != ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
