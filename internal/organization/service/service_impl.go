package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/corates/internal/clock"
	"github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"github.com/smallbiznis/corates/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Quota quotadomain.Enforcer
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	quota quotadomain.Enforcer
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		quota: p.Quota,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:        orgID,
		Name:      name,
		Slug:      slug.Make(name) + "-" + orgID.Base36(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		}

		return repo.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", orgID.String()),
		zap.String("owner_user_id", userID.String()),
	)

	return &domain.OrganizationResponse{
		ID:        orgID.String(),
		Name:      name,
		Slug:      org.Slug,
		CreatedAt: now,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.OrganizationResponse, error) {
	if id == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}

	return &domain.OrganizationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		Slug:      org.Slug,
		CreatedAt: org.CreatedAt,
	}, nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

// AddMember adds a collaborator. The collaborator quota is checked and the row inserted
// in one transaction.
func (s *service) AddMember(ctx context.Context, orgID snowflake.ID, req domain.AddMemberRequest) (*domain.MemberResponse, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleMember
	}
	if !domain.IsAssignableRole(role) {
		return nil, domain.ErrInvalidRole
	}

	existing, err := s.repo.FindMember(ctx, orgID, req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrAlreadyMember
	}

	member := domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    req.UserID,
		Role:      role,
		CreatedAt: s.clock.Now(),
	}
	_, err = s.quota.InsertWithQuotaCheck(ctx, orgID, plan.QuotaCollaborators, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).AddMember(ctx, member); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyMember
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("member added",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("role", role),
	)
	return memberResponse(member), nil
}

func (s *service) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.MemberResponse, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	members, err := s.repo.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, *memberResponse(m))
	}
	return resp, nil
}

func (s *service) MemberRole(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	member, err := s.repo.FindMember(ctx, orgID, userID)
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", domain.ErrNotMember
	}
	return member.Role, nil
}

// LinkStripeCustomer records the payment provider customer for an org. The first link wins.
func (s *service) LinkStripeCustomer(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, customerID string) (domain.LinkResult, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", domain.ErrInvalidCustomer
	}
	if orgID == 0 {
		return "", domain.ErrInvalidOrganization
	}
	repo := s.txRepo(tx)

	owner, err := repo.FindByStripeCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	if owner != nil {
		if owner.ID != orgID {
			return "", domain.ErrCustomerLinked
		}
		return domain.LinkResultAlreadyLinked, nil
	}

	linked, err := repo.LinkStripeCustomer(ctx, orgID, customerID, s.clock.Now())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return "", domain.ErrCustomerLinked
		}
		return "", err
	}
	if linked {
		return domain.LinkResultLinked, nil
	}

	org, err := repo.FindByID(ctx, orgID)
	if err != nil {
		return "", err
	}
	if org == nil {
		return "", domain.ErrNotFound
	}
	s.log.Warn("organization already linked to another customer",
		zap.String("org_id", orgID.String()),
		zap.String("stripe_customer_id", customerID),
	)
	return domain.LinkResultKept, nil
}

func (s *service) FindByStripeCustomer(ctx context.Context, tx *gorm.DB, customerID string) (*domain.Organization, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	return s.txRepo(tx).FindByStripeCustomer(ctx, customerID)
}

func (s *service) txRepo(tx *gorm.DB) domain.Repository {
	if tx == nil {
		return s.repo.WithTx(s.db)
	}
	return s.repo.WithTx(tx)
}

func memberResponse(m domain.OrganizationMember) *domain.MemberResponse {
	return &domain.MemberResponse{
		ID:        m.ID.String(),
		OrgID:     m.OrgID.String(),
		UserID:    m.UserID.String(),
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	}
}
