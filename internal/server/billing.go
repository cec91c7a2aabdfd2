package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	"github.com/smallbiznis/corates/internal/plan"
	"go.uber.org/zap"
)

const (
	billingStatusActive   = "active"
	billingStatusExpired  = "expired"
	billingStatusInactive = "inactive"
)

type subscriptionResponse struct {
	Tier              string                   `json:"tier"`
	Status            string                   `json:"status"`
	AccessMode        accessdomain.AccessMode  `json:"accessMode"`
	Source            accessdomain.Source      `json:"source"`
	CurrentPeriodEnd  *time.Time               `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool                     `json:"cancelAtPeriodEnd"`
	ProjectCount      int64                    `json:"projectCount"`
	Quotas            map[plan.QuotaKey]int64  `json:"quotas"`
	Entitlements      map[plan.Capability]bool `json:"entitlements"`
}

type usageResponse struct {
	Projects      int64                   `json:"projects"`
	Collaborators int64                   `json:"collaborators"`
	PlanID        string                  `json:"planId"`
	Limits        map[plan.QuotaKey]int64 `json:"limits"`
}

type validatePlanChangeRequest struct {
	TargetPlan string `json:"targetPlan" binding:"required"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	userID, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req checkoutdomain.SubscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Tier = strings.TrimSpace(req.Tier)
	req.Interval = strings.TrimSpace(req.Interval)

	session, err := s.checkoutSvc.CreateSubscriptionCheckout(c.Request.Context(), orgID, userID, req)
	if err != nil {
		s.logCheckoutFailure(c, "subscription", err)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) CreateSingleProjectCheckout(c *gin.Context) {
	userID, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.checkoutSvc.CreateSingleProjectCheckout(c.Request.Context(), orgID, userID)
	if err != nil {
		s.logCheckoutFailure(c, "single_project", err)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) logCheckoutFailure(c *gin.Context, mode string, err error) {
	if !errors.Is(err, checkoutdomain.ErrSessionFailed) && !errors.Is(err, checkoutdomain.ErrPriceNotConfigured) {
		return
	}
	s.log.Error("checkout session failed",
		zap.String("mode", mode),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err),
	)
}

func (s *Server) StartTrial(c *gin.Context) {
	_, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.grantSvc.StartTrial(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

func (s *Server) GetSubscription(c *gin.Context) {
	_, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	resolution, err := s.resolver.Resolve(ctx, orgID, time.Time{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	usage, err := s.quota.Usage(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := subscriptionResponse{
		Tier:         resolution.EffectivePlanID,
		Status:       billingStatusInactive,
		AccessMode:   resolution.AccessMode,
		Source:       resolution.Source,
		ProjectCount: usage.Projects,
		Quotas:       resolution.Quotas,
		Entitlements: resolution.Entitlements,
	}
	switch {
	case resolution.Source == accessdomain.SourceSubscription && resolution.Subscription != nil:
		sub := resolution.Subscription
		resp.Status = string(sub.Status)
		resp.CurrentPeriodEnd = sub.PeriodEnd
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	case resolution.Source == accessdomain.SourceGrant && resolution.Grant != nil:
		expiresAt := resolution.Grant.ExpiresAt
		resp.CurrentPeriodEnd = &expiresAt
		resp.Status = billingStatusActive
		if resolution.IsReadOnly() {
			resp.Status = billingStatusExpired
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetUsage(c *gin.Context) {
	_, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	usage, err := s.quota.Usage(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resolution, err := s.resolver.Resolve(ctx, orgID, time.Time{})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usageResponse{
		Projects:      usage.Projects,
		Collaborators: usage.Collaborators,
		PlanID:        resolution.EffectivePlanID,
		Limits:        resolution.Quotas,
	})
}

func (s *Server) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": plan.All()})
}

func (s *Server) ValidatePlanChange(c *gin.Context) {
	_, orgID, err := s.callerFromContext(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req validatePlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, newValidationError("targetPlan", "required", "targetPlan is required"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	validation, err := s.quota.ValidatePlanChange(c.Request.Context(), orgID, strings.TrimSpace(req.TargetPlan))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, validation)
}
