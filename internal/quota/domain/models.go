// Package domain describes quota checks and plan-change validation results.
package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/corates/internal/plan"
)

var (
	ErrUnknownPlan     = errors.New("unknown_plan")
	ErrUnknownQuotaKey = errors.New("unknown_quota_key")
	ErrInvalidOrgID    = errors.New("invalid_org_id")
)

const (
	ReasonQuotaExceeded  = "quota_exceeded"
	ReasonAccessReadOnly = "access_read_only"
)

// Check is the outcome of comparing live usage with the resolved limit.
type Check struct {
	QuotaKey plan.QuotaKey `json:"quotaKey"`
	Allowed  bool          `json:"allowed"`
	Used     int64         `json:"used"`
	Limit    int64         `json:"limit"`
	PlanID   string        `json:"planId"`
}

// Allows applies the quota rule: used < limit, or the limit is unlimited.
func Allows(used, limit int64) bool {
	return limit == plan.Unlimited || used < limit
}

// QuotaError is returned when a create would exceed the org's quota or the org is read-only.
type QuotaError struct {
	QuotaKey plan.QuotaKey
	Used     int64
	Limit    int64
	PlanID   string
	Reason   string
}

func (e *QuotaError) Error() string {
	if e.Reason == ReasonAccessReadOnly {
		return fmt.Sprintf("%s: organization access is read-only", e.QuotaKey)
	}
	return fmt.Sprintf("%s: quota exceeded (%d/%d)", e.QuotaKey, e.Used, e.Limit)
}

func (c Check) Err(reason string) *QuotaError {
	return &QuotaError{
		QuotaKey: c.QuotaKey,
		Used:     c.Used,
		Limit:    c.Limit,
		PlanID:   c.PlanID,
		Reason:   reason,
	}
}

type Usage struct {
	Projects      int64 `json:"projects"`
	Collaborators int64 `json:"collaborators"`
}

// ByKey returns the usage counted for quotaKey.
func (u Usage) ByKey(key plan.QuotaKey) int64 {
	switch key {
	case plan.QuotaProjects:
		return u.Projects
	case plan.QuotaCollaborators:
		return u.Collaborators
	default:
		return 0
	}
}

type Violation struct {
	QuotaKey plan.QuotaKey `json:"quotaKey"`
	Used     int64         `json:"used"`
	Limit    int64         `json:"limit"`
	Message  string        `json:"message"`
}

type Validation struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
	Usage      Usage       `json:"usage"`
	TargetPlan plan.Plan   `json:"targetPlan"`
}
