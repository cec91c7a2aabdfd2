// Package domain describes the derived access state of an organization.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	"github.com/smallbiznis/corates/internal/plan"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
)

var ErrInvalidOrgID = errors.New("invalid_org_id")

type Source string

const (
	SourceSubscription Source = "subscription"
	SourceGrant        Source = "grant"
	SourceFree         Source = "free"
)

type AccessMode string

const (
	AccessModeFull     AccessMode = "full"
	AccessModeReadOnly AccessMode = "readOnly"
	AccessModeFree     AccessMode = "free"
)

// Resolution is computed per request and never persisted.
type Resolution struct {
	OrgID           snowflake.ID                     `json:"orgId"`
	EffectivePlanID string                           `json:"effectivePlanId"`
	Source          Source                           `json:"source"`
	AccessMode      AccessMode                       `json:"accessMode"`
	Quotas          map[plan.QuotaKey]int64          `json:"quotas"`
	Entitlements    map[plan.Capability]bool         `json:"entitlements"`
	Subscription    *subscriptiondomain.Subscription `json:"subscription,omitempty"`
	Grant           *grantdomain.Grant               `json:"grant,omitempty"`
	ResolvedAt      time.Time                        `json:"resolvedAt"`
}

// Can reports whether capability is enabled for the organization.
func (r Resolution) Can(capability plan.Capability) bool {
	return r.Entitlements[capability]
}

func (r Resolution) Limit(key plan.QuotaKey) int64 {
	return r.Quotas[key]
}

func (r Resolution) IsReadOnly() bool {
	return r.AccessMode == AccessModeReadOnly
}
