package service

import (
	"sort"
	"time"

	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	"github.com/smallbiznis/corates/internal/plan"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
)

// SelectSubscription returns the active subscription with the latest period end.
// Rows without a period end sort last; equal period ends fall back to the higher id.
func SelectSubscription(subs []subscriptiondomain.Subscription, now time.Time) *subscriptiondomain.Subscription {
	var best *subscriptiondomain.Subscription
	for i := range subs {
		sub := subs[i]
		if !sub.IsActive(now) {
			continue
		}
		if best == nil || subscriptionBefore(*best, sub) {
			candidate := sub
			best = &candidate
		}
	}
	return best
}

// subscriptionBefore reports whether a ranks below b.
func subscriptionBefore(a, b subscriptiondomain.Subscription) bool {
	switch {
	case a.PeriodEnd == nil && b.PeriodEnd != nil:
		return true
	case a.PeriodEnd != nil && b.PeriodEnd == nil:
		return false
	case a.PeriodEnd != nil && b.PeriodEnd != nil && !a.PeriodEnd.Equal(*b.PeriodEnd):
		return a.PeriodEnd.Before(*b.PeriodEnd)
	}
	return a.ID < b.ID
}

// SelectActiveGrant picks among grants active at now by type precedence, then the latest
// expiry, then the latest start, then the higher id.
func SelectActiveGrant(grants []grantdomain.Grant, now time.Time) *grantdomain.Grant {
	active := make([]grantdomain.Grant, 0, len(grants))
	for _, g := range grants {
		if g.IsActive(now) {
			active = append(active, g)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Type.Precedence() != b.Type.Precedence() {
			return a.Type.Precedence() > b.Type.Precedence()
		}
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.After(b.ExpiresAt)
		}
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.After(b.StartsAt)
		}
		return a.ID > b.ID
	})
	return &active[0]
}

// SelectExpiredGrant returns the most recently expired grant of any type.
func SelectExpiredGrant(grants []grantdomain.Grant, now time.Time) *grantdomain.Grant {
	var best *grantdomain.Grant
	for i := range grants {
		g := grants[i]
		if !g.IsExpired(now) {
			continue
		}
		if best == nil ||
			g.ExpiresAt.After(best.ExpiresAt) ||
			(g.ExpiresAt.Equal(best.ExpiresAt) && g.ID > best.ID) {
			candidate := g
			best = &candidate
		}
	}
	return best
}

// Decide applies the precedence subscription, active grant, expired grant, free.
func Decide(subs []subscriptiondomain.Subscription, grants []grantdomain.Grant, now time.Time) accessdomain.Resolution {
	if sub := SelectSubscription(subs, now); sub != nil {
		p := planOrFree(sub.PlanID)
		return accessdomain.Resolution{
			OrgID:           sub.OrgID,
			EffectivePlanID: sub.PlanID,
			Source:          accessdomain.SourceSubscription,
			AccessMode:      accessdomain.AccessModeFull,
			Quotas:          p.Quotas,
			Entitlements:    p.Entitlements,
			Subscription:    sub,
			ResolvedAt:      now,
		}
	}

	if g := SelectActiveGrant(grants, now); g != nil {
		p := grantPlan(g.Type)
		return accessdomain.Resolution{
			OrgID:           g.OrgID,
			EffectivePlanID: p.ID,
			Source:          accessdomain.SourceGrant,
			AccessMode:      accessdomain.AccessModeFull,
			Quotas:          p.Quotas,
			Entitlements:    p.Entitlements,
			Grant:           g,
			ResolvedAt:      now,
		}
	}

	if g := SelectExpiredGrant(grants, now); g != nil {
		p := grantPlan(g.Type)
		for _, capability := range plan.CreateCapabilities {
			p.Entitlements[capability] = false
		}
		return accessdomain.Resolution{
			OrgID:           g.OrgID,
			EffectivePlanID: p.ID,
			Source:          accessdomain.SourceGrant,
			AccessMode:      accessdomain.AccessModeReadOnly,
			Quotas:          p.Quotas,
			Entitlements:    p.Entitlements,
			Grant:           g,
			ResolvedAt:      now,
		}
	}

	free := plan.Free()
	return accessdomain.Resolution{
		EffectivePlanID: free.ID,
		Source:          accessdomain.SourceFree,
		AccessMode:      accessdomain.AccessModeFree,
		Quotas:          free.Quotas,
		Entitlements:    free.Entitlements,
		ResolvedAt:      now,
	}
}

// planOrFree keeps an unrecognised subscription plan from granting anything.
func planOrFree(id string) plan.Plan {
	if p, ok := plan.Lookup(id); ok {
		return p
	}
	free := plan.Free()
	free.ID = id
	return free
}

func grantPlan(t grantdomain.GrantType) plan.Plan {
	if p, ok := plan.ForGrantType(string(t)); ok {
		return p
	}
	free := plan.Free()
	free.ID = string(t)
	return free
}
