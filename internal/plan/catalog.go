// Package plan holds the compiled-in plan catalog. Plans are configuration, not rows.
package plan

import (
	"sort"
	"strings"
)

type QuotaKey string

const (
	QuotaProjects      QuotaKey = "projects.max"
	QuotaCollaborators QuotaKey = "collaborators.org.max"
)

// Unlimited is the quota value that disables a limit.
const Unlimited int64 = -1

type Capability string

const (
	CapabilityProjectCreate Capability = "project.create"
	CapabilityMemberInvite  Capability = "member.invite"
	CapabilityProjectExport Capability = "project.export"
	CapabilityProjectView   Capability = "project.view"
)

// CreateCapabilities are suppressed whenever access is not full.
var CreateCapabilities = []Capability{
	CapabilityProjectCreate,
	CapabilityMemberInvite,
}

const (
	IDFree          = "free"
	IDSingleProject = "single_project"
	IDTrial         = "trial"
	IDStarterTeam   = "starter_team"
	IDTeam          = "team"
	IDUnlimitedTeam = "unlimited_team"
)

type Plan struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Rank         int                 `json:"rank"`
	Quotas       map[QuotaKey]int64  `json:"quotas"`
	Entitlements map[Capability]bool `json:"entitlements"`
}

// Limit returns the plan's limit for key. Keys the plan does not define are zero.
func (p Plan) Limit(key QuotaKey) int64 {
	return p.Quotas[key]
}

// QuotaKeys returns the plan's quota keys in a stable order.
func (p Plan) QuotaKeys() []QuotaKey {
	keys := make([]QuotaKey, 0, len(p.Quotas))
	for k := range p.Quotas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p Plan) clone() Plan {
	out := p
	out.Quotas = make(map[QuotaKey]int64, len(p.Quotas))
	for k, v := range p.Quotas {
		out.Quotas[k] = v
	}
	out.Entitlements = make(map[Capability]bool, len(p.Entitlements))
	for k, v := range p.Entitlements {
		out.Entitlements[k] = v
	}
	return out
}

func allEntitlements() map[Capability]bool {
	return map[Capability]bool{
		CapabilityProjectCreate: true,
		CapabilityMemberInvite:  true,
		CapabilityProjectExport: true,
		CapabilityProjectView:   true,
	}
}

func quotas(projects, collaborators int64) map[QuotaKey]int64 {
	return map[QuotaKey]int64{
		QuotaProjects:      projects,
		QuotaCollaborators: collaborators,
	}
}

var catalog = map[string]Plan{
	IDFree: {
		ID:     IDFree,
		Name:   "Free",
		Rank:   0,
		Quotas: quotas(0, 0),
		Entitlements: map[Capability]bool{
			CapabilityProjectCreate: false,
			CapabilityMemberInvite:  false,
			CapabilityProjectExport: false,
			CapabilityProjectView:   false,
		},
	},
	IDSingleProject: {ID: IDSingleProject, Name: "Single Project", Rank: 1, Quotas: quotas(1, 3), Entitlements: allEntitlements()},
	IDTrial:         {ID: IDTrial, Name: "Trial", Rank: 2, Quotas: quotas(1, 3), Entitlements: allEntitlements()},
	IDStarterTeam:   {ID: IDStarterTeam, Name: "Starter Team", Rank: 3, Quotas: quotas(3, 5), Entitlements: allEntitlements()},
	IDTeam:          {ID: IDTeam, Name: "Team", Rank: 4, Quotas: quotas(10, 15), Entitlements: allEntitlements()},
	IDUnlimitedTeam: {ID: IDUnlimitedTeam, Name: "Unlimited Team", Rank: 5, Quotas: quotas(Unlimited, Unlimited), Entitlements: allEntitlements()},
}

// paidTiers are the plans sold as recurring subscriptions.
var paidTiers = map[string]struct{}{
	IDStarterTeam:   {},
	IDTeam:          {},
	IDUnlimitedTeam: {},
}

// Lookup returns a copy of the plan so callers cannot mutate the catalog.
func Lookup(id string) (Plan, bool) {
	p, ok := catalog[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, false
	}
	return p.clone(), true
}

func Free() Plan {
	return catalog[IDFree].clone()
}

// ForGrantType maps a grant type to the plan it confers.
func ForGrantType(grantType string) (Plan, bool) {
	switch strings.TrimSpace(grantType) {
	case "trial":
		return Lookup(IDTrial)
	case "single_project":
		return Lookup(IDSingleProject)
	default:
		return Plan{}, false
	}
}

func IsPaidTier(id string) bool {
	_, ok := paidTiers[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// IsDowngrade reports whether moving from one plan to another lowers the rank.
// Unknown plans are treated as free.
func IsDowngrade(from, to string) bool {
	fromPlan, ok := Lookup(from)
	if !ok {
		fromPlan = Free()
	}
	toPlan, ok := Lookup(to)
	if !ok {
		toPlan = Free()
	}
	return toPlan.Rank < fromPlan.Rank
}

// All returns every plan ordered by rank.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// PaidTierIDs returns the subscription tiers ordered by rank.
func PaidTierIDs() []string {
	ids := make([]string, 0, len(paidTiers))
	for _, p := range All() {
		if IsPaidTier(p.ID) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
