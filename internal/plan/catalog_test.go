package plan

import (
	"testing"
)

func TestFreePlanHasNoCapacity(t *testing.T) {
	free := Free()
	for _, key := range free.QuotaKeys() {
		if free.Limit(key) != 0 {
			t.Fatalf("expected free quota %s to be zero, got %d", key, free.Limit(key))
		}
	}
	for _, capability := range CreateCapabilities {
		if free.Entitlements[capability] {
			t.Fatalf("expected free plan to lack %s", capability)
		}
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	p, ok := Lookup(IDTeam)
	if !ok {
		t.Fatalf("expected team plan")
	}
	p.Quotas[QuotaProjects] = 999

	again, _ := Lookup(IDTeam)
	if again.Limit(QuotaProjects) != 10 {
		t.Fatalf("catalog mutated through lookup copy: %d", again.Limit(QuotaProjects))
	}
}

func TestForGrantType(t *testing.T) {
	cases := map[string]string{
		"trial":          IDTrial,
		"single_project": IDSingleProject,
	}
	for grantType, want := range cases {
		p, ok := ForGrantType(grantType)
		if !ok || p.ID != want {
			t.Fatalf("grant type %s: expected %s, got %s (ok=%v)", grantType, want, p.ID, ok)
		}
	}
	if _, ok := ForGrantType("bogus"); ok {
		t.Fatalf("expected unknown grant type to miss")
	}
}

func TestIsDowngrade(t *testing.T) {
	if !IsDowngrade(IDTeam, IDStarterTeam) {
		t.Fatalf("team -> starter_team should be a downgrade")
	}
	if IsDowngrade(IDStarterTeam, IDUnlimitedTeam) {
		t.Fatalf("starter_team -> unlimited_team is an upgrade")
	}
	if IsDowngrade(IDFree, IDStarterTeam) {
		t.Fatalf("free -> starter_team is an upgrade")
	}
	if !IsDowngrade(IDTrial, IDFree) {
		t.Fatalf("trial -> free should be a downgrade")
	}
}

func TestUnlimitedTeam(t *testing.T) {
	p, _ := Lookup(IDUnlimitedTeam)
	if p.Limit(QuotaProjects) != Unlimited || p.Limit(QuotaCollaborators) != Unlimited {
		t.Fatalf("expected unlimited quotas, got %+v", p.Quotas)
	}
}

func TestPaidTierIDsOrderedByRank(t *testing.T) {
	ids := PaidTierIDs()
	want := []string{IDStarterTeam, IDTeam, IDUnlimitedTeam}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
