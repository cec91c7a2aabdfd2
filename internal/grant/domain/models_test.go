package domain

import (
	"testing"
	"time"
)

func TestGrantWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g := Grant{StartsAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}
	if !g.IsActive(now) || g.IsExpired(now) {
		t.Fatalf("expected active grant")
	}

	if !g.IsActive(g.StartsAt) {
		t.Fatalf("window start is inclusive")
	}
	if g.IsActive(g.ExpiresAt) || !g.IsExpired(g.ExpiresAt) {
		t.Fatalf("window end is exclusive")
	}

	future := Grant{StartsAt: now.Add(time.Hour), ExpiresAt: now.Add(2 * time.Hour)}
	if future.IsActive(now) || future.IsExpired(now) {
		t.Fatalf("future grant is neither active nor expired")
	}

	revokedAt := now
	revoked := Grant{StartsAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour), RevokedAt: &revokedAt}
	if revoked.IsActive(now) || revoked.IsExpired(now) {
		t.Fatalf("revoked grant is neither active nor expired")
	}
}

func TestExtendedExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	period := 24 * time.Hour

	before := now.Add(48 * time.Hour)
	if got := ExtendedExpiry(before, now, period); !got.Equal(before.Add(period)) {
		t.Fatalf("unexpired grant should extend from its expiry, got %s", got)
	}

	after := now.Add(-48 * time.Hour)
	if got := ExtendedExpiry(after, now, period); !got.Equal(now.Add(period)) {
		t.Fatalf("lapsed grant should extend from now, got %s", got)
	}
}

func TestGrantTypePrecedence(t *testing.T) {
	if GrantTypeTrial.Precedence() <= GrantTypeSingleProject.Precedence() {
		t.Fatalf("trial must outrank single_project")
	}
	if GrantType("promo").Precedence() >= GrantTypeSingleProject.Precedence() {
		t.Fatalf("unknown types rank last")
	}
}
