package migration

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestAutoMigrateEnforcesOneTrialPerOrg(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	now := time.Now().UTC()
	trial := func(id int64) *grantdomain.Grant {
		return &grantdomain.Grant{
			ID:        snowflake.ID(id),
			OrgID:     42,
			Type:      grantdomain.GrantTypeTrial,
			StartsAt:  now,
			ExpiresAt: now.Add(time.Hour),
			Source:    grantdomain.SourcePromotion,
			CreatedAt: now,
		}
	}

	if err := db.Create(trial(1)).Error; err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if err := db.Create(trial(2)).Error; err == nil {
		t.Fatal("expected the second trial for the same org to be rejected")
	}
}
