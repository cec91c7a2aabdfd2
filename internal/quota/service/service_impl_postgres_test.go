//go:build postgres

package service

import (
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/plan"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Run with: TEST_POSTGRES_DSN=... go test -tags postgres ./internal/quota/...
func TestInsertWithQuotaCheckLocksOrganizationOnPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)

	org := snowflake.ID(time.Now().UnixNano())
	f := seedFixture(t, db, org, int64(org)+1)
	t.Cleanup(func() {
		db.Where("org_id = ?", org).Delete(&projectdomain.Project{})
		db.Where("org_id = ?", org).Delete(&subscriptiondomain.Subscription{})
		db.Where("org_id = ?", org).Delete(&organizationdomain.OrganizationMember{})
		db.Where("id = ?", org).Delete(&organizationdomain.Organization{})
	})

	f.subscribe(t, plan.IDStarterTeam)
	f.assertConcurrentInsertsRespectLimit(t, 3, 20)
}
