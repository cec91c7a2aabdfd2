package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	subscriptiondomain "github.com/smallbiznis/corates/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every persisted model. Dialects without SQL migrations are
// created from it with AutoMigrate.
func Models() []any {
	return []any{
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&projectdomain.Project{},
		&subscriptiondomain.Subscription{},
		&grantdomain.Grant{},
		&grantdomain.Extension{},
		&webhookdomain.LedgerEntry{},
	}
}

// AutoMigrate creates the schema from the gorm models. The one-trial-per-org rule
// is enforced by a partial index, which gorm tags cannot express.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if conn.Dialector.Name() == "sqlite" {
		return conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_access_grants_trial_per_org ON access_grants (org_id) WHERE type = 'trial'`,
		).Error
	}
	return nil
}
