package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	quotadomain "github.com/smallbiznis/featuregate/internal/quota/domain"
	"gorm.io/gorm"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var embeddedMigrations embed.FS

// Models lists the tables owned by featuregate, in creation order.
func Models() []any {
	return []any{
		&featuredomain.Feature{},
		&featuredomain.LimitOverride{},
		&quotadomain.UsageCounter{},
		&quotadomain.UsageEvent{},
		&quotadomain.UsageAttempt{},
		&auditdomain.AuditLog{},
	}
}

// Run brings the schema up to date. Postgres and MySQL apply the embedded
// SQL migrations; SQLite, used for local runs and tests, is auto-migrated.
func Run(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	dialect := db.Dialector.Name()
	if dialect == "sqlite" {
		return db.AutoMigrate(Models()...)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	migrator, err := newMigrator(dialect, sqlDB)
	if err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.
	return nil
}

// Version reports the applied migration version for SQL dialects.
func Version(db *gorm.DB) (uint, bool, error) {
	dialect := db.Dialector.Name()
	if dialect == "sqlite" {
		return 0, false, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, false, err
	}
	migrator, err := newMigrator(dialect, sqlDB)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(dialect string, sqlDB *sql.DB) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch dialect {
	case "postgres":
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{})
	case "mysql":
		dir = "migrations/mysql"
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	sub, err := fs.Sub(embeddedMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
