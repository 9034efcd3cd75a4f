package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/migrations"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
)

// RunMigrations applies the embedded schema for the store's dialect.
// It is idempotent and safe to call multiple times - only pending migrations will be executed.
func RunMigrations(db *DB, logger *zap.Logger) error {
	var (
		driver  migratedb.Driver
		dialect string
		err     error
	)

	switch db.Driver {
	case config.DriverSQLite:
		dialect = "sqlite"
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case config.DriverPgx:
		dialect = "postgres"
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// m.Close would close db.DB through the driver; only the source is released.
	defer func() {
		if srcErr := source.Close(); srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", newVersion))
	return nil
}
