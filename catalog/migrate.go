package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the pending schema migrations. It opens its own
// connection because closing the migrator closes the underlying pool.
func Migrate(dsn string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("Migrate: open database: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("Migrate: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("Migrate: create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("Migrate: create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to apply, catalog is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("applied catalog migrations", zap.Uint("version", version))
	return nil
}
