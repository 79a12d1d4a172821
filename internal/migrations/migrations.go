package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run applies the transfer journal migrations to db.
// It uses golang-migrate internally to run migrations from embedded SQL files.
func Run(db *sql.DB) error {
	// Create postgres driver instance with its own bookkeeping table
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "tftp_schema_migrations"})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDriverCreation, err)
	}

	// Create source driver from embedded filesystem
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceCreation, err)
	}

	// Create migrate instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrateInstance, err)
	}

	// Run all pending migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	return nil
}

// versions lists the migration versions embedded in the binary, in order.
func versions() ([]uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceCreation, err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return nil, err
	}
	vs := []uint{v}
	for {
		next, err := src.Next(v)
		if err != nil {
			// iofs reports the end of the list as fs.ErrNotExist.
			break
		}
		vs = append(vs, next)
		v = next
	}
	return vs, nil
}
