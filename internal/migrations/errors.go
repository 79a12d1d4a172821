package migrations

import "errors"

var (
	// ErrDriverCreation is returned when the postgres driver cannot wrap the journal database.
	ErrDriverCreation = errors.New("failed to create postgres driver")

	// ErrSourceCreation is returned when the embedded migrations cannot be read.
	ErrSourceCreation = errors.New("failed to read embedded migrations")

	ErrMigrateInstance = errors.New("failed to create migrate instance")

	// ErrMigrationFailed is returned when the journal schema cannot be brought up to date.
	ErrMigrationFailed = errors.New("failed to run journal migrations")
)
