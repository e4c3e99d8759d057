package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"thetaauto/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the summary archive schema. The statements are
// valid for both postgres and sqlite; created_at holds unix microseconds.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSchemaVersionTable(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create schema_version table")
	}

	if err := r.createRunSummariesTable(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create run_summaries table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(errors.WithCode(errors.CodeDatabaseError, err), "failed to record schema version")
	}

	return nil
}

func (r *MigrationRunner) createSchemaVersionTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version VARCHAR(32) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createRunSummariesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_summaries (
			id VARCHAR(64) PRIMARY KEY,
			method VARCHAR(64) NOT NULL,
			signal_process VARCHAR(255) NOT NULL,
			input VARCHAR(16) NOT NULL,
			quantity VARCHAR(255) NOT NULL,
			n INTEGER NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION NOT NULL,
			median DOUBLE PRECISION NOT NULL,
			band68_low DOUBLE PRECISION NOT NULL,
			band68_high DOUBLE PRECISION NOT NULL,
			band95_low DOUBLE PRECISION NOT NULL,
			band95_high DOUBLE PRECISION NOT NULL,
			config_hash VARCHAR(64) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_run_summaries_method ON run_summaries(method, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_summaries_signal ON run_summaries(signal_process)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	var count int
	if err := db.GetContext(ctx, &count, db.Rebind(`SELECT COUNT(*) FROM schema_version WHERE version = ?`), r.version); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, db.Rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`), r.version)
	return err
}
