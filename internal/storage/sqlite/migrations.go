// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opsloom/opsloom/internal/storage/sqlite/migrations"
)

// Migration is a single idempotent schema change applied after the
// base schema. New migrations are appended, never reordered or edited
// in place once released.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"inbox_suppress_index", migrations.MigrateInboxSuppressIndex},
}

// runMigrations applies, in list order, every migration not yet
// recorded in the schema_migrations table, recording each one after it
// succeeds. No transaction wraps the run: a failure stops it, and the
// migrations applied before the failure stay applied and recorded.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrationsList {
		var already int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.Name).Scan(&already)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if already > 0 {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}
	return nil
}
