package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateInboxSuppressIndex adds a covering index on inbox_items for
// the unread-count query the inbox router runs on every poll, added
// after profiling showed it was a full table scan on busy channels.
func MigrateInboxSuppressIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_inbox_recipient_unread
		ON inbox_items(recipient, read_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create inbox unread index: %w", err)
	}
	return nil
}
