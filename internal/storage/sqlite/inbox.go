package sqlite

import (
	"context"
	"database/sql"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

func createInboxItem(ctx context.Context, x execer, item *types.InboxItem) error {
	if item.DeliveredAt.IsZero() {
		item.DeliveredAt = nowUTC()
	}
	res, err := x.ExecContext(ctx, `
		INSERT OR IGNORE INTO inbox_items (recipient, message_id, channel_id, source_type, delivered_at)
		VALUES (?, ?, ?, ?, ?)
	`, item.Recipient, item.MessageID, item.ChannelID, string(item.SourceType), item.DeliveredAt)
	if err != nil {
		return opserr.Wrap("inbox.create", opserr.Storage, err, "insert")
	}
	id, _ := res.LastInsertId()
	item.ID = id
	return nil
}

func (s *Store) CreateInboxItem(ctx context.Context, item *types.InboxItem) error {
	return createInboxItem(ctx, s.exec(), item)
}

// ListInboxForRecipient returns the recipient's inbox, most recent
// first. When unreadOnly is true, rows with a non-null read_at are
// excluded.
func (s *Store) ListInboxForRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]*types.InboxItem, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, recipient, message_id, channel_id, source_type, delivered_at, read_at
	      FROM inbox_items WHERE recipient = ?`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY delivered_at DESC LIMIT ?`

	rows, err := s.exec().QueryContext(ctx, q, recipient, limit)
	if err != nil {
		return nil, opserr.Wrap("inbox.list", opserr.Storage, err, "query")
	}
	defer rows.Close()

	var out []*types.InboxItem
	for rows.Next() {
		var it types.InboxItem
		var readAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.Recipient, &it.MessageID, &it.ChannelID, &it.SourceType, &it.DeliveredAt, &readAt); err != nil {
			return nil, opserr.Wrap("inbox.list", opserr.Storage, err, "scan")
		}
		if readAt.Valid {
			it.ReadAt = &readAt.Time
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (s *Store) MarkInboxRead(ctx context.Context, id int64) error {
	_, err := s.exec().ExecContext(ctx, `UPDATE inbox_items SET read_at = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return opserr.Wrap("inbox.markRead", opserr.Storage, err, "update")
	}
	return nil
}
