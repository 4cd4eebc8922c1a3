package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

func appendEvent(ctx context.Context, x execer, ev *types.Event) error {
	var oldJSON, newJSON []byte
	var err error
	if ev.OldValue != nil {
		if oldJSON, err = json.Marshal(ev.OldValue); err != nil {
			return opserr.Wrap("event.append", opserr.Storage, err, "marshal oldValue")
		}
	}
	if ev.NewValue != nil {
		if newJSON, err = json.Marshal(ev.NewValue); err != nil {
			return opserr.Wrap("event.append", opserr.Storage, err, "marshal newValue")
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}

	res, err := x.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ElementID, string(ev.EventType), ev.Actor, nullableBytes(oldJSON), nullableBytes(newJSON), ev.CreatedAt)
	if err != nil {
		return opserr.Wrap("event.append", opserr.Storage, err, "insert")
	}
	seq, err := res.LastInsertId()
	if err == nil {
		ev.Sequence = seq
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev *types.Event) error {
	return appendEvent(ctx, s.exec(), ev)
}

func (s *Store) GetEvents(ctx context.Context, elementID string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.exec().QueryContext(ctx, `
		SELECT sequence, element_id, event_type, actor, old_value, new_value, created_at
		FROM events WHERE element_id = ? ORDER BY sequence DESC LIMIT ?
	`, elementID, limit)
	if err != nil {
		return nil, opserr.Wrap("event.list", opserr.Storage, err, "query")
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetEventsSince(ctx context.Context, sequence int64, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.exec().QueryContext(ctx, `
		SELECT sequence, element_id, event_type, actor, old_value, new_value, created_at
		FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?
	`, sequence, limit)
	if err != nil {
		return nil, opserr.Wrap("event.listSince", opserr.Storage, err, "query")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryEvents runs an arbitrary journal query: by element, type, actor,
// or time window, in either direction.
func (s *Store) QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT sequence, element_id, event_type, actor, old_value, new_value, created_at
		FROM events WHERE 1=1`)
	var args []interface{}
	if filter.ElementID != "" {
		b.WriteString(` AND element_id = ?`)
		args = append(args, filter.ElementID)
	}
	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		b.WriteString(` AND event_type IN (` + strings.Join(ph, ",") + `)`)
	}
	if filter.Actor != "" {
		b.WriteString(` AND actor = ?`)
		args = append(args, filter.Actor)
	}
	if filter.Since != nil {
		b.WriteString(` AND created_at >= ?`)
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		b.WriteString(` AND created_at <= ?`)
		args = append(args, *filter.Until)
	}
	if filter.Descending {
		b.WriteString(` ORDER BY sequence DESC`)
	} else {
		b.WriteString(` ORDER BY sequence ASC`)
	}
	if filter.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := s.exec().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, opserr.Wrap("event.query", opserr.Storage, err, "query")
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var out []*types.Event
	for rows.Next() {
		var ev types.Event
		var oldVal, newVal sql.NullString
		if err := rows.Scan(&ev.Sequence, &ev.ElementID, &ev.EventType, &ev.Actor, &oldVal, &newVal, &ev.CreatedAt); err != nil {
			return nil, opserr.Wrap("event.scan", opserr.Storage, err, "scan")
		}
		if oldVal.Valid {
			var v interface{}
			json.Unmarshal([]byte(oldVal.String), &v)
			ev.OldValue = v
		}
		if newVal.Valid {
			var v interface{}
			json.Unmarshal([]byte(newVal.String), &v)
			ev.NewValue = v
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
