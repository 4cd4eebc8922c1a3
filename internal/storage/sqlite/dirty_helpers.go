package sqlite

import (
	"context"

	"github.com/opsloom/opsloom/internal/opserr"
)

// markDirty marks a single element as dirty for incremental NDJSON export.
func markDirty(ctx context.Context, x execer, elementID string) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO dirty_elements (element_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (element_id) DO UPDATE SET marked_at = excluded.marked_at
	`, elementID, nowUTC())
	if err != nil {
		return opserr.Wrap("dirty.mark", opserr.Storage, err, "mark dirty")
	}
	return nil
}

func (s *Store) GetDirtyElements(ctx context.Context) ([]string, error) {
	rows, err := s.exec().QueryContext(ctx, `SELECT element_id FROM dirty_elements ORDER BY marked_at`)
	if err != nil {
		return nil, opserr.Wrap("dirty.list", opserr.Storage, err, "query")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, opserr.Wrap("dirty.list", opserr.Storage, err, "scan")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ClearDirtyElements(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClause(ids)
	_, err := s.exec().ExecContext(ctx, `DELETE FROM dirty_elements WHERE element_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return opserr.Wrap("dirty.clear", opserr.Storage, err, "delete")
	}
	return nil
}
