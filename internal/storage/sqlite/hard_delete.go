package sqlite

import (
	"context"

	"github.com/opsloom/opsloom/internal/opserr"
)

// hardDeleteElement permanently removes an element row and its event
// journal. FK cascades (ON DELETE CASCADE) take care of tags,
// dependencies, document_versions, child_counters, dirty_elements,
// blocked_cache, and inbox_items rows referencing it. Used by
// DeleteWorkflow and GarbageCollectWorkflows, which destroy rather
// than tombstone.
func hardDeleteElement(ctx context.Context, x execer, id string) error {
	if _, err := x.ExecContext(ctx, `DELETE FROM events WHERE element_id = ?`, id); err != nil {
		return opserr.Wrap("element.hardDelete", opserr.Storage, err, "delete events")
	}
	res, err := x.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id)
	if err != nil {
		return opserr.Wrap("element.hardDelete", opserr.Storage, err, "delete element")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return opserr.New("element.hardDelete", opserr.NotFound, "element "+id+" not found")
	}
	return nil
}

func (s *Store) HardDeleteElement(ctx context.Context, id string) error {
	return hardDeleteElement(ctx, s.exec(), id)
}

func (t *txImpl) HardDeleteElement(ctx context.Context, id string) error {
	return hardDeleteElement(ctx, t.exec(), id)
}
