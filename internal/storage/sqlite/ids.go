package sqlite

import (
	"context"

	"github.com/opsloom/opsloom/internal/idgen"
	"github.com/opsloom/opsloom/internal/opserr"
)

// GetNextChildID generates the next hierarchical child id for parentID
// (parentID.N), atomically incrementing the per-parent counter.
func (s *Store) GetNextChildID(ctx context.Context, parentID string) (string, error) {
	var count int
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM elements WHERE id = ?`, parentID).Scan(&count); err != nil {
		return "", opserr.Wrap("id.nextChild", opserr.Storage, err, "check parent")
	}
	if count == 0 {
		return "", opserr.New("id.nextChild", opserr.NotFound, "parent "+parentID+" does not exist")
	}

	var next int
	err := s.exec().QueryRowContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child) VALUES (?, 1)
		ON CONFLICT(parent_id) DO UPDATE SET last_child = last_child + 1
		RETURNING last_child
	`, parentID).Scan(&next)
	if err != nil {
		return "", opserr.Wrap("id.nextChild", opserr.Storage, err, "increment counter")
	}
	return idgen.ChildID(parentID, next), nil
}

// GenerateElementID generates a collision-free content-addressed id for
// a new top-level element, using an adaptive length based on the
// current table size and retrying with a fresh nonce on collision.
func (s *Store) GenerateElementID(ctx context.Context, kindPrefix, title, body, actor string) (string, error) {
	var rowCount int
	if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM elements WHERE type = ?`, kindPrefix).Scan(&rowCount); err != nil {
		rowCount = 0
	}
	length := idgen.AdaptiveLength(rowCount, 3, 8)

	for l := length; l <= 8; l++ {
		for nonce := 0; nonce < 10; nonce++ {
			candidate := idgen.GenerateHashID(kindPrefix, title, body, actor, nowUTC(), l, nonce)
			var exists int
			if err := s.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM elements WHERE id = ?`, candidate).Scan(&exists); err != nil {
				return "", opserr.Wrap("id.generate", opserr.Storage, err, "collision check")
			}
			if exists == 0 {
				return candidate, nil
			}
		}
	}
	return "", opserr.New("id.generate", opserr.Storage, "failed to generate unique id after exhausting lengths")
}
