package sqlite

import (
	"context"
	"encoding/json"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// UpsertBlockedEntry persists the given element's blocker set in the
// materialized blocked-state cache table. internal/blocked owns the
// computation; this is its storage-side mirror.
func (s *Store) UpsertBlockedEntry(ctx context.Context, id string, blockerIDs []string, reason, priorStatus string) error {
	b, err := json.Marshal(blockerIDs)
	if err != nil {
		return opserr.Wrap("blockedCache.upsert", opserr.Storage, err, "marshal")
	}
	_, err = s.exec().ExecContext(ctx, `
		INSERT INTO blocked_cache (element_id, blocker_ids, reason, prior_status, computed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(element_id) DO UPDATE SET blocker_ids = excluded.blocker_ids, reason = excluded.reason,
			prior_status = excluded.prior_status, computed_at = excluded.computed_at
	`, id, string(b), reason, priorStatus, nowUTC())
	if err != nil {
		return opserr.Wrap("blockedCache.upsert", opserr.Storage, err, "upsert")
	}
	return nil
}

func (s *Store) DeleteBlockedEntry(ctx context.Context, id string) error {
	_, err := s.exec().ExecContext(ctx, `DELETE FROM blocked_cache WHERE element_id = ?`, id)
	if err != nil {
		return opserr.Wrap("blockedCache.delete", opserr.Storage, err, "delete")
	}
	return nil
}

func (s *Store) GetBlockedEntry(ctx context.Context, id string) (*types.BlockedEntry, bool, error) {
	var raw, reason, priorStatus string
	computedAt := nowUTC()
	err := s.exec().QueryRowContext(ctx, `SELECT blocker_ids, reason, prior_status, computed_at FROM blocked_cache WHERE element_id = ?`, id).
		Scan(&raw, &reason, &priorStatus, &computedAt)
	if err != nil {
		return nil, false, nil // absence means "not blocked", not an error
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, opserr.Wrap("blockedCache.get", opserr.Storage, err, "corrupt row")
	}
	return &types.BlockedEntry{ElementID: id, BlockerIDs: ids, Reason: reason, PriorStatus: priorStatus, ComputedAt: computedAt}, true, nil
}

func (s *Store) ListBlockedEntries(ctx context.Context) (map[string]*types.BlockedEntry, error) {
	rows, err := s.exec().QueryContext(ctx, `SELECT element_id, blocker_ids, reason, prior_status, computed_at FROM blocked_cache`)
	if err != nil {
		return nil, opserr.Wrap("blockedCache.list", opserr.Storage, err, "query")
	}
	defer rows.Close()

	out := map[string]*types.BlockedEntry{}
	for rows.Next() {
		var id, raw, reason, priorStatus string
		computedAt := nowUTC()
		if err := rows.Scan(&id, &raw, &reason, &priorStatus, &computedAt); err != nil {
			return nil, opserr.Wrap("blockedCache.list", opserr.Storage, err, "scan")
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			continue
		}
		out[id] = &types.BlockedEntry{ElementID: id, BlockerIDs: ids, Reason: reason, PriorStatus: priorStatus, ComputedAt: computedAt}
	}
	return out, rows.Err()
}
