// Package blocked implements the materialised blocked-state cache: the
// mapping elementId -> {blockerIds, reason} that answers "is X blocked
// right now?" in O(1), plus the incremental invalidation, idempotent
// full rebuild, and gate-approval protocol that keep it consistent.
// Every graph walk here is a BFS over a visited-set; the dependency
// table is indexed by both endpoints, and nothing recurses unguarded.
package blocked

import (
	"context"

	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// Cache wraps a storage.Storage with blocked-state computation. Its
// operations never surface errors to the caller path: failures are
// logged as warnings, since a stale cache entry is recoverable by
// rebuild while an aborted scheduling call is not.
type Cache struct {
	store storage.Storage
	log   *logging.Logger
}

// New constructs a Cache. A nil logger is replaced with a no-op sink.
func New(store storage.Storage, log *logging.Logger) *Cache {
	if log == nil {
		log = logging.Nop()
	}
	return &Cache{store: store, log: log.With("blocked")}
}

// Evaluation is the outcome of computing whether an element is blocked.
type Evaluation struct {
	Blocked    bool
	BlockerIDs []string
	Reason     string
}

// Compute evaluates whether a single element is blocked right now,
// without touching the persisted cache: a non-terminal blocks target,
// an awaits target that is non-terminal or has an unsatisfied gate, or
// a parent container not accepting active children. Transitive blocking
// requires no separate walk: a blocker that is itself blocked (status
// "blocked", still non-terminal) already fails the direct checks on its
// own account.
func Compute(ctx context.Context, s storage.Storage, id string) (Evaluation, error) {
	edges, err := s.GetDependencyRecords(ctx, id)
	if err != nil {
		return Evaluation{}, opserr.Wrap("blocked.compute", opserr.Storage, err, "load edges")
	}

	var blockerIDs []string
	var reasons []string
	for _, dep := range edges {
		if !dep.Type.Blocking() {
			continue
		}
		blocker, err := s.GetElement(ctx, dep.Blocker)
		if err != nil {
			if opserr.IsNotFound(err) {
				continue // dangling edge; treat as satisfied, graph layer will have cascaded cleanup
			}
			return Evaluation{}, opserr.Wrap("blocked.compute", opserr.Storage, err, "load blocker")
		}
		if blocker.IsTombstoned() {
			continue
		}

		switch dep.Type {
		case types.DepBlocks:
			if !blocker.IsTerminal() {
				blockerIDs = append(blockerIDs, dep.Blocker)
				reasons = append(reasons, "blocked by "+dep.Blocker)
			}
		case types.DepAwaits:
			if !blocker.IsTerminal() {
				blockerIDs = append(blockerIDs, dep.Blocker)
				reasons = append(reasons, "awaiting "+dep.Blocker)
			} else if !dep.Gate.Satisfied() {
				blockerIDs = append(blockerIDs, dep.Blocker)
				reasons = append(reasons, "gate unsatisfied on "+dep.Blocker)
			}
		case types.DepParentChild:
			if blocker.BlocksChildren() {
				blockerIDs = append(blockerIDs, dep.Blocker)
				reasons = append(reasons, "parent "+dep.Blocker+" not accepting active children")
			}
		}
	}

	if len(blockerIDs) == 0 {
		return Evaluation{Blocked: false}, nil
	}
	return Evaluation{Blocked: true, BlockerIDs: blockerIDs, Reason: joinReasons(reasons)}, nil
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

// Refresh recomputes the cache entry for id and applies automatic status
// coupling: entering blocked with a prior {open,in_progress}
// status emits auto_blocked and moves status to blocked; leaving blocked
// restores the recorded prior status and emits auto_unblocked. Errors
// are logged, never returned to the caller path.
func (c *Cache) Refresh(ctx context.Context, id string) {
	if err := c.refresh(ctx, id); err != nil {
		c.log.Warnf("refresh %s: %v", id, err)
	}
}

func (c *Cache) refresh(ctx context.Context, id string) error {
	eval, err := Compute(ctx, c.store, id)
	if err != nil {
		return err
	}

	existing, hadEntry, err := c.store.GetBlockedEntry(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case eval.Blocked && !hadEntry:
		return c.transitionToBlocked(ctx, id, eval)
	case eval.Blocked && hadEntry:
		return c.store.UpsertBlockedEntry(ctx, id, eval.BlockerIDs, eval.Reason, existing.PriorStatus)
	case !eval.Blocked && hadEntry:
		return c.transitionToUnblocked(ctx, id, existing)
	default:
		return nil // not blocked, no entry: nothing to do
	}
}

func (c *Cache) transitionToBlocked(ctx context.Context, id string, eval Evaluation) error {
	el, err := c.store.GetElement(ctx, id)
	if err != nil {
		return err
	}
	priorStatus := ""
	if el.Type == types.KindTask && el.Task != nil && el.Task.Status.IsOpenLike() {
		priorStatus = string(el.Task.Status)
	}
	if err := c.store.UpsertBlockedEntry(ctx, id, eval.BlockerIDs, eval.Reason, priorStatus); err != nil {
		return err
	}
	if priorStatus == "" {
		return nil
	}
	return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.UpdateElement(ctx, id, map[string]interface{}{"status": string(types.TaskBlocked)}, storage.UpdateOptions{SuppressEvent: true})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &types.Event{
			ElementID: id, EventType: types.EventAutoBlocked,
			OldValue: map[string]interface{}{"status": priorStatus},
			NewValue: map[string]interface{}{"status": string(types.TaskBlocked)},
		})
	})
}

func (c *Cache) transitionToUnblocked(ctx context.Context, id string, existing *types.BlockedEntry) error {
	if err := c.store.DeleteBlockedEntry(ctx, id); err != nil {
		return err
	}
	if existing.PriorStatus == "" {
		return nil
	}
	el, err := c.store.GetElement(ctx, id)
	if err != nil {
		return err
	}
	if el.Type != types.KindTask || el.Task == nil || el.Task.Status != types.TaskBlocked {
		return nil // status already moved on by something else; don't clobber
	}
	return c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.UpdateElement(ctx, id, map[string]interface{}{"status": existing.PriorStatus}, storage.UpdateOptions{SuppressEvent: true})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &types.Event{
			ElementID: id, EventType: types.EventAutoUnblocked,
			OldValue: map[string]interface{}{"status": string(types.TaskBlocked)},
			NewValue: map[string]interface{}{"status": existing.PriorStatus},
		})
	})
}

// Invalidate recomputes id's entry plus every transitive dependent
// found by walking `dependents` over the blocking-class edge types, BFS
// with a visited-set so a cyclic graph cannot recurse forever.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	visited := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		c.Refresh(ctx, cur)

		dependents, err := c.store.GetDependentRecords(ctx, cur)
		if err != nil {
			c.log.Warnf("invalidate: load dependents of %s: %v", cur, err)
			continue
		}
		for _, dep := range dependents {
			if !dep.Type.Blocking() || visited[dep.Blocked] {
				continue
			}
			queue = append(queue, dep.Blocked)
		}
	}
}

// Rebuild recomputes every entry from scratch: idempotent full
// population, used after migration, corruption recovery, or periodic
// consistency checks. Running it twice leaves the table
// identical.
func (c *Cache) Rebuild(ctx context.Context) error {
	els, err := c.store.ListElements(ctx, types.ElementFilter{})
	if err != nil {
		return opserr.Wrap("blocked.rebuild", opserr.Storage, err, "list elements")
	}
	for _, el := range els {
		eval, err := Compute(ctx, c.store, el.ID)
		if err != nil {
			c.log.Warnf("rebuild: compute %s: %v", el.ID, err)
			continue
		}
		existing, hadEntry, err := c.store.GetBlockedEntry(ctx, el.ID)
		if err != nil {
			c.log.Warnf("rebuild: get entry %s: %v", el.ID, err)
			continue
		}
		priorStatus := ""
		if hadEntry {
			priorStatus = existing.PriorStatus
		}
		if !eval.Blocked {
			if hadEntry {
				if err := c.store.DeleteBlockedEntry(ctx, el.ID); err != nil {
					c.log.Warnf("rebuild: delete entry %s: %v", el.ID, err)
				}
			}
			continue
		}
		if !hadEntry && el.Type == types.KindTask && el.Task != nil && el.Task.Status.IsOpenLike() {
			priorStatus = string(el.Task.Status)
		}
		if err := c.store.UpsertBlockedEntry(ctx, el.ID, eval.BlockerIDs, eval.Reason, priorStatus); err != nil {
			c.log.Warnf("rebuild: upsert entry %s: %v", el.ID, err)
		}
	}
	return nil
}

// IsBlocked reports whether id currently carries a blocked-cache entry.
func (c *Cache) IsBlocked(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.store.GetBlockedEntry(ctx, id)
	return ok, err
}

// Get returns the full cache entry for id, if present.
func (c *Cache) Get(ctx context.Context, id string) (*types.BlockedEntry, bool, error) {
	return c.store.GetBlockedEntry(ctx, id)
}

// All returns every blocked entry, for the scheduler's blocked() listing.
func (c *Cache) All(ctx context.Context) (map[string]*types.BlockedEntry, error) {
	return c.store.ListBlockedEntries(ctx)
}
