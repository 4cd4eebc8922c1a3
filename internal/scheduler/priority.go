package scheduler

import (
	"context"

	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// priorityWalker memoizes effective-priority computation across one
// Ready() call: effective(T) = min(T.priority, min over all X such that
// (X,T,blocks) or (X,T,awaits) exists of effective(X)). A
// task that blocks higher-priority work inherits that work's urgency.
type priorityWalker struct {
	ctx     context.Context
	store   storage.Storage
	log     *logging.Logger
	memo    map[string]int
	onStack map[string]bool
}

func newPriorityWalker(ctx context.Context, store storage.Storage, log *logging.Logger) *priorityWalker {
	return &priorityWalker{
		ctx:     ctx,
		store:   store,
		log:     log,
		memo:    map[string]int{},
		onStack: map[string]bool{},
	}
}

// effective computes the effective priority of id, whose own base
// priority is basePriority. A cycle (revisiting a node already on the
// current walk path) falls back to that node's own base priority with a
// logged warning, rather than erroring the whole Ready() call: one
// malformed chain must not take down scheduling for everything else.
func (w *priorityWalker) effective(id string, basePriority int) int {
	if v, ok := w.memo[id]; ok {
		return v
	}
	if w.onStack[id] {
		w.log.Warnf("effective priority cycle detected at %s; falling back to base priority", id)
		return basePriority
	}
	w.onStack[id] = true
	defer delete(w.onStack, id)

	best := basePriority
	dependents, err := w.store.GetDependentRecords(w.ctx, id)
	if err != nil {
		w.log.Warnf("effective priority: load dependents of %s: %v", id, err)
		w.memo[id] = best
		return best
	}
	for _, dep := range dependents {
		if dep.Type != types.DepBlocks && dep.Type != types.DepAwaits {
			continue
		}
		dependent, err := w.store.GetElement(w.ctx, dep.Blocked)
		if err != nil || dependent.Type != types.KindTask || dependent.Task == nil {
			continue
		}
		inherited := w.effective(dep.Blocked, dependent.Task.Priority)
		if inherited < best {
			best = inherited
		}
	}
	w.memo[id] = best
	return best
}
