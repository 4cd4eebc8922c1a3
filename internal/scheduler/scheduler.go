// Package scheduler implements the Ready Scheduler: the
// ready/backlog/blocked listings an agent pool polls for work, plus
// effective-priority inheritance over the blocks/awaits edge classes.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// Filter narrows the ready/backlog/blocked listings.
type Filter struct {
	Assignee        string
	Owner           string
	Priority        int
	Complexity      int
	TaskType        string
	Tags            []string
	IncludeEphemeral bool
}

// Scheduler produces task listings against a storage.Storage and the
// blocked-state cache it shares with the Element Store.
type Scheduler struct {
	store storage.Storage
	cache *blocked.Cache
	log   *logging.Logger
}

func New(store storage.Storage, cache *blocked.Cache, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{store: store, cache: cache, log: log.With("scheduler")}
}

// Ready returns tasks an agent can start now, ordered by effective
// priority ascending (1 = most urgent), ties broken by base priority
// then creation time ascending.
func (s *Scheduler) Ready(ctx context.Context, filter Filter) ([]*types.Element, error) {
	tasks, err := s.store.ListTasks(ctx, types.TaskFilter{
		Status: []types.TaskStatus{types.TaskOpen, types.TaskInProgress},
		Tags:   filter.Tags,
		Owner:  filter.Owner,
	})
	if err != nil {
		return nil, opserr.Wrap("scheduler.ready", opserr.Storage, err, "list tasks")
	}

	teamMembership, err := s.teamMembershipCache(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	walker := newPriorityWalker(ctx, s.store, s.log)

	var eligible []*types.Element
	for _, el := range tasks {
		t := el.Task
		if t == nil {
			continue
		}
		if filter.Assignee != "" && !assigneeMatches(filter.Assignee, t.Assignee, teamMembership) {
			continue
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		blockedEntry, ok, err := s.store.GetBlockedEntry(ctx, el.ID)
		if err != nil {
			return nil, opserr.Wrap("scheduler.ready", opserr.Storage, err, "blocked lookup")
		}
		if ok && blockedEntry != nil {
			continue
		}

		parentOK, ephemeral, err := s.parentEligibility(ctx, el.ID)
		if err != nil {
			return nil, err
		}
		if !parentOK {
			continue
		}
		if ephemeral && !filter.IncludeEphemeral {
			continue
		}

		eligible = append(eligible, el)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ei := walker.effective(eligible[i].ID, eligible[i].Task.Priority)
		ej := walker.effective(eligible[j].ID, eligible[j].Task.Priority)
		if ei != ej {
			return ei < ej
		}
		if eligible[i].Task.Priority != eligible[j].Task.Priority {
			return eligible[i].Task.Priority < eligible[j].Task.Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible, nil
}

// Backlog returns backlog tasks sorted by (priority asc, createdAt asc):
// the triage queue, never considered ready.
func (s *Scheduler) Backlog(ctx context.Context, filter Filter) ([]*types.Element, error) {
	tasks, err := s.store.ListTasks(ctx, types.TaskFilter{
		Status:   []types.TaskStatus{types.TaskBacklog},
		Tags:     filter.Tags,
		Owner:    filter.Owner,
		TaskType: filter.TaskType,
	})
	if err != nil {
		return nil, opserr.Wrap("scheduler.backlog", opserr.Storage, err, "list tasks")
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Task.Priority != tasks[j].Task.Priority {
			return tasks[i].Task.Priority < tasks[j].Task.Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// BlockedEntry pairs an element with its blocked-cache bookkeeping, for
// the annotated blocked() listing.
type BlockedEntry struct {
	Element    *types.Element
	BlockerIDs []string
	Reason     string
}

// Blocked returns every element currently in the blocked cache,
// annotated with blockedBy and reason.
func (s *Scheduler) Blocked(ctx context.Context) ([]BlockedEntry, error) {
	entries, err := s.store.ListBlockedEntries(ctx)
	if err != nil {
		return nil, opserr.Wrap("scheduler.blocked", opserr.Storage, err, "list entries")
	}
	out := make([]BlockedEntry, 0, len(entries))
	for id, entry := range entries {
		el, err := s.store.GetElement(ctx, id)
		if err != nil {
			if opserr.IsNotFound(err) {
				continue
			}
			return nil, opserr.Wrap("scheduler.blocked", opserr.Storage, err, "load element")
		}
		out = append(out, BlockedEntry{Element: el, BlockerIDs: entry.BlockerIDs, Reason: entry.Reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Element.ID < out[j].Element.ID })
	return out, nil
}

// assigneeMatches implements team-aware assignee matching:
// a filter assignee A matches a task whose assignee equals A, or equals
// the id of any team T such that A is a member of T.
func assigneeMatches(filterAssignee, taskAssignee string, teamMembership map[string][]string) bool {
	if taskAssignee == filterAssignee {
		return true
	}
	members, isTeam := teamMembership[taskAssignee]
	if !isTeam {
		return false
	}
	for _, m := range members {
		if m == filterAssignee {
			return true
		}
	}
	return false
}

func (s *Scheduler) teamMembershipCache(ctx context.Context) (map[string][]string, error) {
	els, err := s.store.ListElements(ctx, types.ElementFilter{Types: []types.Kind{types.KindTeam}})
	if err != nil {
		return nil, opserr.Wrap("scheduler.teams", opserr.Storage, err, "list teams")
	}
	out := make(map[string][]string, len(els))
	for _, el := range els {
		if el.Team != nil {
			out[el.ID] = el.Team.Members
		}
	}
	return out, nil
}

// parentEligibility reports whether every parent-child ancestor of
// taskID allows children to run, and whether any ancestor is an
// ephemeral workflow.
func (s *Scheduler) parentEligibility(ctx context.Context, taskID string) (ok bool, ephemeral bool, err error) {
	edges, err := s.store.GetDependencyRecords(ctx, taskID)
	if err != nil {
		return false, false, opserr.Wrap("scheduler.parent", opserr.Storage, err, "load edges")
	}
	for _, dep := range edges {
		if dep.Type != types.DepParentChild {
			continue
		}
		parent, err := s.store.GetElement(ctx, dep.Blocker)
		if err != nil {
			if opserr.IsNotFound(err) {
				continue
			}
			return false, false, opserr.Wrap("scheduler.parent", opserr.Storage, err, "load parent")
		}
		if parent.BlocksChildren() {
			return false, false, nil
		}
		if parent.Type == types.KindWorkflow && parent.Workflow != nil && parent.Workflow.Ephemeral {
			ephemeral = true
		}
		blockedEntry, isBlocked, err := s.store.GetBlockedEntry(ctx, dep.Blocker)
		if err != nil {
			return false, false, opserr.Wrap("scheduler.parent", opserr.Storage, err, "blocked lookup")
		}
		if isBlocked && blockedEntry != nil {
			return false, false, nil
		}
	}
	return true, ephemeral, nil
}
