package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/graph"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/types"
)

func newHarness(t *testing.T) (storage.Storage, *blocked.Cache, *Scheduler, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := blocked.New(db, nil)
	return db, cache, New(db, cache, nil), ctx
}

func createTask(t *testing.T, db storage.Storage, ctx context.Context, id string, priority int, status types.TaskStatus) *types.Element {
	t.Helper()
	el := &types.Element{
		Header: types.Header{ID: id, Type: types.KindTask},
		Task:   &types.TaskData{Status: status, Priority: priority, Complexity: 1, TaskType: "work"},
	}
	if err := db.CreateElement(ctx, el, "tester"); err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return el
}

// Effective priority inheritance: t-lo (priority 5) blocks
// the urgent t-hi (priority 1). t-hi is excluded from ready() (it's
// blocked), but t-lo inherits t-hi's urgency and so outranks t-mid, an
// unrelated task whose own base priority (3) would otherwise win.
func TestEffectivePriorityInheritance(t *testing.T) {
	db, cache, sched, ctx := newHarness(t)

	createTask(t, db, ctx, "t-hi", 1, types.TaskOpen)
	createTask(t, db, ctx, "t-lo", 5, types.TaskOpen)
	createTask(t, db, ctx, "t-mid", 3, types.TaskOpen)

	if err := graph.AddDependency(ctx, db, &types.Dependency{Blocked: "t-hi", Blocker: "t-lo", Type: types.DepBlocks}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	cache.Invalidate(ctx, "t-hi")

	ready, err := sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != "t-lo" || ready[1].ID != "t-mid" {
		t.Fatalf("expected [t-lo, t-mid] (t-hi blocked, t-lo boosted by inheritance), got %v", idsOf(ready))
	}

	// Close the blocker; t-hi should now be ready on its own, base
	// priority 1, sorting ahead of t-mid.
	if _, err := db.UpdateElement(ctx, "t-lo", map[string]interface{}{"status": string(types.TaskClosed)}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("close t-lo: %v", err)
	}
	cache.Invalidate(ctx, "t-lo")

	ready, err = sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready after close: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != "t-hi" || ready[1].ID != "t-mid" {
		t.Fatalf("expected [t-hi, t-mid] after blocker closed, got %v", idsOf(ready))
	}
}

// A simpler two-ready-task ordering check, independent of blocking,
// confirming effective==base priority drives ascending order when
// nothing inherits urgency.
func TestReadyOrdersByPriorityThenCreation(t *testing.T) {
	db, _, sched, ctx := newHarness(t)
	createTask(t, db, ctx, "t-a", 3, types.TaskOpen)
	createTask(t, db, ctx, "t-b", 1, types.TaskOpen)

	ready, err := sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != "t-b" || ready[1].ID != "t-a" {
		t.Fatalf("expected [t-b, t-a] ascending priority, got %v", idsOf(ready))
	}
}

// A draft plan hides its children; they become ready once it activates.
func TestDraftPlanHidesChildren(t *testing.T) {
	db, cache, sched, ctx := newHarness(t)

	plan := &types.Element{Header: types.Header{ID: "pl-2", Type: types.KindPlan}, Plan: &types.PlanData{Status: types.PlanDraft}}
	if err := db.CreateElement(ctx, plan, "tester"); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	createTask(t, db, ctx, "t-c", 3, types.TaskOpen)
	if err := graph.AddDependency(ctx, db, &types.Dependency{Blocked: "t-c", Blocker: "pl-2", Type: types.DepParentChild}); err != nil {
		t.Fatalf("add parent-child: %v", err)
	}
	cache.Invalidate(ctx, "t-c")

	ready, err := sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready tasks while plan is draft, got %v", idsOf(ready))
	}

	if _, err := db.UpdateElement(ctx, "pl-2", map[string]interface{}{"status": string(types.PlanActive)}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("activate plan: %v", err)
	}
	cache.Invalidate(ctx, "pl-2")

	ready, err = sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready after activate: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "t-c" {
		t.Fatalf("expected t-c ready once plan is active, got %v", idsOf(ready))
	}
}

// Team-aware assignee matching.
func TestReadyTeamAwareAssignee(t *testing.T) {
	db, _, sched, ctx := newHarness(t)
	team := &types.Element{Header: types.Header{ID: "team-1", Type: types.KindTeam}, Team: &types.TeamData{Status: "active", Members: []string{"alice", "bob"}}}
	if err := db.CreateElement(ctx, team, "tester"); err != nil {
		t.Fatalf("create team: %v", err)
	}
	el := createTask(t, db, ctx, "t-team", 2, types.TaskOpen)
	el.Task.Assignee = "team-1"
	if _, err := db.UpdateElement(ctx, "t-team", map[string]interface{}{"assignee": "team-1"}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("assign to team: %v", err)
	}

	ready, err := sched.Ready(ctx, Filter{Assignee: "alice"})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "t-team" {
		t.Fatalf("expected t-team ready for team member alice, got %v", idsOf(ready))
	}
}

// A scheduledFor task in the future is excluded from ready().
func TestReadyExcludesFutureScheduled(t *testing.T) {
	db, _, sched, ctx := newHarness(t)
	future := time.Now().UTC().Add(24 * time.Hour)
	createTask(t, db, ctx, "t-future", 2, types.TaskOpen)
	if _, err := db.UpdateElement(ctx, "t-future", map[string]interface{}{"scheduledFor": future}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("set scheduledFor: %v", err)
	}

	ready, err := sched.Ready(ctx, Filter{})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready tasks with future scheduledFor, got %v", idsOf(ready))
	}
}

func idsOf(els []*types.Element) []string {
	out := make([]string, len(els))
	for i, e := range els {
		out[i] = e.ID
	}
	return out
}
