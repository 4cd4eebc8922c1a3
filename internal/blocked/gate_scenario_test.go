package blocked_test

import (
	"context"
	"testing"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/graph"
	"github.com/opsloom/opsloom/internal/scheduler"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/types"
)

// Gate satisfaction: a task gated behind a closed blocker's
// approval list stays blocked until every required approver has signed
// off, then rejoins ready() with its prior status restored.
func TestGateSatisfactionUnblocksTask(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	cache := blocked.New(db, nil)
	sched := scheduler.New(db, cache, nil)

	ta := &types.Element{Header: types.Header{ID: "t-a", Type: types.KindTask}, Task: &types.TaskData{Status: types.TaskOpen, Priority: 3, Complexity: 1, TaskType: "work"}}
	tb := &types.Element{Header: types.Header{ID: "t-b", Type: types.KindTask}, Task: &types.TaskData{Status: types.TaskOpen, Priority: 2, Complexity: 1, TaskType: "work"}}
	if err := db.CreateElement(ctx, ta, "tester"); err != nil {
		t.Fatalf("create t-a: %v", err)
	}
	if err := db.CreateElement(ctx, tb, "tester"); err != nil {
		t.Fatalf("create t-b: %v", err)
	}

	// t-a must be terminal first, so Compute is judging the gate's
	// approvals rather than the blocker's own liveness.
	if _, err := db.UpdateElement(ctx, "t-a", map[string]interface{}{"status": string(types.TaskClosed)}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("close t-a: %v", err)
	}

	dep := &types.Dependency{
		Blocked: "t-b", Blocker: "t-a", Type: types.DepAwaits, CreatedBy: "tester",
		Gate: &types.GateMetadata{RequiredApprovals: []string{"alice", "bob"}},
	}
	if err := graph.AddDependency(ctx, db, dep); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	cache.Invalidate(ctx, "t-b")

	ready, err := sched.Ready(ctx, scheduler.Filter{})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready tasks with t-b gated, got %v", idsOf(ready))
	}
	entry, ok, err := cache.Get(ctx, "t-b")
	if err != nil || !ok {
		t.Fatalf("expected t-b to carry a blocked entry, ok=%v err=%v", ok, err)
	}
	if entry.PriorStatus != string(types.TaskOpen) {
		t.Fatalf("expected prior status 'open' recorded, got %q", entry.PriorStatus)
	}

	// Partial approval: still blocked.
	if err := cache.RecordApproval(ctx, "t-b", "t-a", "alice"); err != nil {
		t.Fatalf("record alice approval: %v", err)
	}
	ready, err = sched.Ready(ctx, scheduler.Filter{})
	if err != nil {
		t.Fatalf("ready after partial approval: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected t-b still blocked after partial approval, got %v", idsOf(ready))
	}

	// Full approval: gate satisfied, t-b unblocks and status reverts to open.
	if err := cache.RecordApproval(ctx, "t-b", "t-a", "bob"); err != nil {
		t.Fatalf("record bob approval: %v", err)
	}
	ready, err = sched.Ready(ctx, scheduler.Filter{})
	if err != nil {
		t.Fatalf("ready after full approval: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "t-b" {
		t.Fatalf("expected t-b ready after full approval, got %v", idsOf(ready))
	}
	if ready[0].Task.Status != types.TaskOpen {
		t.Fatalf("expected t-b status restored to open, got %s", ready[0].Task.Status)
	}
	if _, ok, err := cache.Get(ctx, "t-b"); err != nil || ok {
		t.Fatalf("expected t-b blocked entry cleared, ok=%v err=%v", ok, err)
	}
}

func idsOf(els []*types.Element) []string {
	out := make([]string, len(els))
	for i, e := range els {
		out[i] = e.ID
	}
	return out
}
