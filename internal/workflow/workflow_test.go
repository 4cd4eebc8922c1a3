package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/graph"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/types"
)

func newEngineHarness(t *testing.T) (*Engine, *sqlite.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := blocked.New(db, nil)
	return New(db, cache, nil), db, ctx
}

// Ephemeral workflow garbage collection: a completed,
// ephemeral workflow older than MaxAge, plus its tasks, is hard-deleted.
func TestGarbageCollectWorkflows(t *testing.T) {
	e, db, ctx := newEngineHarness(t)

	finished := time.Now().UTC().Add(-1 * time.Hour)
	wf := &types.Element{
		Header:   types.Header{ID: "wf-1", Type: types.KindWorkflow},
		Workflow: &types.WorkflowData{Status: types.WorkflowCompleted, Ephemeral: true, FinishedAt: &finished},
	}
	if err := db.CreateElement(ctx, wf, "tester"); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	for _, id := range []string{"wf-1.1", "wf-1.2"} {
		task := &types.Element{
			Header: types.Header{ID: id, Type: types.KindTask},
			Task:   &types.TaskData{Status: types.TaskClosed, Priority: 3, Complexity: 1, TaskType: "work"},
		}
		if err := db.CreateElement(ctx, task, "tester"); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
		if err := graph.AddDependency(ctx, db, &types.Dependency{Blocked: id, Blocker: "wf-1", Type: types.DepParentChild}); err != nil {
			t.Fatalf("add parent-child for %s: %v", id, err)
		}
	}

	res, err := e.GarbageCollectWorkflows(ctx, GCOptions{MaxAge: 30 * time.Minute})
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if res.WorkflowsDeleted != 1 || res.TasksDeleted != 2 {
		t.Fatalf("expected 1 workflow and 2 tasks deleted, got %+v", res)
	}

	if _, err := db.GetElement(ctx, "wf-1"); !opserr.IsNotFound(err) {
		t.Fatalf("expected wf-1 not found after gc, got %v", err)
	}
	if _, err := db.GetElement(ctx, "wf-1.1"); !opserr.IsNotFound(err) {
		t.Fatalf("expected wf-1.1 not found after gc, got %v", err)
	}
	if _, err := db.GetElement(ctx, "wf-1.2"); !opserr.IsNotFound(err) {
		t.Fatalf("expected wf-1.2 not found after gc, got %v", err)
	}
}

// A workflow younger than MaxAge, or non-ephemeral, or still running,
// survives garbage collection.
func TestGarbageCollectWorkflowsSkipsIneligible(t *testing.T) {
	e, db, ctx := newEngineHarness(t)

	recentFinished := time.Now().UTC().Add(-5 * time.Minute)
	young := &types.Element{
		Header:   types.Header{ID: "wf-young", Type: types.KindWorkflow},
		Workflow: &types.WorkflowData{Status: types.WorkflowCompleted, Ephemeral: true, FinishedAt: &recentFinished},
	}
	if err := db.CreateElement(ctx, young, "tester"); err != nil {
		t.Fatalf("create young: %v", err)
	}

	oldFinished := time.Now().UTC().Add(-2 * time.Hour)
	persistent := &types.Element{
		Header:   types.Header{ID: "wf-persistent", Type: types.KindWorkflow},
		Workflow: &types.WorkflowData{Status: types.WorkflowCompleted, Ephemeral: false, FinishedAt: &oldFinished},
	}
	if err := db.CreateElement(ctx, persistent, "tester"); err != nil {
		t.Fatalf("create persistent: %v", err)
	}

	running := &types.Element{
		Header:   types.Header{ID: "wf-running", Type: types.KindWorkflow},
		Workflow: &types.WorkflowData{Status: types.WorkflowRunning, Ephemeral: true},
	}
	if err := db.CreateElement(ctx, running, "tester"); err != nil {
		t.Fatalf("create running: %v", err)
	}

	res, err := e.GarbageCollectWorkflows(ctx, GCOptions{MaxAge: 30 * time.Minute})
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if res.WorkflowsDeleted != 0 {
		t.Fatalf("expected no workflows deleted, got %+v", res)
	}
	for _, id := range []string{"wf-young", "wf-persistent", "wf-running"} {
		if _, err := db.GetElement(ctx, id); err != nil {
			t.Fatalf("expected %s to survive gc, got %v", id, err)
		}
	}
}

// GarbageCollectWorkflows with DryRun reports what it would delete
// without deleting anything.
func TestGarbageCollectWorkflowsDryRun(t *testing.T) {
	e, db, ctx := newEngineHarness(t)

	finished := time.Now().UTC().Add(-1 * time.Hour)
	wf := &types.Element{
		Header:   types.Header{ID: "wf-dry", Type: types.KindWorkflow},
		Workflow: &types.WorkflowData{Status: types.WorkflowCompleted, Ephemeral: true, FinishedAt: &finished},
	}
	if err := db.CreateElement(ctx, wf, "tester"); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	res, err := e.GarbageCollectWorkflows(ctx, GCOptions{MaxAge: 30 * time.Minute, DryRun: true})
	if err != nil {
		t.Fatalf("gc dry run: %v", err)
	}
	if res.WorkflowsDeleted != 1 {
		t.Fatalf("expected dry run to report 1 workflow, got %+v", res)
	}
	if _, err := db.GetElement(ctx, "wf-dry"); err != nil {
		t.Fatalf("expected wf-dry to survive a dry run, got %v", err)
	}
}
