package exportimport

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/types"
)

func newDB(t *testing.T) (*sqlite.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, ctx
}

// Export then import on a fresh store with conflictStrategy=overwrite
// reproduces the original element and dependency set.
func TestExportImportRoundTrip(t *testing.T) {
	src, ctx := newDB(t)

	plan := &types.Element{Header: types.Header{ID: "pl-1", Type: types.KindPlan}, Plan: &types.PlanData{Status: types.PlanActive}}
	if err := src.CreateElement(ctx, plan, "tester"); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	task := &types.Element{Header: types.Header{ID: "pl-1.1", Type: types.KindTask}, Task: &types.TaskData{Status: types.TaskOpen, Priority: 2, Complexity: 1, TaskType: "work"}}
	if err := src.CreateElement(ctx, task, "tester"); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := src.AddDependency(ctx, &types.Dependency{Blocked: "pl-1.1", Blocker: "pl-1", Type: types.DepParentChild, CreatedBy: "tester"}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	var buf bytes.Buffer
	if err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	dump := buf.String()
	if lines := strings.Count(dump, "\n"); lines != 3 {
		t.Fatalf("expected 3 NDJSON lines (2 elements + 1 dependency), got %d:\n%s", lines, dump)
	}

	dst, ctx2 := newDB(t)
	res, err := Import(ctx2, dst, strings.NewReader(dump), ImportOptions{ConflictStrategy: ConflictOverwrite, Actor: "importer"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("expected no import errors, got %v", res.Errors)
	}
	if res.ElementsImported != 2 || res.DependenciesImported != 1 {
		t.Fatalf("expected 2 elements + 1 dependency imported, got %+v", res)
	}

	gotPlan, err := dst.GetElement(ctx2, "pl-1")
	if err != nil || gotPlan.Plan == nil || gotPlan.Plan.Status != types.PlanActive {
		t.Fatalf("expected pl-1 reproduced with active status, got %+v, err=%v", gotPlan, err)
	}
	gotTask, err := dst.GetElement(ctx2, "pl-1.1")
	if err != nil || gotTask.Task == nil || gotTask.Task.Priority != 2 {
		t.Fatalf("expected pl-1.1 reproduced with priority 2, got %+v, err=%v", gotTask, err)
	}
	deps, err := dst.GetDependencyRecords(ctx2, "pl-1.1")
	if err != nil {
		t.Fatalf("get dependency records: %v", err)
	}
	found := false
	for _, d := range deps {
		if d.Blocker == "pl-1" && d.Type == types.DepParentChild {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected parent-child dependency reproduced on import, got %v", deps)
	}
}

// Default conflict strategy (skip) leaves an existing id untouched.
func TestImportConflictSkip(t *testing.T) {
	dst, ctx := newDB(t)
	existing := &types.Element{Header: types.Header{ID: "t-1", Type: types.KindTask}, Task: &types.TaskData{Status: types.TaskOpen, Priority: 1, Complexity: 1, TaskType: "work"}}
	if err := dst.CreateElement(ctx, existing, "tester"); err != nil {
		t.Fatalf("create existing: %v", err)
	}

	incoming := `{"id":"t-1","type":"task","task":{"status":"open","priority":5,"complexity":1,"taskType":"work"}}` + "\n"
	res, err := Import(ctx, dst, strings.NewReader(incoming), ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Resolved {
		t.Fatalf("expected one unresolved conflict, got %+v", res.Conflicts)
	}
	if res.ElementsImported != 0 {
		t.Fatalf("expected skip to import nothing, got %+v", res)
	}
	got, err := dst.GetElement(ctx, "t-1")
	if err != nil || got.Task.Priority != 1 {
		t.Fatalf("expected t-1 untouched (priority 1), got %+v, err=%v", got, err)
	}
}
