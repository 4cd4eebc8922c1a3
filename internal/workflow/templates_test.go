package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opsloom/opsloom/internal/types"
)

// Later catalog files override earlier ones by name; missing files are
// skipped.
func TestLoadTemplateCatalogPrecedence(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	local := filepath.Join(dir, "local.yaml")

	if err := os.WriteFile(base, []byte(`
- name: bugfix
  taskType: bug
  priority: 2
  complexity: 2
  tags: [bug]
- name: chore
  taskType: chore
  priority: 4
`), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(local, []byte(`
- name: bugfix
  taskType: bug
  priority: 1
  tags: [bug, urgent]
`), 0o600); err != nil {
		t.Fatalf("write local: %v", err)
	}

	cat, err := LoadTemplateCatalog(base, local, filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(cat.List()); got != 2 {
		t.Fatalf("expected 2 templates, got %d", got)
	}
	bugfix, ok := cat.Get("bugfix")
	if !ok || bugfix.Priority != 1 || len(bugfix.Tags) != 2 {
		t.Fatalf("expected local override to win, got %+v", bugfix)
	}
}

// A template stamps its shape onto a fresh task in the plan.
func TestCreateTaskFromTemplate(t *testing.T) {
	e, db, ctx := newEngineHarness(t)

	plan := &types.Element{
		Header: types.Header{ID: "pl-tmpl", Type: types.KindPlan},
		Plan:   &types.PlanData{Status: types.PlanActive},
	}
	if err := db.CreateElement(ctx, plan, "tester"); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	tmpl := Template{Name: "bugfix", TaskType: "bug", Priority: 2, Complexity: 2, Tags: []string{"bug"}}
	task, err := e.CreateTaskFromTemplate(ctx, "pl-tmpl", tmpl, "fix login crash", CreateTaskInPlanOptions{Actor: "tester"})
	if err != nil {
		t.Fatalf("create from template: %v", err)
	}
	if task.Task.TaskType != "bug" || task.Task.Priority != 2 {
		t.Fatalf("expected template shape on task, got %+v", task.Task)
	}
	if task.Metadata["template"] != "bugfix" || task.Metadata["title"] != "fix login crash" {
		t.Fatalf("expected provenance metadata, got %+v", task.Metadata)
	}

	children, err := e.GetTasksInPlan(ctx, "pl-tmpl", types.TaskFilter{})
	if err != nil {
		t.Fatalf("tasks in plan: %v", err)
	}
	if len(children) != 1 || children[0].ID != task.ID {
		t.Fatalf("expected the templated task under the plan, got %+v", children)
	}
}
