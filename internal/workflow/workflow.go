// Package workflow implements the Workflow/Plan Engine:
// plans and workflows group tasks via parent-child edges where the
// plan/workflow is the blocker; this package exposes the business-level
// operations layered over internal/graph and internal/storage.
package workflow

import (
	"context"
	"fmt"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/graph"
	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// Engine bundles the storage and blocked-cache collaborators the
// workflow operations need.
type Engine struct {
	store storage.Storage
	cache *blocked.Cache
	log   *logging.Logger
}

func New(store storage.Storage, cache *blocked.Cache, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{store: store, cache: cache, log: log.With("workflow")}
}

// Progress aggregates task status counts for a plan or workflow.
type Progress struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	InProgress  int     `json:"inProgress"`
	Blocked     int     `json:"blocked"`
	Open        int     `json:"open"`
	Percentage  float64 `json:"percentage"`
}

// AddTaskToPlan adds a parent-child edge from taskID to parentID (the
// plan/workflow is the blocker side).
func (e *Engine) AddTaskToPlan(ctx context.Context, parentID, taskID string, actor string) error {
	dep := &types.Dependency{Blocked: taskID, Blocker: parentID, Type: types.DepParentChild, CreatedBy: actor}
	if err := graph.AddDependency(ctx, e.store, dep); err != nil {
		return err
	}
	e.cache.Invalidate(ctx, taskID)
	return nil
}

// RemoveTaskFromPlan removes the parent-child edge.
func (e *Engine) RemoveTaskFromPlan(ctx context.Context, parentID, taskID string) error {
	if err := graph.RemoveDependency(ctx, e.store, taskID, parentID, types.DepParentChild); err != nil {
		return err
	}
	e.cache.Invalidate(ctx, taskID)
	return nil
}

// GetTasksInPlan returns the tasks directly parented to parentID,
// applying filter.
func (e *Engine) GetTasksInPlan(ctx context.Context, parentID string, filter types.TaskFilter) ([]*types.Element, error) {
	children, err := e.store.GetDependentRecords(ctx, parentID)
	if err != nil {
		return nil, opserr.Wrap("workflow.tasksInPlan", opserr.Storage, err, "load children")
	}
	var out []*types.Element
	for _, dep := range children {
		if dep.Type != types.DepParentChild {
			continue
		}
		el, err := e.store.GetElement(ctx, dep.Blocked)
		if err != nil {
			if opserr.IsNotFound(err) {
				continue
			}
			return nil, opserr.Wrap("workflow.tasksInPlan", opserr.Storage, err, "load task")
		}
		if el.Type != types.KindTask || el.Task == nil {
			continue
		}
		if !taskMatchesFilter(el.Task, filter) {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

func taskMatchesFilter(t *types.TaskData, f types.TaskFilter) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	return true
}

// GetPlanProgress aggregates status counts for every task directly
// parented to parentID.
func (e *Engine) GetPlanProgress(ctx context.Context, parentID string) (Progress, error) {
	tasks, err := e.GetTasksInPlan(ctx, parentID, types.TaskFilter{})
	if err != nil {
		return Progress{}, err
	}
	return progressOf(tasks), nil
}

func progressOf(tasks []*types.Element) Progress {
	p := Progress{Total: len(tasks)}
	for _, el := range tasks {
		switch el.Task.Status {
		case types.TaskClosed:
			p.Completed++
		case types.TaskInProgress:
			p.InProgress++
		case types.TaskBlocked:
			p.Blocked++
		case types.TaskOpen, types.TaskBacklog, types.TaskDeferred:
			p.Open++
		}
	}
	if p.Total > 0 {
		p.Percentage = 100 * float64(p.Completed) / float64(p.Total)
	}
	return p
}

// CreateTaskInPlanOptions configures createTaskInPlan.
type CreateTaskInPlanOptions struct {
	HierarchicalChildID bool
	Actor               string
}

// CreateTaskInPlan validates the parent's state (must allow new tasks:
// plan draft/active, or a non-terminal workflow), optionally mints a
// hierarchical child id, creates the task, and adds the parent-child
// edge.
func (e *Engine) CreateTaskInPlan(ctx context.Context, parentID string, task *types.Element, opts CreateTaskInPlanOptions) (*types.Element, error) {
	const op = "workflow.createTaskInPlan"
	parent, err := e.store.GetElement(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := planAllowsNewTasks(op, parent); err != nil {
		return nil, err
	}

	if opts.HierarchicalChildID {
		childID, err := e.store.GetNextChildID(ctx, parentID)
		if err != nil {
			return nil, err
		}
		task.ID = childID
	} else if task.ID == "" {
		id, err := e.store.GenerateElementID(ctx, string(types.KindTask), taskTitle(task), "", opts.Actor)
		if err != nil {
			return nil, err
		}
		task.ID = id
	}
	task.Type = types.KindTask

	err = e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateElement(ctx, task, opts.Actor); err != nil {
			return err
		}
		return tx.AddDependency(ctx, &types.Dependency{Blocked: task.ID, Blocker: parentID, Type: types.DepParentChild, CreatedBy: opts.Actor})
	})
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(ctx, task.ID)
	return task, nil
}

// CreateTaskFromTemplate stamps a catalog template into a new task
// under parentID: the template supplies the shape (type, priority,
// complexity, tags), the caller supplies the instance title.
func (e *Engine) CreateTaskFromTemplate(ctx context.Context, parentID string, tmpl Template, title string, opts CreateTaskInPlanOptions) (*types.Element, error) {
	task := &types.Element{
		Header: types.Header{
			Type:     types.KindTask,
			Tags:     append([]string{}, tmpl.Tags...),
			Metadata: map[string]interface{}{"title": title, "template": tmpl.Name},
		},
		Task: &types.TaskData{
			Status:         types.TaskOpen,
			Priority:       tmpl.Priority,
			Complexity:     tmpl.Complexity,
			TaskType:       tmpl.TaskType,
			DescriptionRef: tmpl.BodyRef,
		},
	}
	if task.Task.Priority == 0 {
		task.Task.Priority = 3
	}
	if task.Task.Complexity == 0 {
		task.Task.Complexity = 3
	}
	return e.CreateTaskInPlan(ctx, parentID, task, opts)
}

func taskTitle(task *types.Element) string {
	if task.Task != nil {
		return task.Task.TaskType
	}
	return ""
}

func planAllowsNewTasks(op string, parent *types.Element) error {
	switch parent.Type {
	case types.KindPlan:
		if parent.Plan == nil || !parent.Plan.Status.AllowsNewTasks() {
			return opserr.New(op, opserr.Constraint, fmt.Sprintf("plan %s is not draft/active", parent.ID))
		}
	case types.KindWorkflow:
		if parent.Workflow == nil || parent.Workflow.Status.IsTerminal() {
			return opserr.New(op, opserr.Constraint, fmt.Sprintf("workflow %s is terminal", parent.ID))
		}
	default:
		return opserr.New(op, opserr.Constraint, "parent must be a plan or workflow")
	}
	return nil
}
