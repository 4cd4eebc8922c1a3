package workflow

import (
	"context"
	"time"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// DeleteWorkflow hard-deletes a workflow and all of its child tasks
// along with their events/tags — destructive, not a tombstone.
// Children are removed before the parent so the FK cascade on
// dependencies has somewhere valid to point until the last delete.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) error {
	wf, err := e.store.GetElement(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Type != types.KindWorkflow {
		return opserr.New("workflow.delete", opserr.Constraint, workflowID+" is not a workflow")
	}

	children, err := e.GetTasksInPlan(ctx, workflowID, types.TaskFilter{})
	if err != nil {
		return err
	}

	return e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for _, child := range children {
			if err := tx.HardDeleteElement(ctx, child.ID); err != nil {
				return err
			}
		}
		return tx.HardDeleteElement(ctx, workflowID)
	})
}

// GCOptions configures garbageCollectWorkflows.
type GCOptions struct {
	MaxAge time.Duration
	Limit  int
	DryRun bool
}

// GCResult reports what garbageCollectWorkflows did (or would do, for a
// dry run).
type GCResult struct {
	WorkflowsDeleted int      `json:"workflowsDeleted"`
	TasksDeleted     int      `json:"tasksDeleted"`
	WorkflowIDs      []string `json:"workflowIds"`
}

// GarbageCollectWorkflows selects ephemeral, terminal workflows whose
// finishedAt age exceeds opts.MaxAge and deletes them.
func (e *Engine) GarbageCollectWorkflows(ctx context.Context, opts GCOptions) (GCResult, error) {
	els, err := e.store.ListElements(ctx, types.ElementFilter{Types: []types.Kind{types.KindWorkflow}})
	if err != nil {
		return GCResult{}, opserr.Wrap("workflow.gc", opserr.Storage, err, "list workflows")
	}

	cutoff := time.Now().UTC().Add(-opts.MaxAge)
	var result GCResult
	for _, el := range els {
		if opts.Limit > 0 && result.WorkflowsDeleted >= opts.Limit {
			break
		}
		wf := el.Workflow
		if wf == nil || !wf.Ephemeral || !wf.Status.IsTerminal() || wf.FinishedAt == nil {
			continue
		}
		if wf.FinishedAt.After(cutoff) {
			continue
		}

		children, err := e.GetTasksInPlan(ctx, el.ID, types.TaskFilter{})
		if err != nil {
			return result, err
		}
		result.WorkflowsDeleted++
		result.TasksDeleted += len(children)
		result.WorkflowIDs = append(result.WorkflowIDs, el.ID)

		if opts.DryRun {
			continue
		}
		if err := e.DeleteWorkflow(ctx, el.ID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// GetReadyTasksInWorkflow is GetTasksInPlan scoped to a workflow,
// restricted to tasks currently unblocked, always excluding tombstones.
func (e *Engine) GetReadyTasksInWorkflow(ctx context.Context, workflowID string) ([]*types.Element, error) {
	tasks, err := e.GetTasksInPlan(ctx, workflowID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	var out []*types.Element
	for _, el := range tasks {
		if el.IsTombstoned() {
			continue
		}
		if _, blockedNow, err := e.store.GetBlockedEntry(ctx, el.ID); err == nil && blockedNow {
			continue
		}
		if !el.Task.Status.IsOpenLike() {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

// GetWorkflowProgress is GetPlanProgress scoped to a workflow, excluding
// tombstones.
func (e *Engine) GetWorkflowProgress(ctx context.Context, workflowID string) (Progress, error) {
	tasks, err := e.GetTasksInPlan(ctx, workflowID, types.TaskFilter{})
	if err != nil {
		return Progress{}, err
	}
	live := tasks[:0]
	for _, el := range tasks {
		if !el.IsTombstoned() {
			live = append(live, el)
		}
	}
	return progressOf(live), nil
}
