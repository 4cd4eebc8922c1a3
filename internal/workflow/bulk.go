package workflow

import (
	"context"

	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
	"github.com/opsloom/opsloom/internal/validation"
)

// BulkResult is the outcome of a bulk operation over a plan's tasks.
// Elements are processed one at a time — status and assignee updates
// each in their own transaction, BulkTag's tag writes outside any
// transaction; the bulk call is not atomic across its elements — so a
// single failure never aborts the rest.
type BulkResult struct {
	Updated    int      `json:"updated"`
	Skipped    int      `json:"skipped"`
	UpdatedIDs []string `json:"updatedIds"`
	SkippedIDs []string `json:"skippedIds"`
	Errors     []string `json:"errors"`
}

func (r *BulkResult) recordUpdated(id string) { r.Updated++; r.UpdatedIDs = append(r.UpdatedIDs, id) }
func (r *BulkResult) recordSkipped(id string)  { r.Skipped++; r.SkippedIDs = append(r.SkippedIDs, id) }
func (r *BulkResult) recordError(id string, err error) {
	r.Errors = append(r.Errors, id+": "+err.Error())
}

// BulkClose closes every eligible (non-terminal, non-tombstoned) task in
// the plan.
func (e *Engine) BulkClose(ctx context.Context, parentID, actor, reason string) (*BulkResult, error) {
	tasks, err := e.GetTasksInPlan(ctx, parentID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	result := &BulkResult{}
	for _, el := range tasks {
		if err := validation.ForClose("workflow.bulkClose").Check(el); err != nil {
			result.recordSkipped(el.ID)
			continue
		}
		patch := map[string]interface{}{"status": string(types.TaskClosed), "closeReason": reason}
		if _, err := e.store.UpdateElement(ctx, el.ID, patch, storage.UpdateOptions{Actor: actor}); err != nil {
			result.recordError(el.ID, err)
			continue
		}
		e.cache.Invalidate(ctx, el.ID)
		result.recordUpdated(el.ID)
	}
	return result, nil
}

// BulkDefer moves every eligible open-like task to deferred.
func (e *Engine) BulkDefer(ctx context.Context, parentID, actor string) (*BulkResult, error) {
	tasks, err := e.GetTasksInPlan(ctx, parentID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	result := &BulkResult{}
	for _, el := range tasks {
		if err := validation.ForUpdate("workflow.bulkDefer").Check(el); err != nil || el.Task.Status == types.TaskDeferred || !el.Task.Status.IsOpenLike() && el.Task.Status != types.TaskBacklog {
			result.recordSkipped(el.ID)
			continue
		}
		if _, err := e.store.UpdateElement(ctx, el.ID, map[string]interface{}{"status": string(types.TaskDeferred)}, storage.UpdateOptions{Actor: actor}); err != nil {
			result.recordError(el.ID, err)
			continue
		}
		e.cache.Invalidate(ctx, el.ID)
		result.recordUpdated(el.ID)
	}
	return result, nil
}

// BulkReassign sets assignee on every eligible task, skipping tasks
// already assigned to the same value.
func (e *Engine) BulkReassign(ctx context.Context, parentID, actor, assignee string) (*BulkResult, error) {
	tasks, err := e.GetTasksInPlan(ctx, parentID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	result := &BulkResult{}
	for _, el := range tasks {
		if err := validation.ForUpdate("workflow.bulkReassign").Check(el); err != nil || el.Task.Assignee == assignee {
			result.recordSkipped(el.ID)
			continue
		}
		if _, err := e.store.UpdateElement(ctx, el.ID, map[string]interface{}{"assignee": assignee}, storage.UpdateOptions{Actor: actor}); err != nil {
			result.recordError(el.ID, err)
			continue
		}
		result.recordUpdated(el.ID)
	}
	return result, nil
}

// BulkTag adds tag to every eligible (non-tombstoned) task.
func (e *Engine) BulkTag(ctx context.Context, parentID, tag string) (*BulkResult, error) {
	tasks, err := e.GetTasksInPlan(ctx, parentID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	result := &BulkResult{}
	for _, el := range tasks {
		if el.IsTombstoned() || el.HasTag(tag) {
			result.recordSkipped(el.ID)
			continue
		}
		if err := e.store.AddTag(ctx, el.ID, tag); err != nil {
			result.recordError(el.ID, err)
			continue
		}
		result.recordUpdated(el.ID)
	}
	return result, nil
}
