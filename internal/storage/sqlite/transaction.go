package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// txImpl implements storage.Transaction over a single *sql.Tx.
type txImpl struct {
	tx *sql.Tx
}

func (t *txImpl) exec() execer { return t.tx }

func (t *txImpl) CreateElement(ctx context.Context, el *types.Element, actor string) error {
	return createElement(ctx, t.exec(), el, actor)
}

func (t *txImpl) GetElement(ctx context.Context, id string) (*types.Element, error) {
	return getElement(ctx, t.exec(), id)
}

func (t *txImpl) UpdateElement(ctx context.Context, id string, patch map[string]interface{}, opts storage.UpdateOptions) (*types.Element, error) {
	return t.updateElement(ctx, id, patch, opts)
}

func (t *txImpl) DeleteElement(ctx context.Context, id string, actor string) error {
	return t.deleteElement(ctx, id, actor)
}

func (t *txImpl) AddDependency(ctx context.Context, dep *types.Dependency) error {
	return addDependency(ctx, t.exec(), dep)
}

func (t *txImpl) RemoveDependency(ctx context.Context, blocked, blocker string, depType types.DependencyType) error {
	return removeDependency(ctx, t.exec(), blocked, blocker, depType)
}

func (t *txImpl) AddTag(ctx context.Context, id, tag string) error    { return addTag(ctx, t.exec(), id, tag) }
func (t *txImpl) RemoveTag(ctx context.Context, id, tag string) error { return removeTag(ctx, t.exec(), id, tag) }

func (t *txImpl) SetConfig(ctx context.Context, key, value string) error {
	return setConfig(ctx, t.exec(), key, value)
}
func (t *txImpl) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, t.exec(), key)
}
func (t *txImpl) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, t.exec(), key, value)
}
func (t *txImpl) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, t.exec(), key)
}

func (t *txImpl) AppendEvent(ctx context.Context, ev *types.Event) error {
	return appendEvent(ctx, t.exec(), ev)
}

func (t *txImpl) CreateInboxItem(ctx context.Context, item *types.InboxItem) error {
	return createInboxItem(ctx, t.exec(), item)
}

// updateElement is the shared implementation of element patching:
// optimistic concurrency, immutability/constraint checks, document
// version snapshotting, lifecycle event derivation, and dirty marking.
func (t *txImpl) updateElement(ctx context.Context, id string, patch map[string]interface{}, opts storage.UpdateOptions) (*types.Element, error) {
	x := t.exec()
	el, err := getElement(ctx, x, id)
	if err != nil {
		return nil, err
	}
	if el.IsTombstoned() {
		return nil, opserr.New("element.update", opserr.NotFound, fmt.Sprintf("element %s is deleted", id))
	}

	if opts.ExpectedUpdatedAt != nil && !opts.ExpectedUpdatedAt.Equal(el.UpdatedAt) {
		return nil, opserr.New("element.update", opserr.Conflict, "concurrent modification: expectedUpdatedAt does not match")
	}

	if el.Type == types.KindMessage {
		return nil, opserr.New("element.update", opserr.Constraint, "messages are immutable")
	}
	if el.Type == types.KindDocument && el.Document != nil && el.Document.Immutable {
		if _, touchesContent := patch["content"]; touchesContent {
			return nil, opserr.New("element.update", opserr.Constraint, "document is immutable")
		}
	}

	oldStatus := el.Status()
	oldFields := flatFieldMap(el)
	_, touchesContent := patch["content"]
	var preImage *types.Element
	if el.Type == types.KindDocument && el.Document != nil && touchesContent {
		clone := *el
		cloneDoc := *el.Document
		clone.Document = &cloneDoc
		preImage = &clone
	}

	if err := applyPatch(el, patch); err != nil {
		return nil, opserr.Wrap("element.update", opserr.Validation, err, "apply patch")
	}

	if preImage != nil {
		if err := snapshotDocumentVersion(ctx, x, id, preImage); err != nil {
			return nil, err
		}
		el.Document.Version = preImage.Document.Version + 1
		el.Document.PreviousVersionID = id
	}

	now := time.Now().UTC()
	el.UpdatedAt = now
	el.ContentHash = el.ComputeContentHash()

	data, err := marshalElement(el)
	if err != nil {
		return nil, opserr.Wrap("element.update", opserr.Storage, err, "marshal")
	}
	if _, err := x.ExecContext(ctx, `UPDATE elements SET data = ?, content_hash = ?, updated_at = ? WHERE id = ?`, data, el.ContentHash, now, id); err != nil {
		return nil, opserr.Wrap("element.update", opserr.Storage, err, "update row")
	}

	newStatus := el.Status()
	eventType := lifecycleEventType(el.Type, oldStatus, newStatus)
	newFields := flatFieldMap(el)
	oldVals := map[string]interface{}{}
	newVals := map[string]interface{}{}
	for k := range patch {
		oldVals[k] = oldFields[k]
		newVals[k] = newFields[k]
	}
	if oldStatus != newStatus {
		oldVals["status"] = oldStatus
		newVals["status"] = newStatus
	}
	if !opts.SuppressEvent {
		ev := &types.Event{ElementID: id, EventType: eventType, Actor: opts.Actor, OldValue: oldVals, NewValue: newVals, CreatedAt: now}
		if err := appendEvent(ctx, x, ev); err != nil {
			return nil, err
		}
	}
	if err := markDirty(ctx, x, id); err != nil {
		return nil, err
	}
	return el, nil
}

// lifecycleEventType derives the audit event type from a status
// transition, per variant-specific terminal sets.
func lifecycleEventType(kind types.Kind, oldStatus, newStatus string) types.EventType {
	if oldStatus == newStatus {
		return types.EventUpdated
	}
	wasTerminal := isTerminalStatus(kind, oldStatus)
	isTerminal := isTerminalStatus(kind, newStatus)
	switch {
	case isTerminal && !wasTerminal:
		return types.EventClosed
	case wasTerminal && !isTerminal:
		return types.EventReopened
	default:
		return types.EventUpdated
	}
}

func isTerminalStatus(kind types.Kind, status string) bool {
	switch kind {
	case types.KindTask:
		return status == string(types.TaskClosed) || status == string(types.TaskTombstone)
	case types.KindPlan:
		// Draft counts here: activating a drafted plan reads as a
		// reopen in the journal, even though draft is not terminal for
		// blocking purposes.
		return status == string(types.PlanCompleted) || status == string(types.PlanCancelled) ||
			status == string(types.PlanDraft)
	case types.KindWorkflow:
		return status == string(types.WorkflowCompleted) || status == string(types.WorkflowFailed) || status == string(types.WorkflowCancelled)
	default:
		return true
	}
}

// deleteElement soft-deletes (tombstones) an element. Messages are
// exempt: undeletable once committed.
func (t *txImpl) deleteElement(ctx context.Context, id string, actor string) error {
	x := t.exec()
	el, err := getElement(ctx, x, id)
	if err != nil {
		return err
	}
	if el.Type == types.KindMessage {
		return opserr.New("element.delete", opserr.Constraint, "messages cannot be deleted")
	}
	if el.IsTombstoned() {
		return nil
	}

	now := time.Now().UTC()
	el.DeletedAt = &now
	el.UpdatedAt = now
	if el.Task != nil {
		el.Task.Status = types.TaskTombstone
	}

	data, err := marshalElement(el)
	if err != nil {
		return opserr.Wrap("element.delete", opserr.Storage, err, "marshal")
	}
	if _, err := x.ExecContext(ctx, `UPDATE elements SET data = ?, deleted_at = ?, updated_at = ? WHERE id = ?`, data, now, now, id); err != nil {
		return opserr.Wrap("element.delete", opserr.Storage, err, "update row")
	}

	// The element row survives as a tombstone, but every dependency
	// edge touching it is hard-deleted: a dead element neither blocks
	// nor is blocked.
	if _, err := x.ExecContext(ctx, `DELETE FROM dependencies WHERE blocked_id = ? OR blocker_id = ?`, id, id); err != nil {
		return opserr.Wrap("element.delete", opserr.Storage, err, "cascade dependency rows")
	}

	// A tombstoned document keeps its row but loses its version
	// history; the content that remains is the final state only.
	if el.Type == types.KindDocument {
		if _, err := x.ExecContext(ctx, `DELETE FROM document_versions WHERE document_id = ?`, id); err != nil {
			return opserr.Wrap("element.delete", opserr.Storage, err, "delete version history")
		}
	}

	if err := appendEvent(ctx, x, &types.Event{ElementID: id, EventType: types.EventDeleted, Actor: actor, CreatedAt: now}); err != nil {
		return err
	}
	return markDirty(ctx, x, id)
}

// applyPatch merges a generic field patch into an element by
// round-tripping through JSON: marshal the element, apply the patch
// fields on top as a JSON merge, then unmarshal back. This keeps one
// code path for every variant instead of a field-by-field switch.
func applyPatch(el *types.Element, patch map[string]interface{}) error {
	base, err := json.Marshal(el)
	if err != nil {
		return err
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(base, &asMap); err != nil {
		return err
	}

	variantKey := variantKeyFor(el.Type)
	variant, _ := asMap[variantKey].(map[string]interface{})
	if variant == nil {
		variant = map[string]interface{}{}
	}
	for k, v := range patch {
		switch k {
		case "tags", "metadata", "createdBy":
			asMap[k] = v
		default:
			variant[k] = v
		}
	}
	asMap[variantKey] = variant

	merged, err := json.Marshal(asMap)
	if err != nil {
		return err
	}
	var fresh types.Element
	if err := json.Unmarshal(merged, &fresh); err != nil {
		return err
	}
	*el = fresh
	return nil
}

// flatFieldMap projects an element into the same flat key space the
// patch path uses: header fields at the top level with the variant's
// own fields merged over them, so a patch key and its pre/post values
// line up one-to-one in the journal entry.
func flatFieldMap(el *types.Element) map[string]interface{} {
	b, err := json.Marshal(el)
	if err != nil {
		return map[string]interface{}{}
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(b, &asMap); err != nil {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	for k, v := range asMap {
		if k == variantKeyFor(el.Type) {
			continue
		}
		out[k] = v
	}
	if variant, ok := asMap[variantKeyFor(el.Type)].(map[string]interface{}); ok {
		for k, v := range variant {
			out[k] = v
		}
	}
	return out
}

func variantKeyFor(kind types.Kind) string { return kind.VariantKey() }

func snapshotDocumentVersion(ctx context.Context, x execer, id string, preImage *types.Element) error {
	data, err := marshalElement(preImage)
	if err != nil {
		return opserr.Wrap("document.snapshot", opserr.Storage, err, "marshal")
	}
	version := preImage.Document.Version
	_, err = x.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_versions (document_id, version, data, created_at)
		VALUES (?, ?, ?, ?)
	`, id, version, data, time.Now().UTC())
	if err != nil {
		return opserr.Wrap("document.snapshot", opserr.Storage, err, "insert version")
	}
	return nil
}
