// Package validation provides composable business-rule checks reused by
// every mutating element-store operation: small validators (Exists,
// NotDeleted, ValidPriority, ...) chained per operation.
package validation

import (
	"fmt"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// Validator checks one business rule against an element, returning a
// structured opserr on failure.
type Validator func(el *types.Element) error

// Chain runs validators in order, stopping at the first failure.
type Chain []Validator

func (c Chain) Check(el *types.Element) error {
	for _, v := range c {
		if err := v(el); err != nil {
			return err
		}
	}
	return nil
}

// NotTombstoned rejects an element that has already been soft-deleted.
func NotTombstoned(op string) Validator {
	return func(el *types.Element) error {
		if el.IsTombstoned() {
			return opserr.New(op, opserr.NotFound, fmt.Sprintf("element %s is deleted", el.ID))
		}
		return nil
	}
}

// NotMessage rejects messages, used by update/delete: a message is
// immutable and undeletable once committed.
func NotMessage(op string) Validator {
	return func(el *types.Element) error {
		if el.Type == types.KindMessage {
			return opserr.New(op, opserr.Constraint, "messages are immutable")
		}
		return nil
	}
}

// IsKind rejects an element whose Type is not one of the allowed kinds.
func IsKind(op string, kinds ...types.Kind) Validator {
	return func(el *types.Element) error {
		for _, k := range kinds {
			if el.Type == k {
				return nil
			}
		}
		return opserr.New(op, opserr.Constraint, fmt.Sprintf("expected one of %v, got %s", kinds, el.Type))
	}
}

// HasTaskStatus rejects a task element whose status is not one of the
// allowed statuses. Non-task elements always pass (the check is a
// no-op outside its variant).
func HasTaskStatus(op string, statuses ...types.TaskStatus) Validator {
	return func(el *types.Element) error {
		if el.Type != types.KindTask || el.Task == nil {
			return nil
		}
		for _, s := range statuses {
			if el.Task.Status == s {
				return nil
			}
		}
		return opserr.New(op, opserr.Constraint, fmt.Sprintf("task %s is not in an eligible status (%s)", el.ID, el.Task.Status))
	}
}

// ValidPriority rejects a task whose priority/complexity fall outside
// the 1..5 range.
func ValidPriority(op string) Validator {
	return func(el *types.Element) error {
		if el.Type != types.KindTask || el.Task == nil {
			return nil
		}
		if !types.ValidPriority(el.Task.Priority) {
			return opserr.New(op, opserr.Validation, fmt.Sprintf("priority %d out of range 1..5", el.Task.Priority))
		}
		if el.Task.Complexity != 0 && !types.ValidPriority(el.Task.Complexity) {
			return opserr.New(op, opserr.Validation, fmt.Sprintf("complexity %d out of range 1..5", el.Task.Complexity))
		}
		return nil
	}
}

// ForUpdate is the standard chain run before patching any element:
// reject tombstones and messages.
func ForUpdate(op string) Chain {
	return Chain{NotTombstoned(op), NotMessage(op)}
}

// ForClose is ForUpdate plus requiring the task not already be in a
// terminal state (closing an already-closed task is a no-op the caller
// should detect earlier, not silently re-fire events for).
func ForClose(op string) Chain {
	return Chain{NotTombstoned(op), NotMessage(op), HasTaskStatus(op, types.TaskOpen, types.TaskInProgress, types.TaskBlocked, types.TaskDeferred, types.TaskBacklog)}
}

// ForDelete is the chain run before tombstoning any element; messages
// are undeletable.
func ForDelete(op string) Chain {
	return Chain{NotMessage(op)}
}

// ForReopen requires the task currently be closed.
func ForReopen(op string) Chain {
	return Chain{NotTombstoned(op), NotMessage(op), HasTaskStatus(op, types.TaskClosed)}
}

// EntityNameUnique validates an entity's name is not already used by
// another non-tombstoned entity. existing is nil
// when no entity with that name exists.
func EntityNameUnique(op, selfID string, existing *types.Element) error {
	if existing == nil || existing.IsTombstoned() {
		return nil
	}
	if existing.ID == selfID {
		return nil
	}
	return opserr.New(op, opserr.Conflict, fmt.Sprintf("entity name already in use by %s", existing.ID))
}
