// Package graph implements the dependency graph operations: adding and
// removing typed edges between elements with duplicate/cycle rejection,
// and traversal helpers (ancestors, descendants, full tree) used by the
// scheduler and blocked-state cache.
package graph

import (
	"context"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// AddDependency validates and records a new edge: no duplicate
// (blocked, blocker, type) triple, no cycle within a single CycleClass.
func AddDependency(ctx context.Context, s storage.Storage, dep *types.Dependency) error {
	const op = "graph.addDependency"
	if !dep.Type.Valid() {
		return opserr.New(op, opserr.Validation, "invalid dependency type")
	}
	if dep.Blocked == dep.Blocker {
		return opserr.New(op, opserr.Validation, "an element cannot depend on itself")
	}
	if _, err := s.GetElement(ctx, dep.Blocked); err != nil {
		return opserr.Wrapf(op, kindOrStorage(err), err, "blocked element %s", dep.Blocked)
	}
	if _, err := s.GetElement(ctx, dep.Blocker); err != nil {
		return opserr.Wrapf(op, kindOrStorage(err), err, "blocker element %s", dep.Blocker)
	}

	existing, err := s.GetDependencyRecords(ctx, dep.Blocked)
	if err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "load existing edges")
	}
	for _, e := range existing {
		if e.Blocker == dep.Blocker && e.Type == dep.Type {
			return opserr.New(op, opserr.Conflict, "dependency already exists")
		}
	}

	if class := dep.Type.CycleClass(); class != "" {
		all, err := s.GetAllDependencyRecords(ctx)
		if err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "load graph")
		}
		if wouldCreateCycle(all, class, dep.Blocked, dep.Blocker) {
			return opserr.New(op, opserr.Constraint, "adding this dependency would create a cycle")
		}
	}

	if err := s.AddDependency(ctx, dep); err != nil {
		return err
	}
	return s.AppendEvent(ctx, &types.Event{
		ElementID: dep.Blocked, EventType: types.EventDependencyAdded, Actor: dep.CreatedBy,
		NewValue: dep,
	})
}

// kindOrStorage preserves a wrapped opserr.Kind (e.g. NotFound) or falls
// back to Storage for an error originating outside the opserr taxonomy.
func kindOrStorage(err error) opserr.Kind {
	if k, ok := opserr.KindOf(err); ok {
		return k
	}
	return opserr.Storage
}

// RemoveDependency deletes a single typed edge and records an event
// against the blocked endpoint. It is idempotent in the
// sense that removing a non-existent edge surfaces as a NotFound the
// caller may safely ignore.
func RemoveDependency(ctx context.Context, s storage.Storage, blocked, blocker string, depType types.DependencyType) error {
	if err := s.RemoveDependency(ctx, blocked, blocker, depType); err != nil {
		return err
	}
	return s.AppendEvent(ctx, &types.Event{
		ElementID: blocked, EventType: types.EventDependencyRemoved, Actor: "",
		OldValue: map[string]string{"blocker": blocker, "type": string(depType)},
	})
}

// GetDependencies returns the edges where id is the blocked side (what
// id depends on).
func GetDependencies(ctx context.Context, s storage.Storage, id string) ([]*types.Dependency, error) {
	return s.GetDependencyRecords(ctx, id)
}

// GetDependents returns the edges where id is the blocker side (what
// depends on id).
func GetDependents(ctx context.Context, s storage.Storage, id string) ([]*types.Dependency, error) {
	return s.GetDependentRecords(ctx, id)
}
