package graph

import (
	"context"
	"testing"
	"time"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// fakeStore is a minimal in-memory storage.Storage stub exercising only
// the methods graph.go calls, enough to unit-test AddDependency's
// validation chain without a real database.
type fakeStore struct {
	storage.Storage
	elements map[string]*types.Element
	edges    []*types.Dependency
	added    []*types.Dependency
}

func newFakeStore(ids ...string) *fakeStore {
	fs := &fakeStore{elements: map[string]*types.Element{}}
	for _, id := range ids {
		fs.elements[id] = &types.Element{Header: types.Header{ID: id, Type: types.KindTask}}
	}
	return fs
}

func (f *fakeStore) GetElement(ctx context.Context, id string) (*types.Element, error) {
	el, ok := f.elements[id]
	if !ok {
		return nil, opserr.New("test", opserr.NotFound, "no such element")
	}
	return el, nil
}

func (f *fakeStore) GetDependencyRecords(ctx context.Context, id string) ([]*types.Dependency, error) {
	var out []*types.Dependency
	for _, e := range f.edges {
		if e.Blocked == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDependentRecords(ctx context.Context, id string) ([]*types.Dependency, error) {
	var out []*types.Dependency
	for _, e := range f.edges {
		if e.Blocker == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error) {
	return f.edges, nil
}

func (f *fakeStore) AddDependency(ctx context.Context, dep *types.Dependency) error {
	f.edges = append(f.edges, dep)
	f.added = append(f.added, dep)
	return nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, ev *types.Event) error {
	return nil
}

func TestAddDependencyRejectsSelfReference(t *testing.T) {
	fs := newFakeStore("a")
	err := AddDependency(context.Background(), fs, &types.Dependency{Blocked: "a", Blocker: "a", Type: types.DepBlocks, CreatedAt: time.Now()})
	if !opserr.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestAddDependencyRejectsUnknownElements(t *testing.T) {
	fs := newFakeStore("a")
	err := AddDependency(context.Background(), fs, &types.Dependency{Blocked: "a", Blocker: "missing", Type: types.DepBlocks, CreatedAt: time.Now()})
	if err == nil {
		t.Fatal("expected an error for an unknown blocker")
	}
}

func TestAddDependencyRejectsDuplicate(t *testing.T) {
	fs := newFakeStore("a", "b")
	fs.edges = append(fs.edges, &types.Dependency{Blocked: "a", Blocker: "b", Type: types.DepBlocks, CreatedAt: time.Now()})
	err := AddDependency(context.Background(), fs, &types.Dependency{Blocked: "a", Blocker: "b", Type: types.DepBlocks, CreatedAt: time.Now()})
	if !opserr.IsConflict(err) {
		t.Fatalf("expected a conflict error for a duplicate edge, got %v", err)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	fs := newFakeStore("a", "b", "c")
	fs.edges = append(fs.edges,
		&types.Dependency{Blocked: "a", Blocker: "b", Type: types.DepBlocks, CreatedAt: time.Now()},
		&types.Dependency{Blocked: "b", Blocker: "c", Type: types.DepBlocks, CreatedAt: time.Now()},
	)
	err := AddDependency(context.Background(), fs, &types.Dependency{Blocked: "c", Blocker: "a", Type: types.DepBlocks, CreatedAt: time.Now()})
	if !opserr.IsConstraint(err) {
		t.Fatalf("expected a constraint error for closing a cycle, got %v", err)
	}
}

func TestAddDependencyAllowsAcyclicAcrossClasses(t *testing.T) {
	fs := newFakeStore("a", "b", "c")
	fs.edges = append(fs.edges, &types.Dependency{Blocked: "b", Blocker: "c", Type: types.DepParentChild, CreatedAt: time.Now()})
	err := AddDependency(context.Background(), fs, &types.Dependency{Blocked: "a", Blocker: "b", Type: types.DepBlocks, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.added) != 1 {
		t.Fatalf("expected the edge to be persisted, got %d calls", len(fs.added))
	}
}
