package graph

import (
	"testing"
	"time"

	"github.com/opsloom/opsloom/internal/types"
)

func edge(blocked, blocker string, typ types.DependencyType) *types.Dependency {
	return &types.Dependency{Blocked: blocked, Blocker: blocker, Type: typ, CreatedAt: time.Now()}
}

func TestWouldCreateCycleSimple(t *testing.T) {
	all := []*types.Dependency{edge("a", "b", types.DepBlocks)}
	if !wouldCreateCycle(all, "blocks", "b", "a") {
		t.Fatal("expected adding b->a to close a 2-cycle with existing a->b")
	}
}

func TestWouldCreateCycleNoCycle(t *testing.T) {
	all := []*types.Dependency{edge("a", "b", types.DepBlocks)}
	if wouldCreateCycle(all, "blocks", "c", "a") {
		t.Fatal("did not expect a cycle for an unrelated new edge")
	}
}

func TestWouldCreateCycleIgnoresOtherClasses(t *testing.T) {
	all := []*types.Dependency{edge("a", "b", types.DepParentChild)}
	if wouldCreateCycle(all, "blocks", "b", "a") {
		t.Fatal("a parent-child edge must not block a same-direction blocks edge")
	}
}

func TestDetectCyclesFindsSimpleCycle(t *testing.T) {
	all := []*types.Dependency{
		edge("a", "b", types.DepBlocks),
		edge("b", "a", types.DepBlocks),
	}
	cycles := DetectCycles(all)
	if len(cycles) == 0 {
		t.Fatal("expected at least one cycle")
	}
	if len(cycles[0]) != 2 {
		t.Fatalf("expected a 2-node cycle, got %v", cycles[0])
	}
}

func TestDetectCyclesAcyclic(t *testing.T) {
	all := []*types.Dependency{
		edge("a", "b", types.DepBlocks),
		edge("b", "c", types.DepBlocks),
	}
	if cycles := DetectCycles(all); len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", cycles)
	}
}

func TestDetectCyclesEmpty(t *testing.T) {
	if cycles := DetectCycles(nil); len(cycles) != 0 {
		t.Fatalf("expected no cycles for empty graph, got %v", cycles)
	}
}

func TestDetectCyclesMixedClassesIndependent(t *testing.T) {
	all := []*types.Dependency{
		edge("a", "b", types.DepBlocks),
		edge("b", "a", types.DepBlocks),
		edge("x", "y", types.DepParentChild),
	}
	cycles := DetectCycles(all)
	if len(cycles) != 1 {
		t.Fatalf("expected exactly one cycle from the blocks class, got %d", len(cycles))
	}
}
