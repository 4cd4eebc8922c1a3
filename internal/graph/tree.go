package graph

import (
	"context"

	"github.com/opsloom/opsloom/internal/storage"
)

// Node is one level of a dependency tree rooted at a given element.
// Reverse trees (dependents) and forward trees (dependencies) share the
// same shape; Direction just documents which one a given Node came from.
type Node struct {
	ID       string
	Element  interface{} // *types.Element, left untyped to avoid an import cycle with callers that embed their own view
	Children []*Node
}

// Direction selects which edges a tree walk follows.
type Direction int

const (
	// Forward walks blocked -> blocker (what this element depends on).
	Forward Direction = iota
	// Reverse walks blocker -> blocked (what depends on this element).
	Reverse
)

// GetDependencyTree walks the graph from rootID up to maxDepth levels
// (0 means unbounded), following edges in the given direction. A
// visited-set prevents infinite recursion on a graph that (despite
// AddDependency's checks) already contains a cycle, at the cost of
// silently truncating the walk at the repeated node rather than erroring.
func GetDependencyTree(ctx context.Context, s storage.Storage, rootID string, maxDepth int, dir Direction) (*Node, error) {
	visited := map[string]bool{rootID: true}
	return buildNode(ctx, s, rootID, maxDepth, 0, dir, visited)
}

func buildNode(ctx context.Context, s storage.Storage, id string, maxDepth, depth int, dir Direction, visited map[string]bool) (*Node, error) {
	el, err := s.GetElement(ctx, id)
	if err != nil {
		return nil, err
	}
	node := &Node{ID: id, Element: el}

	if maxDepth > 0 && depth >= maxDepth {
		return node, nil
	}

	var edges []string
	if dir == Forward {
		deps, err := s.GetDependencyRecords(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			edges = append(edges, d.Blocker)
		}
	} else {
		deps, err := s.GetDependentRecords(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			edges = append(edges, d.Blocked)
		}
	}

	for _, next := range edges {
		if visited[next] {
			continue
		}
		visited[next] = true
		child, err := buildNode(ctx, s, next, maxDepth, depth+1, dir, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
