package graph

import "github.com/opsloom/opsloom/internal/types"

// wouldCreateCycle reports whether adding an edge blocked->blocker
// (blocked depends on blocker) within the given cycle class would close
// a cycle, i.e. whether blocked is already reachable from blocker by
// following existing same-class edges in the blocked->blocker direction.
func wouldCreateCycle(all []*types.Dependency, class, blocked, blocker string) bool {
	adj := make(map[string][]string, len(all))
	for _, d := range all {
		if d.Type.CycleClass() != class {
			continue
		}
		adj[d.Blocked] = append(adj[d.Blocked], d.Blocker)
	}

	visited := map[string]bool{}
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == blocked {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range adj[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(blocker)
}

// DetectCycles finds every distinct cycle among the given edges, grouped
// by CycleClass, returning each cycle as an ordered slice of element ids.
// Used for the diagnostic "warn on cycle" path (no production code path
// requires cycles to exist, since AddDependency rejects them up front);
// a cycle can still appear if edges were inserted directly, e.g. by a
// prior version or an import skipping validation.
func DetectCycles(all []*types.Dependency) [][]string {
	byClass := map[string]map[string][]string{}
	for _, d := range all {
		class := d.Type.CycleClass()
		if class == "" {
			continue
		}
		if byClass[class] == nil {
			byClass[class] = map[string][]string{}
		}
		byClass[class][d.Blocked] = append(byClass[class][d.Blocked], d.Blocker)
	}

	var cycles [][]string
	for _, adj := range byClass {
		visited := map[string]bool{}
		onStack := map[string]bool{}
		var path []string

		var dfs func(node string) [][]string
		dfs = func(node string) [][]string {
			visited[node] = true
			onStack[node] = true
			path = append(path, node)

			var found [][]string
			for _, next := range adj[node] {
				if onStack[next] {
					// cycle runs from next's position in path to here
					for i, n := range path {
						if n == next {
							cycle := append([]string{}, path[i:]...)
							found = append(found, cycle)
							break
						}
					}
					continue
				}
				if !visited[next] {
					found = append(found, dfs(next)...)
				}
			}

			path = path[:len(path)-1]
			onStack[node] = false
			return found
		}

		for node := range adj {
			if !visited[node] {
				cycles = append(cycles, dfs(node)...)
			}
		}
	}
	return cycles
}
