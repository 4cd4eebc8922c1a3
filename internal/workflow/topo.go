package workflow

import (
	"context"
	"sort"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// GetOrderedTasksInWorkflow topologically sorts the sub-DAG induced by
// `blocks` edges restricted to tasks in the workflow, via Kahn's
// algorithm. Ties among simultaneously-ready nodes are broken by
// (priority ascending, id ascending) for determinism; any nodes left
// over once no more in-degree-zero node exists are appended in id
// order, since a cycle among them has no well-defined order.
func (e *Engine) GetOrderedTasksInWorkflow(ctx context.Context, workflowID string) ([]*types.Element, error) {
	tasks, err := e.GetTasksInPlan(ctx, workflowID, types.TaskFilter{})
	if err != nil {
		return nil, err
	}
	members := make(map[string]*types.Element, len(tasks))
	for _, t := range tasks {
		members[t.ID] = t
	}

	// blocks edges within the workflow: blocked depends on blocker, so
	// the blocker must come first in the order.
	inDegree := make(map[string]int, len(tasks))
	blockerToBlocked := make(map[string][]string, len(tasks))
	for id := range members {
		inDegree[id] = 0
	}
	for id := range members {
		deps, err := e.store.GetDependencyRecords(ctx, id)
		if err != nil {
			return nil, opserr.Wrap("workflow.orderedTasks", opserr.Storage, err, "load edges")
		}
		for _, d := range deps {
			if d.Type != types.DepBlocks {
				continue
			}
			if _, inWorkflow := members[d.Blocker]; !inWorkflow {
				continue
			}
			inDegree[id]++
			blockerToBlocked[d.Blocker] = append(blockerToBlocked[d.Blocker], id)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var ordered []*types.Element
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ti, tj := members[ready[i]].Task, members[ready[j]].Task
			if ti.Priority != tj.Priority {
				return ti.Priority < tj.Priority
			}
			return ready[i] < ready[j]
		})
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, members[next])
		delete(inDegree, next)

		for _, blocked := range blockerToBlocked[next] {
			if _, stillPending := inDegree[blocked]; !stillPending {
				continue
			}
			inDegree[blocked]--
			if inDegree[blocked] == 0 {
				ready = append(ready, blocked)
			}
		}
	}

	if len(inDegree) > 0 {
		var leftover []string
		for id := range inDegree {
			leftover = append(leftover, id)
		}
		sort.Strings(leftover)
		for _, id := range leftover {
			ordered = append(ordered, members[id])
		}
	}
	return ordered, nil
}
