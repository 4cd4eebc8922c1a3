package blocked

import (
	"context"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// RecordApproval appends approver to the edge's approvals list and, if
// the gate now satisfies requiredApprovals, recomputes the cache entry
// for blocked.
func (c *Cache) RecordApproval(ctx context.Context, blockedID, blockerID, approver string) error {
	return c.mutateGate(ctx, blockedID, blockerID, func(g *types.GateMetadata) {
		for _, a := range g.Approvals {
			if a == approver {
				return
			}
		}
		g.Approvals = append(g.Approvals, approver)
	})
}

// RemoveApproval is the inverse of RecordApproval: revokes a
// previously-recorded approval.
func (c *Cache) RemoveApproval(ctx context.Context, blockedID, blockerID, approver string) error {
	return c.mutateGate(ctx, blockedID, blockerID, func(g *types.GateMetadata) {
		out := g.Approvals[:0]
		for _, a := range g.Approvals {
			if a != approver {
				out = append(out, a)
			}
		}
		g.Approvals = out
	})
}

// SatisfyGate is an explicit one-shot satisfaction with no per-approver
// tracking, used where the gate is informational only: it sets
// requiredApprovals/approvals to a single matching sentinel so Satisfied
// reports true regardless of who later inspects approvals.
func (c *Cache) SatisfyGate(ctx context.Context, blockedID, blockerID string, actor string) error {
	return c.mutateGate(ctx, blockedID, blockerID, func(g *types.GateMetadata) {
		g.RequiredApprovals = []string{"__satisfied__"}
		g.Approvals = []string{"__satisfied__"}
	})
}

func (c *Cache) mutateGate(ctx context.Context, blockedID, blockerID string, mutate func(*types.GateMetadata)) error {
	const op = "blocked.gate"
	deps, err := c.store.GetDependencyRecords(ctx, blockedID)
	if err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "load edges")
	}
	var target *types.Dependency
	for _, d := range deps {
		if d.Blocker == blockerID && (d.Type == types.DepAwaits || d.Type == types.DepGate) {
			target = d
			break
		}
	}
	if target == nil {
		return opserr.New(op, opserr.NotFound, "no awaits/gate edge "+blockedID+" -> "+blockerID)
	}
	if target.Gate == nil {
		target.Gate = &types.GateMetadata{}
	}
	mutate(target.Gate)

	eventType := types.EventGateApproved
	if len(target.Gate.Approvals) == 0 {
		eventType = types.EventGateRevoked
	}

	if err := c.store.UpdateDependencyGate(ctx, blockedID, blockerID, target.Type, target.Gate); err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "persist gate")
	}
	if err := c.store.AppendEvent(ctx, &types.Event{ElementID: blockedID, EventType: eventType, Actor: ""}); err != nil {
		c.log.Warnf("gate event append failed for %s: %v", blockedID, err)
	}

	c.Refresh(ctx, blockedID)
	return nil
}
