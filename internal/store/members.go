package store

import (
	"context"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// AddMember adds memberID to a channel or team. A direct channel's
// membership is immutable after creation; group channels honor their
// modifyMembers permission.
func (s *Store) AddMember(ctx context.Context, id, memberID, actor string) error {
	const op = "store.addMember"
	el, err := s.db.GetElement(ctx, id)
	if err != nil {
		return err
	}

	members, err := membershipOf(op, el)
	if err != nil {
		return err
	}
	if containsString(members, memberID) {
		return opserr.New(op, opserr.Conflict, memberID+" is already a member")
	}
	if el.Channel != nil {
		if el.Channel.ChannelType == types.ChannelDirect {
			return opserr.New(op, opserr.Constraint, "direct channel membership is immutable")
		}
		if el.Channel.Permissions.ModifyMembers == "creator_only" && actor != el.CreatedBy {
			return opserr.New(op, opserr.Constraint, "only the channel creator may modify members")
		}
	}

	return s.db.RunInTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.UpdateElement(ctx, id, map[string]interface{}{
			"members": append(append([]string{}, members...), memberID),
		}, storage.UpdateOptions{Actor: actor, SuppressEvent: true})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &types.Event{
			ElementID: id, EventType: types.EventMemberAdded, Actor: actor,
			NewValue: map[string]interface{}{"member": memberID},
		})
	})
}

// RemoveMember removes memberID from a channel or team, under the same
// constraints as AddMember.
func (s *Store) RemoveMember(ctx context.Context, id, memberID, actor string) error {
	const op = "store.removeMember"
	el, err := s.db.GetElement(ctx, id)
	if err != nil {
		return err
	}

	members, err := membershipOf(op, el)
	if err != nil {
		return err
	}
	if !containsString(members, memberID) {
		return opserr.New(op, opserr.NotFound, memberID+" is not a member")
	}
	if el.Channel != nil {
		if el.Channel.ChannelType == types.ChannelDirect {
			return opserr.New(op, opserr.Constraint, "direct channel membership is immutable")
		}
		if el.Channel.Permissions.ModifyMembers == "creator_only" && actor != el.CreatedBy {
			return opserr.New(op, opserr.Constraint, "only the channel creator may modify members")
		}
	}

	remaining := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m != memberID {
			remaining = append(remaining, m)
		}
	}
	return s.db.RunInTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.UpdateElement(ctx, id, map[string]interface{}{
			"members": remaining,
		}, storage.UpdateOptions{Actor: actor, SuppressEvent: true})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &types.Event{
			ElementID: id, EventType: types.EventMemberRemoved, Actor: actor,
			OldValue: map[string]interface{}{"member": memberID},
		})
	})
}

func membershipOf(op string, el *types.Element) ([]string, error) {
	switch {
	case el.Channel != nil:
		return el.Channel.Members, nil
	case el.Team != nil:
		return el.Team.Members, nil
	default:
		return nil, opserr.New(op, opserr.Constraint, "element has no membership")
	}
}
