package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// ReconstructAtTime rebuilds the state of element id as of the instant
// at, by folding its journal in ascending sequence order and stopping
// at the last event whose createdAt is at or before the target.
// Returns (nil, nil) when the element did not exist at that time:
// created later, or already deleted.
func (s *Store) ReconstructAtTime(ctx context.Context, id string, at time.Time) (*types.Element, error) {
	const op = "store.reconstruct"
	events, err := s.db.QueryEvents(ctx, types.EventFilter{ElementID: id})
	if err != nil {
		return nil, opserr.Wrap(op, opserr.Storage, err, "load journal")
	}

	var snapshot map[string]interface{}
	var kind types.Kind
	for _, ev := range events {
		if ev.CreatedAt.After(at) {
			break
		}
		switch ev.EventType {
		case types.EventCreated:
			full, ok := ev.NewValue.(map[string]interface{})
			if !ok {
				return nil, opserr.New(op, opserr.Storage, "created event has no element snapshot")
			}
			snapshot = cloneJSONMap(full)
			if t, ok := full["type"].(string); ok {
				kind = types.Kind(t)
			}
		case types.EventDeleted:
			snapshot = nil
		case types.EventUpdated, types.EventClosed, types.EventReopened,
			types.EventAutoBlocked, types.EventAutoUnblocked:
			if snapshot == nil {
				continue
			}
			diff, ok := ev.NewValue.(map[string]interface{})
			if !ok {
				continue
			}
			applyFieldDiff(snapshot, kind, diff)
		}
	}
	if snapshot == nil {
		return nil, nil
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, opserr.Wrap(op, opserr.Storage, err, "marshal folded state")
	}
	var el types.Element
	if err := json.Unmarshal(raw, &el); err != nil {
		return nil, opserr.Wrap(op, opserr.Storage, err, "decode folded state")
	}
	return &el, nil
}

// applyFieldDiff routes a journal diff into the snapshot the same way
// the live patch path does: tags/metadata/createdBy live on the header,
// everything else belongs to the variant payload.
func applyFieldDiff(snapshot map[string]interface{}, kind types.Kind, diff map[string]interface{}) {
	variantKey := kind.VariantKey()
	variant, _ := snapshot[variantKey].(map[string]interface{})
	if variant == nil {
		variant = map[string]interface{}{}
	}
	for k, v := range diff {
		switch k {
		case "tags", "metadata", "createdBy":
			snapshot[k] = v
		default:
			variant[k] = v
		}
	}
	snapshot[variantKey] = variant
}

func cloneJSONMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Events exposes the journal query surface on the Element Store facade.
func (s *Store) Events(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	return s.db.QueryEvents(ctx, filter)
}
