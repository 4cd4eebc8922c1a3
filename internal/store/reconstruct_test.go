package store

import (
	"testing"
	"time"

	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// Time-travel reconstruction folds the journal: the state at any past
// instant equals the accumulation of events up to it, and an element
// created after (or deleted before) the target is absent.
func TestReconstructAtTime(t *testing.T) {
	s, ctx := newTestStore(t)

	task := &types.Element{
		Header: types.Header{ID: "task-r", Type: types.KindTask},
		Task:   &types.TaskData{Status: types.TaskOpen, Priority: 3, Complexity: 2},
	}
	mustCreate(t, s, ctx, task)
	afterCreate := time.Now().UTC()

	time.Sleep(5 * time.Millisecond)
	if _, err := s.Update(ctx, "task-r", map[string]interface{}{"priority": 1, "status": string(types.TaskInProgress)}, storage.UpdateOptions{Actor: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	afterUpdate := time.Now().UTC()

	got, err := s.ReconstructAtTime(ctx, "task-r", afterCreate)
	if err != nil {
		t.Fatalf("reconstruct at create: %v", err)
	}
	if got == nil || got.Task == nil {
		t.Fatalf("expected task present at afterCreate, got %+v", got)
	}
	if got.Task.Priority != 3 || got.Task.Status != types.TaskOpen {
		t.Fatalf("expected pre-update state (priority 3, open), got priority %d status %s", got.Task.Priority, got.Task.Status)
	}

	got, err = s.ReconstructAtTime(ctx, "task-r", afterUpdate)
	if err != nil {
		t.Fatalf("reconstruct at update: %v", err)
	}
	if got == nil || got.Task.Priority != 1 || got.Task.Status != types.TaskInProgress {
		t.Fatalf("expected post-update state (priority 1, in_progress), got %+v", got.Task)
	}

	before := afterCreate.Add(-time.Hour)
	got, err = s.ReconstructAtTime(ctx, "task-r", before)
	if err != nil {
		t.Fatalf("reconstruct before create: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent before creation, got %+v", got)
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.Delete(ctx, "task-r", "tester", "done with it"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	afterDelete := time.Now().UTC().Add(time.Millisecond)
	got, err = s.ReconstructAtTime(ctx, "task-r", afterDelete)
	if err != nil {
		t.Fatalf("reconstruct after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent after delete, got %+v", got)
	}
}

// A status change produces exactly one journal entry carrying both the
// old and new status.
func TestStatusChangeJournalsOnce(t *testing.T) {
	s, ctx := newTestStore(t)

	task := &types.Element{
		Header: types.Header{ID: "task-j", Type: types.KindTask},
		Task:   &types.TaskData{Status: types.TaskOpen, Priority: 2, Complexity: 1},
	}
	mustCreate(t, s, ctx, task)
	if _, err := s.Update(ctx, "task-j", map[string]interface{}{"status": string(types.TaskClosed)}, storage.UpdateOptions{Actor: "tester"}); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := s.Events(ctx, types.EventFilter{ElementID: "task-j"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	matches := 0
	for _, ev := range events {
		oldVals, _ := ev.OldValue.(map[string]interface{})
		newVals, _ := ev.NewValue.(map[string]interface{})
		if oldVals == nil || newVals == nil {
			continue
		}
		if oldVals["status"] == string(types.TaskOpen) && newVals["status"] == string(types.TaskClosed) {
			matches++
			if ev.EventType != types.EventClosed {
				t.Fatalf("expected closed event for the transition, got %s", ev.EventType)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected exactly one journal entry for open->closed, got %d", matches)
	}
}

// The content hash is stable across a create/serialize/deserialize
// round trip and only moves when user-authored content moves.
func TestContentHashRoundTrip(t *testing.T) {
	s, ctx := newTestStore(t)

	task := &types.Element{
		Header: types.Header{ID: "task-h", Type: types.KindTask, Tags: []string{"infra"}},
		Task:   &types.TaskData{Status: types.TaskOpen, Priority: 2, Complexity: 3},
	}
	mustCreate(t, s, ctx, task)

	stored, err := s.Get(ctx, "task-h")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ContentHash == "" {
		t.Fatalf("expected content hash to be populated on create")
	}
	if stored.ContentHash != stored.ComputeContentHash() {
		t.Fatalf("stored hash does not match recomputed hash")
	}

	if _, err := s.Update(ctx, "task-h", map[string]interface{}{"priority": 1}, storage.UpdateOptions{Actor: "tester"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, _ := s.Get(ctx, "task-h")
	if after.ContentHash == stored.ContentHash {
		t.Fatalf("expected content hash to change when priority changed")
	}
	if after.ContentHash != after.ComputeContentHash() {
		t.Fatalf("post-update hash does not match recomputed hash")
	}
}

// Paginated listings report the pre-window total alongside the page.
func TestListPaginated(t *testing.T) {
	s, ctx := newTestStore(t)
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		mustCreate(t, s, ctx, &types.Element{
			Header: types.Header{ID: id, Type: types.KindTask},
			Task:   &types.TaskData{Status: types.TaskOpen, Priority: 3, Complexity: 1},
		})
	}

	page, err := s.ListPaginated(ctx, types.ElementFilter{Types: []types.Kind{types.KindTask}, Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("list paginated: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item in window, got %d", len(page.Items))
	}
}

// Journal queries narrow by type, actor, and time window, in either
// direction.
func TestQueryEventsFilters(t *testing.T) {
	s, ctx := newTestStore(t)

	for _, id := range []string{"q-1", "q-2"} {
		mustCreate(t, s, ctx, &types.Element{
			Header: types.Header{ID: id, Type: types.KindTask},
			Task:   &types.TaskData{Status: types.TaskOpen, Priority: 3, Complexity: 1},
		})
	}
	if _, err := s.Update(ctx, "q-1", map[string]interface{}{"priority": 2}, storage.UpdateOptions{Actor: "alice"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	byType, err := s.Events(ctx, types.EventFilter{Types: []types.EventType{types.EventCreated}})
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 created events, got %d", len(byType))
	}

	byActor, err := s.Events(ctx, types.EventFilter{Actor: "alice"})
	if err != nil {
		t.Fatalf("by actor: %v", err)
	}
	if len(byActor) != 1 || byActor[0].ElementID != "q-1" {
		t.Fatalf("expected alice's single update on q-1, got %+v", byActor)
	}

	desc, err := s.Events(ctx, types.EventFilter{ElementID: "q-1", Descending: true})
	if err != nil {
		t.Fatalf("descending: %v", err)
	}
	if len(desc) < 2 || desc[0].Sequence < desc[1].Sequence {
		t.Fatalf("expected descending sequence order, got %+v", desc)
	}
}
