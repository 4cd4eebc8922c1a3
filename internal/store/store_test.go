package store

import (
	"context"
	"testing"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/types"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := blocked.New(db, nil)
	return New(db, cache), ctx
}

func mustCreate(t *testing.T, s *Store, ctx context.Context, el *types.Element) {
	t.Helper()
	if err := s.Create(ctx, el, "tester"); err != nil {
		t.Fatalf("create %s: %v", el.ID, err)
	}
}

// A committed message can be neither updated nor deleted, and its
// mention routing has already fired.
func TestMessageImmutable(t *testing.T) {
	s, ctx := newTestStore(t)

	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)

	grp := &types.Element{Header: types.Header{ID: "grp", Type: types.KindChannel}, Channel: &types.ChannelData{
		ChannelType: types.ChannelGroup, Members: []string{"ann", "bee"},
	}}
	mustCreate(t, s, ctx, grp)

	doc := &types.Element{Header: types.Header{ID: "d1", Type: types.KindDocument}, Document: &types.DocumentData{Content: "Hi @bee", ContentType: "text/plain", Version: 1}}
	mustCreate(t, s, ctx, doc)

	msg := &types.Element{Header: types.Header{ID: "msg1", Type: types.KindMessage}, Message: &types.MessageData{ChannelID: "grp", Sender: "ann", ContentRef: "d1"}}
	mustCreate(t, s, ctx, msg)

	// inbox item for bee, mentions edge, no broadcast for group
	items, err := s.db.ListInboxForRecipient(ctx, "bee", false, 10)
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(items) != 1 || items[0].SourceType != types.InboxSourceMention {
		t.Fatalf("expected one mention inbox item for bee, got %+v", items)
	}
	deps, err := s.db.GetDependentRecords(ctx, "bee")
	if err != nil {
		t.Fatalf("get dependents: %v", err)
	}
	foundMention := false
	for _, d := range deps {
		if d.Blocked == "msg1" && d.Type == types.DepMentions {
			foundMention = true
		}
	}
	if !foundMention {
		t.Fatalf("expected mentions edge msg1 -> bee")
	}

	if _, err := s.Update(ctx, "msg1", map[string]interface{}{"sender": "bee"}, storage.UpdateOptions{}); err == nil {
		t.Fatalf("expected update on message to fail")
	} else if !opserr.IsConstraint(err) {
		t.Fatalf("expected constraint error, got %v", err)
	}

	if err := s.Delete(ctx, "msg1", "tester", "cleanup"); err == nil {
		t.Fatalf("expected delete on message to fail")
	} else if !opserr.IsConstraint(err) {
		t.Fatalf("expected constraint error, got %v", err)
	}
}

// Creating a direct channel twice for the same pair, in either member
// order, returns the same channel.
func TestDirectChannelFindOrCreate(t *testing.T) {
	s, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)

	c1, err := s.GetOrCreateDirectChannel(ctx, "ann", "bee", "tester", "ch1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c2, err := s.GetOrCreateDirectChannel(ctx, "bee", "ann", "tester", "ch2")
	if err != nil {
		t.Fatalf("get-or-create (reversed order): %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("expected same channel for both orderings, got %s and %s", c1.ID, c2.ID)
	}
}

// Entity names are unique across live entities, and a reportsTo chain
// may never loop back on itself.
func TestEntityInvariants(t *testing.T) {
	s, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	mustCreate(t, s, ctx, ann)

	dup := &types.Element{Header: types.Header{ID: "ann2", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	if err := s.Create(ctx, dup, "tester"); err == nil || !opserr.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate entity name, got %v", err)
	}

	selfLoop := &types.Element{Header: types.Header{ID: "cyc", Type: types.KindEntity}, Entity: &types.EntityData{Name: "cyc", ReportsTo: "cyc"}}
	if err := s.Create(ctx, selfLoop, "tester"); err == nil || !opserr.IsConstraint(err) {
		t.Fatalf("expected constraint on self-reporting entity, got %v", err)
	}
}
