package inbox_test

import (
	"context"
	"testing"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/inbox"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/store"
	"github.com/opsloom/opsloom/internal/types"
)

func newTestStore(t *testing.T) (*store.Store, *sqlite.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := blocked.New(db, nil)
	return store.New(db, cache), db, ctx
}

func mustCreate(t *testing.T, s *store.Store, ctx context.Context, el *types.Element) {
	t.Helper()
	if err := s.Create(ctx, el, "tester"); err != nil {
		t.Fatalf("create %s: %v", el.ID, err)
	}
}

func newDoc(id, content string) *types.Element {
	return &types.Element{Header: types.Header{ID: id, Type: types.KindDocument}, Document: &types.DocumentData{Content: content, ContentType: "text/plain", Version: 1}}
}

// Direct-channel messages deliver an inbox item to the other member, not
// the sender.
func TestDirectChannelDeliversToOtherMember(t *testing.T) {
	s, db, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)

	ch := &types.Element{Header: types.Header{ID: "dm1", Type: types.KindChannel}, Channel: &types.ChannelData{ChannelType: types.ChannelDirect, Members: []string{"ann", "bee"}}}
	mustCreate(t, s, ctx, ch)
	mustCreate(t, s, ctx, newDoc("d1", "hey there"))
	msg := &types.Element{Header: types.Header{ID: "m1", Type: types.KindMessage}, Message: &types.MessageData{ChannelID: "dm1", Sender: "ann", ContentRef: "d1"}}
	mustCreate(t, s, ctx, msg)

	items, err := inbox.GetInboxForRecipient(ctx, db, "bee", false, 10)
	if err != nil {
		t.Fatalf("get inbox: %v", err)
	}
	if len(items) != 1 || items[0].SourceType != types.InboxSourceDirect || items[0].MessageID != "m1" {
		t.Fatalf("expected one direct inbox item for bee, got %+v", items)
	}
	senderItems, err := inbox.GetInboxForRecipient(ctx, db, "ann", false, 10)
	if err != nil {
		t.Fatalf("get inbox for sender: %v", err)
	}
	if len(senderItems) != 0 {
		t.Fatalf("expected no inbox item for the sender, got %+v", senderItems)
	}
}

// Group channels never produce a broadcast inbox item.
func TestGroupChannelNoBroadcast(t *testing.T) {
	s, db, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	cal := &types.Element{Header: types.Header{ID: "cal", Type: types.KindEntity}, Entity: &types.EntityData{Name: "cal"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)
	mustCreate(t, s, ctx, cal)

	grp := &types.Element{Header: types.Header{ID: "grp1", Type: types.KindChannel}, Channel: &types.ChannelData{ChannelType: types.ChannelGroup, Members: []string{"ann", "bee", "cal"}}}
	mustCreate(t, s, ctx, grp)
	mustCreate(t, s, ctx, newDoc("d2", "no mentions here"))
	msg := &types.Element{Header: types.Header{ID: "m2", Type: types.KindMessage}, Message: &types.MessageData{ChannelID: "grp1", Sender: "ann", ContentRef: "d2"}}
	mustCreate(t, s, ctx, msg)

	for _, recipient := range []string{"bee", "cal"} {
		items, err := inbox.GetInboxForRecipient(ctx, db, recipient, false, 10)
		if err != nil {
			t.Fatalf("get inbox for %s: %v", recipient, err)
		}
		if len(items) != 0 {
			t.Fatalf("expected no broadcast inbox item for %s, got %+v", recipient, items)
		}
	}
}

// A thread reply delivers an inbox item to the parent message's sender,
// unless they are the same sender.
func TestThreadReplyDeliversToParentSender(t *testing.T) {
	s, db, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)

	grp := &types.Element{Header: types.Header{ID: "grp2", Type: types.KindChannel}, Channel: &types.ChannelData{ChannelType: types.ChannelGroup, Members: []string{"ann", "bee"}}}
	mustCreate(t, s, ctx, grp)
	mustCreate(t, s, ctx, newDoc("d3", "original"))
	parent := &types.Element{Header: types.Header{ID: "m3", Type: types.KindMessage}, Message: &types.MessageData{ChannelID: "grp2", Sender: "ann", ContentRef: "d3"}}
	mustCreate(t, s, ctx, parent)

	mustCreate(t, s, ctx, newDoc("d4", "a reply"))
	reply := &types.Element{Header: types.Header{ID: "m4", Type: types.KindMessage}, Message: &types.MessageData{ChannelID: "grp2", Sender: "bee", ContentRef: "d4", ThreadID: "m3"}}
	mustCreate(t, s, ctx, reply)

	items, err := inbox.GetInboxForRecipient(ctx, db, "ann", false, 10)
	if err != nil {
		t.Fatalf("get inbox: %v", err)
	}
	found := false
	for _, it := range items {
		if it.SourceType == types.InboxSourceReply && it.MessageID == "m4" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a reply inbox item for ann, got %+v", items)
	}
}

// suppressInbox short-circuits all routing, including mentions.
func TestSuppressInboxShortCircuits(t *testing.T) {
	s, db, ctx := newTestStore(t)
	ann := &types.Element{Header: types.Header{ID: "ann", Type: types.KindEntity}, Entity: &types.EntityData{Name: "ann"}}
	bee := &types.Element{Header: types.Header{ID: "bee", Type: types.KindEntity}, Entity: &types.EntityData{Name: "bee"}}
	mustCreate(t, s, ctx, ann)
	mustCreate(t, s, ctx, bee)

	grp := &types.Element{Header: types.Header{ID: "grp3", Type: types.KindChannel}, Channel: &types.ChannelData{ChannelType: types.ChannelGroup, Members: []string{"ann", "bee"}}}
	mustCreate(t, s, ctx, grp)
	mustCreate(t, s, ctx, newDoc("d5", "hi @bee"))
	msg := &types.Element{
		Header:  types.Header{ID: "m5", Type: types.KindMessage, Metadata: map[string]interface{}{"suppressInbox": true}},
		Message: &types.MessageData{ChannelID: "grp3", Sender: "ann", ContentRef: "d5"},
	}
	mustCreate(t, s, ctx, msg)

	items, err := inbox.GetInboxForRecipient(ctx, db, "bee", false, 10)
	if err != nil {
		t.Fatalf("get inbox: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected suppressInbox to produce no inbox items, got %+v", items)
	}
	mentions, err := inbox.GetMentionsOf(ctx, db, "bee")
	if err != nil {
		t.Fatalf("get mentions: %v", err)
	}
	if len(mentions) != 0 {
		t.Fatalf("expected suppressInbox to skip the mentions edge too, got %+v", mentions)
	}
}

// ExtractMentions pulls distinct @name tokens in first-seen order.
func TestExtractMentions(t *testing.T) {
	got := inbox.ExtractMentions("hey @bee, cc @cal and @bee again")
	want := []string{"bee", "cal"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
