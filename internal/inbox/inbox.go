// Package inbox implements the inbox/mention router: @mention
// extraction and direct/group channel routing rules. inbox_items is
// canonical for "what should a recipient see"; mentions edges are
// canonical for the audit trail. Neither is derived from the other, and
// nothing should expect them to stay identical.
package inbox

import (
	"context"
	"regexp"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// mentionPattern matches @<name> tokens; entity names are validated
// against the store afterward, so this pattern is deliberately loose.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// ExtractMentions returns the distinct @<name> tokens found in content,
// in first-seen order.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Router performs the on-message-create routing decisions.
type Router struct {
	store storage.Storage
}

func New(store storage.Storage) *Router {
	return &Router{store: store}
}

// RouteOnCreate runs inside the same transaction as the message's
// CreateElement call: given the just-created message and the document
// whose content it references, it writes inbox items and mentions
// edges. suppressInbox short-circuits all of it.
func (r *Router) RouteOnCreate(ctx context.Context, tx storage.Transaction, msg *types.Element, content string) error {
	if truthy(msg.Metadata["suppressInbox"]) {
		return nil
	}
	const op = "inbox.routeOnCreate"
	m := msg.Message
	if m == nil {
		return opserr.New(op, opserr.Validation, "not a message")
	}

	channel, err := tx.GetElement(ctx, m.ChannelID)
	if err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "load channel")
	}

	if channel.Channel != nil && channel.Channel.ChannelType == types.ChannelDirect {
		for _, member := range channel.Channel.Members {
			if member != m.Sender {
				if err := tx.CreateInboxItem(ctx, &types.InboxItem{Recipient: member, MessageID: msg.ID, ChannelID: m.ChannelID, SourceType: types.InboxSourceDirect}); err != nil {
					return opserr.Wrap(op, opserr.Storage, err, "direct inbox item")
				}
			}
		}
	}
	// Group channels never get a broadcast inbox item. Deliberate:
	// mentions and thread replies are the only group-channel signals.

	mentioned, err := r.resolveMentions(ctx, content, m.Sender)
	if err != nil {
		return err
	}
	for _, entity := range mentioned {
		if err := tx.CreateInboxItem(ctx, &types.InboxItem{Recipient: entity.ID, MessageID: msg.ID, ChannelID: m.ChannelID, SourceType: types.InboxSourceMention}); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "mention inbox item")
		}
		if err := tx.AddDependency(ctx, &types.Dependency{Blocked: msg.ID, Blocker: entity.ID, Type: types.DepMentions, CreatedBy: m.Sender}); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "mentions edge")
		}
	}

	if m.ThreadID != "" {
		parent, err := tx.GetElement(ctx, m.ThreadID)
		if err != nil {
			if opserr.IsNotFound(err) {
				return nil
			}
			return opserr.Wrap(op, opserr.Storage, err, "load thread parent")
		}
		if parent.Message != nil && parent.Message.Sender != m.Sender {
			if err := tx.CreateInboxItem(ctx, &types.InboxItem{Recipient: parent.Message.Sender, MessageID: msg.ID, ChannelID: m.ChannelID, SourceType: types.InboxSourceReply}); err != nil {
				return opserr.Wrap(op, opserr.Storage, err, "reply inbox item")
			}
		}
	}
	return nil
}

// resolveMentions extracts @name tokens from content and validates each
// against a live, non-sender entity.
func (r *Router) resolveMentions(ctx context.Context, content, sender string) ([]*types.Element, error) {
	names := ExtractMentions(content)
	if len(names) == 0 {
		return nil, nil
	}
	entities, err := r.store.ListElements(ctx, types.ElementFilter{Types: []types.Kind{types.KindEntity}})
	if err != nil {
		return nil, opserr.Wrap("inbox.resolveMentions", opserr.Storage, err, "list entities")
	}
	byName := make(map[string]*types.Element, len(entities))
	for _, e := range entities {
		if e.Entity != nil {
			byName[e.Entity.Name] = e
		}
	}

	var out []*types.Element
	for _, name := range names {
		e, ok := byName[name]
		if !ok || e.ID == sender {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// GetInboxForRecipient returns inbox items for recipient, the canonical
// consumer view — never joined against mentions dependency rows.
func GetInboxForRecipient(ctx context.Context, s storage.Storage, recipient string, unreadOnly bool, limit int) ([]*types.InboxItem, error) {
	return s.ListInboxForRecipient(ctx, recipient, unreadOnly, limit)
}

// GetMentionsOf returns the mentions dependency edges naming entityID as
// blocker — the canonical audit trail, never joined against inbox rows.
func GetMentionsOf(ctx context.Context, s storage.Storage, entityID string) ([]*types.Dependency, error) {
	all, err := s.GetDependentRecords(ctx, entityID)
	if err != nil {
		return nil, opserr.Wrap("inbox.mentionsOf", opserr.Storage, err, "load dependents")
	}
	var out []*types.Dependency
	for _, d := range all {
		if d.Type == types.DepMentions {
			out = append(out, d)
		}
	}
	return out, nil
}

// MarkRead marks a single inbox item read.
func MarkRead(ctx context.Context, s storage.Storage, itemID int64) error {
	return s.MarkInboxRead(ctx, itemID)
}
