// Package store is the element-store business facade:
// create/update/delete/get/list with every variant-specific invariant
// (entity name uniqueness, direct-channel pair uniqueness and
// find-or-create, message sender-membership and live-ref validation,
// document version snapshotting, mention extraction and inbox/mentions
// routing on message create) layered over the bare per-row CRUD the
// internal/storage transactional contract provides.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/dateparse"
	"github.com/opsloom/opsloom/internal/graph"
	"github.com/opsloom/opsloom/internal/inbox"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
	"github.com/opsloom/opsloom/internal/validation"
)

// Store is the element store: the composition of storage.Storage with
// the business rules and collaborators (blocked cache, mention router)
// that create/update/delete need.
type Store struct {
	db     storage.Storage
	cache  *blocked.Cache
	router *inbox.Router
	dates  *dateparse.Parser
}

func New(db storage.Storage, cache *blocked.Cache) *Store {
	return &Store{db: db, cache: cache, router: inbox.New(db), dates: dateparse.New()}
}

// Create validates variant-specific invariants, inserts the element
// (and, for messages, its thread/mentions edges and inbox items) inside
// a single transaction, then invalidates the blocked cache for the new
// element outside it.
func (s *Store) Create(ctx context.Context, el *types.Element, actor string) error {
	const op = "store.create"
	if err := s.validateCreate(ctx, el); err != nil {
		return err
	}

	var threadParentID string
	var content string
	if el.Type == types.KindMessage && el.Message != nil {
		threadParentID = el.Message.ThreadID
		doc, err := s.db.GetElement(ctx, el.Message.ContentRef)
		if err != nil {
			return opserr.Wrap(op, opserr.Validation, err, "message content ref")
		}
		if doc.Document != nil {
			content = doc.Document.Content
		}
	}

	err := s.db.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateElement(ctx, el, actor); err != nil {
			return err
		}
		if el.Type == types.KindMessage {
			if threadParentID != "" {
				if err := tx.AddDependency(ctx, &types.Dependency{Blocked: el.ID, Blocker: threadParentID, Type: types.DepRepliesTo, CreatedBy: actor}); err != nil {
					return err
				}
			}
			if err := s.router.RouteOnCreate(ctx, tx, el, content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, el.ID)
	return nil
}

func (s *Store) validateCreate(ctx context.Context, el *types.Element) error {
	const op = "store.create"
	if !el.Type.Valid() {
		return opserr.New(op, opserr.Validation, fmt.Sprintf("invalid element type %q", el.Type))
	}

	switch el.Type {
	case types.KindEntity:
		if el.Entity == nil || el.Entity.Name == "" {
			return opserr.New(op, opserr.Validation, "entity name required")
		}
		existing, err := s.findEntityByName(ctx, el.Entity.Name)
		if err != nil {
			return err
		}
		if err := validation.EntityNameUnique(op, el.ID, existing); err != nil {
			return err
		}
		if err := s.checkReportsToAcyclic(ctx, el); err != nil {
			return err
		}

	case types.KindChannel:
		if el.Channel == nil {
			return opserr.New(op, opserr.Validation, "channel data required")
		}
		if el.Channel.ChannelType == types.ChannelDirect && len(el.Channel.Members) != 2 {
			return opserr.New(op, opserr.Validation, "direct channel requires exactly two members")
		}

	case types.KindMessage:
		if err := s.validateMessageCreate(ctx, el); err != nil {
			return err
		}

	case types.KindTask:
		if el.Task == nil || !types.ValidPriority(el.Task.Priority) {
			return opserr.New(op, opserr.Validation, "invalid task priority")
		}
	}
	return nil
}

func (s *Store) validateMessageCreate(ctx context.Context, el *types.Element) error {
	const op = "store.create"
	m := el.Message
	if m == nil || m.ChannelID == "" || m.Sender == "" || m.ContentRef == "" {
		return opserr.New(op, opserr.Validation, "message requires channelId, sender, contentRef")
	}
	channel, err := s.db.GetElement(ctx, m.ChannelID)
	if err != nil {
		return opserr.Wrap(op, opserr.Validation, err, "channel")
	}
	if channel.Channel == nil || !containsString(channel.Channel.Members, m.Sender) {
		return opserr.New(op, opserr.Constraint, "sender is not a member of the channel")
	}
	if _, err := s.db.GetElement(ctx, m.ContentRef); err != nil {
		return opserr.Wrap(op, opserr.Validation, err, "contentRef does not point to a live element")
	}
	for _, att := range m.Attachments {
		if _, err := s.db.GetElement(ctx, att); err != nil {
			return opserr.Wrap(op, opserr.Validation, err, "attachment does not point to a live element")
		}
	}
	if m.ThreadID != "" {
		parent, err := s.db.GetElement(ctx, m.ThreadID)
		if err != nil {
			return opserr.Wrap(op, opserr.Validation, err, "thread parent")
		}
		if parent.Message == nil || parent.Message.ChannelID != m.ChannelID {
			return opserr.New(op, opserr.Constraint, "thread parent must live in the same channel")
		}
	}
	return nil
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Store) findEntityByName(ctx context.Context, name string) (*types.Element, error) {
	entities, err := s.db.ListElements(ctx, types.ElementFilter{Types: []types.Kind{types.KindEntity}, IncludeDeleted: true})
	if err != nil {
		return nil, opserr.Wrap("store.findEntity", opserr.Storage, err, "list entities")
	}
	for _, e := range entities {
		if e.Entity != nil && e.Entity.Name == name {
			return e, nil
		}
	}
	return nil, nil
}

// checkReportsToAcyclic walks the reportsTo chain to ensure it reaches
// a root in finitely many steps; the org chart stays a forest.
func (s *Store) checkReportsToAcyclic(ctx context.Context, el *types.Element) error {
	const op = "store.create"
	if el.Entity == nil || el.Entity.ReportsTo == "" {
		return nil
	}
	visited := map[string]bool{el.ID: true}
	cur := el.Entity.ReportsTo
	for i := 0; i < 1000; i++ {
		if cur == "" {
			return nil
		}
		if visited[cur] {
			return opserr.New(op, opserr.Constraint, "reportsTo chain contains a cycle")
		}
		visited[cur] = true
		next, err := s.db.GetElement(ctx, cur)
		if err != nil {
			if opserr.IsNotFound(err) {
				return nil
			}
			return opserr.Wrap(op, opserr.Storage, err, "walk reportsTo")
		}
		if next.Entity == nil {
			return nil
		}
		cur = next.Entity.ReportsTo
	}
	return opserr.New(op, opserr.Constraint, "reportsTo chain exceeds depth limit")
}

// GetOrCreateDirectChannel implements find-or-create semantics:
// creating a direct channel twice for the same pair, in either order,
// returns the same channel.
func (s *Store) GetOrCreateDirectChannel(ctx context.Context, a, b, actor string, newID string) (*types.Element, error) {
	existing, err := s.db.GetDirectChannel(ctx, a, b)
	if err == nil {
		return existing, nil
	}
	if !opserr.IsNotFound(err) {
		return nil, err
	}
	el := &types.Element{
		Header: types.Header{ID: newID, Type: types.KindChannel},
		Channel: &types.ChannelData{
			ChannelType: types.ChannelDirect,
			Members:     []string{a, b},
			Permissions: types.ChannelPermissions{Visibility: types.VisibilityPrivate, JoinPolicy: types.JoinInviteOnly, ModifyMembers: "creator_only"},
		},
	}
	if err := s.Create(ctx, el, actor); err != nil {
		return nil, err
	}
	return el, nil
}

// Update validates the generic update-eligibility chain, delegates to
// the storage layer's optimistic-concurrency patch, and notifies the
// blocked cache of any status change.
func (s *Store) Update(ctx context.Context, id string, patch map[string]interface{}, opts storage.UpdateOptions) (*types.Element, error) {
	const op = "store.update"
	el, err := s.db.GetElement(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validation.ForUpdate(op).Check(el); err != nil {
		return nil, err
	}

	if el.Type == types.KindTask {
		if err := s.normalizeTaskDates(patch); err != nil {
			return nil, err
		}
	}

	oldStatus := el.Status()
	updated, err := s.db.UpdateElement(ctx, id, patch, opts)
	if err != nil {
		return nil, err
	}
	if updated.Status() != oldStatus {
		s.cache.Invalidate(ctx, id)
	}
	return updated, nil
}

// normalizeTaskDates rewrites the task's temporal patch fields
// (deadline, scheduledFor, deferUntil) from whatever the caller typed
// into RFC 3339: an already-absolute timestamp passes through, anything
// else goes through the natural-language parser ("next Tuesday",
// "in 3 days").
func (s *Store) normalizeTaskDates(patch map[string]interface{}) error {
	const op = "store.update"
	for _, key := range []string{"deadline", "scheduledFor", "deferUntil"} {
		raw, ok := patch[key].(string)
		if !ok || raw == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, raw); err == nil {
			continue
		}
		parsed, ok, err := s.dates.Parse(raw, time.Now())
		if err != nil {
			return opserr.Wrap(op, opserr.Validation, err, "parse "+key)
		}
		if !ok {
			return opserr.New(op, opserr.Validation, fmt.Sprintf("cannot interpret %s %q as a date", key, raw))
		}
		patch[key] = parsed.UTC().Format(time.RFC3339)
	}
	return nil
}

// Delete soft-tombstones id, captures affected neighbours before the
// transaction (every element holding a blocks, parent-child or awaits
// edge onto id, which needs recheck once those edges are gone, plus the
// blockers of id's own blocks edges), then
// invalidates the blocked cache for self and every captured neighbour
// outside the transaction.
func (s *Store) Delete(ctx context.Context, id, actor, reason string) error {
	const op = "store.delete"
	el, err := s.db.GetElement(ctx, id)
	if err != nil {
		return err
	}
	if err := validation.ForDelete(op).Check(el); err != nil {
		return err
	}

	neighbours, err := s.captureNeighbours(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.DeleteElement(ctx, id, actor); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)
	for _, n := range neighbours {
		s.cache.Invalidate(ctx, n)
	}
	return nil
}

func (s *Store) captureNeighbours(ctx context.Context, id string) ([]string, error) {
	var out []string
	outgoing, err := s.db.GetDependencyRecords(ctx, id)
	if err != nil {
		return nil, opserr.Wrap("store.delete", opserr.Storage, err, "load outgoing edges")
	}
	for _, d := range outgoing {
		if d.Type == types.DepBlocks {
			out = append(out, d.Blocker)
		}
	}
	incoming, err := s.db.GetDependentRecords(ctx, id)
	if err != nil {
		return nil, opserr.Wrap("store.delete", opserr.Storage, err, "load incoming edges")
	}
	for _, d := range incoming {
		if d.Type == types.DepBlocks || d.Type == types.DepParentChild || d.Type == types.DepAwaits {
			out = append(out, d.Blocked)
		}
	}
	return out, nil
}

// Get is a thin passthrough, kept on Store so callers have one facade
// for the whole Element Store surface.
func (s *Store) Get(ctx context.Context, id string) (*types.Element, error) {
	return s.db.GetElement(ctx, id)
}

// List is a thin passthrough to the generic element listing.
func (s *Store) List(ctx context.Context, filter types.ElementFilter) ([]*types.Element, error) {
	return s.db.ListElements(ctx, filter)
}

// ListPaginated is List plus the pre-window total match count.
func (s *Store) ListPaginated(ctx context.Context, filter types.ElementFilter) (*types.Page, error) {
	return s.db.ListElementsPaginated(ctx, filter)
}

// AddDependency is exposed so callers go through the Element Store
// facade rather than importing internal/graph directly; it forwards to
// the cycle-checked graph layer and invalidates the blocked cache.
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if err := graph.AddDependency(ctx, s.db, dep); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, dep.Blocked)
	return nil
}

// RemoveDependency forwards to the graph layer and invalidates the
// blocked cache for the formerly-blocked endpoint, which may have just
// become ready.
func (s *Store) RemoveDependency(ctx context.Context, blocked, blocker string, depType types.DependencyType) error {
	if err := graph.RemoveDependency(ctx, s.db, blocked, blocker, depType); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, blocked)
	return nil
}
