// Package storage defines the interface for element storage backends:
// the event journal, element store, dependency graph, and blocked-state
// cache all sit behind this single transactional contract.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/opsloom/opsloom/internal/types"
)

// ErrDBNotInitialized is returned when a database-backed feature is used
// before the database has been opened.
var ErrDBNotInitialized = errors.New("database not initialized")

// UpdateOptions carries the optional preconditions/actor for update().
// SuppressEvent is an internal path for the blocked cache's coupled
// status transitions, which journal their own auto_blocked/
// auto_unblocked event instead of the generic lifecycle one — a status
// change must produce exactly one journal entry.
type UpdateOptions struct {
	ExpectedUpdatedAt *time.Time
	Actor             string
	SuppressEvent     bool
}

// Transaction exposes the subset of Storage operations that run inside
// a single database transaction; every write in the system is
// linearised through one. All operations within a Transaction share
// one connection; a non-nil return rolls the whole thing back.
type Transaction interface {
	CreateElement(ctx context.Context, el *types.Element, actor string) error
	GetElement(ctx context.Context, id string) (*types.Element, error)
	UpdateElement(ctx context.Context, id string, patch map[string]interface{}, opts UpdateOptions) (*types.Element, error)
	DeleteElement(ctx context.Context, id string, actor string) error
	HardDeleteElement(ctx context.Context, id string) error

	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, blocked, blocker string, depType types.DependencyType) error

	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error

	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	AppendEvent(ctx context.Context, ev *types.Event) error

	CreateInboxItem(ctx context.Context, item *types.InboxItem) error
}

// Storage is the full transactional contract the core subsystems are
// built against. A concrete backend (sqlite by default; others are
// pluggable behind the same interface) implements this once.
type Storage interface {
	// Elements
	CreateElement(ctx context.Context, el *types.Element, actor string) error
	GetElement(ctx context.Context, id string) (*types.Element, error)
	UpdateElement(ctx context.Context, id string, patch map[string]interface{}, opts UpdateOptions) (*types.Element, error)
	DeleteElement(ctx context.Context, id string, actor string) error
	HardDeleteElement(ctx context.Context, id string) error
	ListElements(ctx context.Context, filter types.ElementFilter) ([]*types.Element, error)
	ListElementsPaginated(ctx context.Context, filter types.ElementFilter) (*types.Page, error)
	GetElementsByIDs(ctx context.Context, ids []string) (map[string]*types.Element, error)

	// Tasks
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Element, error)

	// Documents
	ListDocuments(ctx context.Context, filter types.DocumentFilter) ([]*types.Element, error)
	GetDocumentVersions(ctx context.Context, documentID string) ([]*types.DocumentVersion, error)

	// Channels & messages
	ListChannels(ctx context.Context, filter types.ChannelFilter) ([]*types.Element, error)
	GetDirectChannel(ctx context.Context, a, b string) (*types.Element, error)
	ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Element, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, blocked, blocker string, depType types.DependencyType) error
	GetDependencyRecords(ctx context.Context, id string) ([]*types.Dependency, error) // edges where id is Blocked
	GetDependentRecords(ctx context.Context, id string) ([]*types.Dependency, error)  // edges where id is Blocker
	GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error)
	UpdateDependencyGate(ctx context.Context, blocked, blocker string, depType types.DependencyType, gate *types.GateMetadata) error

	// Tags
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error

	// Blocked-state cache (materialized; owned by internal/blocked, persisted here)
	UpsertBlockedEntry(ctx context.Context, id string, blockerIDs []string, reason, priorStatus string) error
	DeleteBlockedEntry(ctx context.Context, id string) error
	GetBlockedEntry(ctx context.Context, id string) (*types.BlockedEntry, bool, error)
	ListBlockedEntries(ctx context.Context) (map[string]*types.BlockedEntry, error)

	// Events
	AppendEvent(ctx context.Context, ev *types.Event) error
	GetEvents(ctx context.Context, elementID string, limit int) ([]*types.Event, error)
	GetEventsSince(ctx context.Context, sequence int64, limit int) ([]*types.Event, error)
	QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)

	// Inbox
	CreateInboxItem(ctx context.Context, item *types.InboxItem) error
	ListInboxForRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]*types.InboxItem, error)
	MarkInboxRead(ctx context.Context, id int64) error

	// Dirty tracking, for incremental export
	GetDirtyElements(ctx context.Context) ([]string, error)
	ClearDirtyElements(ctx context.Context, ids []string) error

	// ID generation
	GetNextChildID(ctx context.Context, parentID string) (string, error)
	GenerateElementID(ctx context.Context, kindPrefix, title, body, actor string) (string, error)

	// Config / metadata
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
	Path() string
	UnderlyingDB() *sql.DB
	UnderlyingConn(ctx context.Context) (*sql.Conn, error)
}

// Config holds database configuration. There is a single backend
// today; the struct leaves room for per-backend settings.
type Config struct {
	Path string
}
