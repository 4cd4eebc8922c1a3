// Package sqlite is the default Storage implementation, backed by the
// pure-Go (cgo-free) ncruces/go-sqlite3 driver running SQLite compiled
// to WASM.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tidwall/gjson"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// Store is the sqlite-backed Storage implementation.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or attaches to) the database at path, applying pragmas
// and the embedded schema. path == "" opens an in-memory database,
// used by tests.
func Open(ctx context.Context, path string) (*Store, error) {
	connStr := path
	if connStr == "" {
		// In-memory databases still need foreign keys on, or the
		// ON DELETE CASCADE cleanup behind hard deletes silently does
		// nothing.
		connStr = "file::memory:?_pragma=foreign_keys(ON)&_txlock=immediate"
	} else {
		connStr += "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, opserr.Wrap("sqlite.Open", opserr.Storage, err, "open database")
	}
	db.SetMaxOpenConns(1) // single-writer discipline

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, opserr.Wrap("sqlite.Open", opserr.Storage, err, "apply schema")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, opserr.Wrap("sqlite.Open", opserr.Storage, err, "run migrations")
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error                { return s.db.Close() }
func (s *Store) Path() string                { return s.path }
func (s *Store) UnderlyingDB() *sql.DB       { return s.db }
func (s *Store) UnderlyingConn(ctx context.Context) (*sql.Conn, error) { return s.db.Conn(ctx) }

// RunInTransaction runs fn inside a BEGIN IMMEDIATE transaction,
// committing on nil and rolling back otherwise; every write is
// linearised through here.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return opserr.Wrap("sqlite.RunInTransaction", opserr.Storage, err, "begin")
	}
	tx := &txImpl{tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return opserr.Wrap("sqlite.RunInTransaction", opserr.Storage, err, "commit")
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every helper
// below run identically inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) exec() execer { return s.db }

// marshalElement serialises an Element's header + one variant payload
// into the single `data` JSON column.
func marshalElement(el *types.Element) (string, error) {
	b, err := json.Marshal(el)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalElement(data string) (*types.Element, error) {
	var el types.Element
	if err := json.Unmarshal([]byte(data), &el); err != nil {
		return nil, err
	}
	return &el, nil
}

func (s *Store) CreateElement(ctx context.Context, el *types.Element, actor string) error {
	return createElement(ctx, s.exec(), el, actor)
}

func createElement(ctx context.Context, x execer, el *types.Element, actor string) error {
	if !el.Type.Valid() {
		return opserr.New("element.create", opserr.Validation, fmt.Sprintf("invalid element type %q", el.Type))
	}
	now := time.Now().UTC()
	if el.CreatedAt.IsZero() {
		el.CreatedAt = now
	}
	el.UpdatedAt = now
	if el.CreatedBy == "" {
		el.CreatedBy = actor
	}
	if el.ContentHash == "" {
		el.ContentHash = el.ComputeContentHash()
	}

	data, err := marshalElement(el)
	if err != nil {
		return opserr.Wrap("element.create", opserr.Storage, err, "marshal")
	}

	_, err = x.ExecContext(ctx, `
		INSERT INTO elements (id, type, content_hash, created_at, created_by, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, el.ID, string(el.Type), el.ContentHash, el.CreatedAt, el.CreatedBy, el.UpdatedAt, data)
	if err != nil {
		if isUniqueConstraintError(err) {
			return opserr.Wrap("element.create", opserr.Conflict, err, fmt.Sprintf("element %s already exists", el.ID))
		}
		return opserr.Wrap("element.create", opserr.Storage, err, "insert")
	}

	for _, tag := range el.Tags {
		if _, err := x.ExecContext(ctx, `INSERT OR IGNORE INTO tags (element_id, tag) VALUES (?, ?)`, el.ID, tag); err != nil {
			return opserr.Wrap("element.create", opserr.Storage, err, "insert tag")
		}
	}

	ev := &types.Event{ElementID: el.ID, EventType: types.EventCreated, Actor: actor, NewValue: el, CreatedAt: now}
	if err := appendEvent(ctx, x, ev); err != nil {
		return err
	}
	return markDirty(ctx, x, el.ID)
}

func (s *Store) GetElement(ctx context.Context, id string) (*types.Element, error) {
	return getElement(ctx, s.exec(), id)
}

func getElement(ctx context.Context, x execer, id string) (*types.Element, error) {
	var data string
	err := x.QueryRowContext(ctx, `SELECT data FROM elements WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, opserr.New("element.get", opserr.NotFound, fmt.Sprintf("element %s not found", id))
	}
	if err != nil {
		return nil, opserr.Wrap("element.get", opserr.Storage, err, "query")
	}
	el, err := unmarshalElement(data)
	if err != nil {
		return nil, opserr.Wrap("element.get", opserr.Storage, err, "corrupt row")
	}
	return el, nil
}

// UpdateElement applies patch to the element identified by id,
// enforcing optimistic concurrency and immutability constraints.
func (s *Store) UpdateElement(ctx context.Context, id string, patch map[string]interface{}, opts storage.UpdateOptions) (*types.Element, error) {
	var result *types.Element
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		result, err = tx.(*txImpl).updateElement(ctx, id, patch, opts)
		return err
	})
	return result, err
}

func (s *Store) DeleteElement(ctx context.Context, id string, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.(*txImpl).deleteElement(ctx, id, actor)
	})
}

func (s *Store) AddTag(ctx context.Context, id, tag string) error {
	return addTag(ctx, s.exec(), id, tag)
}

func addTag(ctx context.Context, x execer, id, tag string) error {
	_, err := x.ExecContext(ctx, `INSERT OR IGNORE INTO tags (element_id, tag) VALUES (?, ?)`, id, tag)
	if err != nil {
		return opserr.Wrap("element.addTag", opserr.Storage, err, "insert tag")
	}
	return patchJSONTags(ctx, x, id)
}

func (s *Store) RemoveTag(ctx context.Context, id, tag string) error {
	return removeTag(ctx, s.exec(), id, tag)
}

func removeTag(ctx context.Context, x execer, id, tag string) error {
	_, err := x.ExecContext(ctx, `DELETE FROM tags WHERE element_id = ? AND tag = ?`, id, tag)
	if err != nil {
		return opserr.Wrap("element.removeTag", opserr.Storage, err, "delete tag")
	}
	return patchJSONTags(ctx, x, id)
}

// patchJSONTags resyncs the element's JSON-embedded Tags array from the
// tags index table, keeping the JSON column authoritative for reads.
func patchJSONTags(ctx context.Context, x execer, id string) error {
	rows, err := x.QueryContext(ctx, `SELECT tag FROM tags WHERE element_id = ? ORDER BY tag`, id)
	if err != nil {
		return opserr.Wrap("element.patchTags", opserr.Storage, err, "query tags")
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return opserr.Wrap("element.patchTags", opserr.Storage, err, "scan")
		}
		tags = append(tags, t)
	}

	var data string
	if err := x.QueryRowContext(ctx, `SELECT data FROM elements WHERE id = ?`, id).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return opserr.New("element.patchTags", opserr.NotFound, id)
		}
		return opserr.Wrap("element.patchTags", opserr.Storage, err, "query data")
	}

	patched, err := sjsonSetStringArray(data, "tags", tags)
	if err != nil {
		return opserr.Wrap("element.patchTags", opserr.Storage, err, "patch json")
	}
	_, err = x.ExecContext(ctx, `UPDATE elements SET data = ? WHERE id = ?`, patched, id)
	if err != nil {
		return opserr.Wrap("element.patchTags", opserr.Storage, err, "update")
	}
	return nil
}

// extractField pulls a single field out of an element's JSON payload
// without a full unmarshal, the "JSON field extraction for filtering"
// the storage contract requires.
func extractField(data, path string) gjson.Result {
	return gjson.Get(data, path)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
