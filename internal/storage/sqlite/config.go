package sqlite

import (
	"context"
	"database/sql"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
)

func setConfig(ctx context.Context, x execer, key, value string) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return opserr.Wrap("config.set", opserr.Storage, err, "upsert")
	}
	return nil
}

func getConfig(ctx context.Context, x execer, key string) (string, error) {
	var value string
	err := x.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", opserr.New("config.get", opserr.NotFound, "key not set: "+key)
	}
	if err != nil {
		return "", opserr.Wrap("config.get", opserr.Storage, err, "query")
	}
	return value, nil
}

func setMetadata(ctx context.Context, x execer, key, value string) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return opserr.Wrap("metadata.set", opserr.Storage, err, "upsert")
	}
	return nil
}

func getMetadata(ctx context.Context, x execer, key string) (string, error) {
	var value string
	err := x.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", opserr.New("metadata.get", opserr.NotFound, "key not set: "+key)
	}
	if err != nil {
		return "", opserr.Wrap("metadata.get", opserr.Storage, err, "query")
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	return setConfig(ctx, s.exec(), key, value)
}
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, s.exec(), key)
}
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, s.exec(), key, value)
}
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.exec(), key)
}

func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.exec().QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, opserr.Wrap("config.all", opserr.Storage, err, "query")
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, opserr.Wrap("config.all", opserr.Storage, err, "scan")
		}
		out[k] = v
	}
	return out, rows.Err()
}

var _ storage.Storage = (*Store)(nil)
