package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opsloom/opsloom/internal/lockfile"
)

// RegistryEntry is one on-disk record of a live session, surviving a
// process restart of the session manager itself so startup
// reconciliation can find sessions it did not start. The file lives
// next to the database rather than in a process-global location, so
// multiple opsloom databases don't share a registry.
type RegistryEntry struct {
	SessionID         string    `json:"session_id"`
	AgentID           string    `json:"agent_id"`
	ProviderSessionID string    `json:"provider_session_id"`
	Mode              Mode      `json:"mode"`
	PID               int       `json:"pid"`
	WorkingDirectory  string    `json:"working_directory"`
	StartedAt         time.Time `json:"started_at"`
}

// Registry is the file-locked on-disk mirror of the in-memory session
// table, used for startup reconciliation after a Session Manager
// restart: an entry whose PID is no longer alive is dropped; one whose
// PID is alive but unknown in memory is adopted.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewRegistry returns a Registry rooted next to the opsloom database at
// dbDir (e.g. the directory holding opsloom.db).
func NewRegistry(dbDir string) (*Registry, error) {
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{
		path:     filepath.Join(dbDir, "sessions.json"),
		lockPath: filepath.Join(dbDir, "sessions.lock"),
	}, nil
}

func (r *Registry) withFileLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := lockfile.New(r.lockPath)
	return l.WithLock(fn)
}

func (r *Registry) readEntriesLocked() ([]RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session registry: %w", err)
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupted registry just forces a full reconciliation pass.
		return nil, nil
	}
	return entries, nil
}

// writeEntriesLocked writes via temp-file-then-rename so a crash mid
// write never leaves a half-written registry.
func (r *Registry) writeEntriesLocked(entries []RegistryEntry) error {
	if entries == nil {
		entries = []RegistryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp registry file: %w", err)
	}
	return nil
}

// Put upserts the registry entry for a session, keyed on AgentID: at
// most one live session per agent.
func (r *Registry) Put(entry RegistryEntry) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.AgentID != entry.AgentID {
				filtered = append(filtered, e)
			}
		}
		filtered = append(filtered, entry)
		return r.writeEntriesLocked(filtered)
	})
}

// Remove drops the registry entry for agentID, if any.
func (r *Registry) Remove(agentID string) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.AgentID != agentID {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(filtered)
	})
}

// List returns every entry currently on disk, without liveness
// filtering (that is the caller's job during reconciliation).
func (r *Registry) List() ([]RegistryEntry, error) {
	var entries []RegistryEntry
	err := r.withFileLock(func() error {
		var rerr error
		entries, rerr = r.readEntriesLocked()
		return rerr
	})
	return entries, err
}
