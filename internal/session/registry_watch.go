package session

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch notifies onChange every time the on-disk session registry is
// rewritten by another process (a second CLI invocation starting a
// session, an operator pruning sessions.json by hand). The watch is on
// the containing directory because the registry writes via
// temp-then-rename, which replaces the inode a file-level watch would
// be pinned to.
func (r *Registry) Watch(ctx context.Context, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != r.path {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() { close(done) }, nil
}

// WatchRegistry re-runs a reconciliation-style sync whenever the
// registry file changes externally, so a long-lived session manager
// notices sessions started or stopped by other processes and never
// reports ghosts another writer already cleaned up.
func (m *Manager) WatchRegistry(ctx context.Context) (func(), error) {
	if m.registry == nil {
		return func() {}, nil
	}
	return m.registry.Watch(ctx, func() {
		if _, err := m.ReconcileOnStartup(ctx); err != nil {
			m.log.Warnf("registry watch resync: %v", err)
		}
	})
}
