package session

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// isProcessAlive sends signal 0 to pid, which the kernel still
// validates (permissions, existence) without actually delivering
// anything: the standard zero-signal liveness probe.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// isLive probes a headless session via the Spawner's own bookkeeping
// (it may track provider-side session ids that don't map to a local
// PID) and an interactive session via the OS PID directly.
func (m *Manager) isLive(ctx context.Context, sess *Session) bool {
	if sess.Mode == ModeInteractive {
		return isProcessAlive(sess.PID)
	}
	alive, err := m.spawner.IsAlive(ctx, sess.ProviderSessionID)
	if err != nil {
		m.log.Warnf("liveness probe for %s: %v", sess.ID, err)
		return isProcessAlive(sess.PID)
	}
	return alive
}

// waitForExit polls isProcessAlive at the given interval until the
// process dies or the deadline passes, returning whether it died.
func waitForExit(pid int, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return true
		}
		time.Sleep(interval)
	}
	return !isProcessAlive(pid)
}
