package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sys/unix"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/types"
)

// ptyFlushDelay is how long SendMessage waits between writing a message
// body into an interactive PTY and submitting it with a carriage
// return. The pause is load-bearing: terminals need it to flush the
// paste buffer before the newline arrives, or the body is truncated.
const ptyFlushDelay = 1500 * time.Millisecond

// SuspendSession pauses a running session, leaving provider-side state
// intact for a later Resume. Status flips to suspended before the
// Spawner is asked to release the process, closing the window where the
// exit handler sees a still-running record and races it to terminated;
// a Spawner failure reverts the flip.
func (m *Manager) SuspendSession(ctx context.Context, sessionID string) error {
	const op = "session.suspend"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}

	m.mu.Lock()
	if sess.Status != StatusRunning {
		m.mu.Unlock()
		return opserr.New(op, opserr.Constraint, "only a running session can be suspended")
	}
	sess.Status = StatusSuspended
	m.mu.Unlock()

	if err := m.spawner.Suspend(ctx, sessionID); err != nil {
		m.mu.Lock()
		sess.Status = StatusRunning
		m.mu.Unlock()
		return opserr.Wrap(op, opserr.Storage, err, "spawner suspend")
	}

	agent, err := m.elements.Get(ctx, sess.AgentID)
	if err == nil {
		if perr := m.persistAgentSession(ctx, agent, sess); perr != nil {
			m.log.Warnf("persist suspend for %s: %v", sess.AgentID, perr)
		}
	}
	if m.registry != nil {
		if err := m.registry.Remove(sess.AgentID); err != nil {
			m.log.Warnf("remove registry entry on suspend: %v", err)
		}
	}
	return nil
}

// ResumeResult is what ResumeSession hands back: the running session
// plus the ready-task probe outcome, so the caller knows whether the
// agent was redirected to assigned work before its prior context.
type ResumeResult struct {
	Session   *Session
	ReadyTask *types.Element
}

// ResumeSession reattaches to a suspended agent's session via the
// stored providerSessionId. When the caller supplies a GetReadyTasks
// probe, the top ready task is queried before the respawn and, on a
// hit, a service-this-first instruction block is prepended to the
// resume prompt: assigned work comes before the agent's prior context.
// The original working directory is recovered from persisted history
// when the caller did not supply one.
func (m *Manager) ResumeSession(ctx context.Context, agentID string, opts StartOptions) (*ResumeResult, error) {
	const op = "session.resume"
	m.mu.Lock()
	if existing, ok := m.byAgent[agentID]; ok && existing.Status == StatusRunning {
		m.mu.Unlock()
		return nil, opserr.New(op, opserr.Conflict, "agent already has a running session")
	}
	m.mu.Unlock()

	agent, err := m.elements.Get(ctx, agentID)
	if err != nil {
		return nil, opserr.Wrap(op, opserr.NotFound, err, "agent")
	}
	providerSessionID, _ := agent.Metadata["providerSessionId"].(string)
	if providerSessionID == "" {
		return nil, opserr.New(op, opserr.Constraint, "agent has no prior session to resume")
	}

	var readyTask *types.Element
	prompt := opts.Prompt
	if opts.GetReadyTasks != nil {
		task, perr := opts.GetReadyTasks(ctx, agentID)
		if perr != nil {
			m.log.Warnf("ready-task probe for %s: %v", agentID, perr)
		} else if task != nil && task.Task != nil {
			readyTask = task
			prompt = uwpInstructionBlock(task) + prompt
		}
	}

	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = lastWorkingDirectory(agent.Metadata["history"])
	}

	mode := effectiveMode(opts.Role)
	spawned, err := m.spawner.Resume(ctx, agentID, providerSessionID, SpawnOptions{
		Mode: mode, Provider: opts.Provider, Model: opts.Model,
		WorkingDirectory: opts.WorkingDirectory, Worktree: opts.Worktree,
		Resume: providerSessionID, Prompt: prompt,
	})
	if err != nil {
		return nil, opserr.Wrap(op, opserr.Storage, err, "spawner resume")
	}
	m.checkProtocolDrift(agent, spawned)

	now := time.Now().UTC()
	sess := &Session{
		ID:                sessionID(),
		ProviderSessionID: spawned.ProviderSessionID,
		ProtocolVersion:   spawned.ProtocolVersion,
		AgentID:           agentID,
		Mode:              mode,
		PID:               spawned.PID,
		Status:            StatusRunning,
		WorkingDirectory:  opts.WorkingDirectory,
		Worktree:          opts.Worktree,
		CreatedAt:         now,
		StartedAt:         now,
		LastActivity:      now,
		bus:               NewEventBus(),
	}

	m.mu.Lock()
	m.byID[sess.ID] = sess
	m.byAgent[agentID] = sess
	m.mu.Unlock()

	m.attachForwarders(sess, spawned.Events)
	if err := m.persistAgentSession(ctx, agent, sess); err != nil {
		m.log.Warnf("persist agent metadata after resume: %v", err)
	}
	m.syncRegistry(sess)
	return &ResumeResult{Session: sess, ReadyTask: readyTask}, nil
}

// uwpInstructionBlock renders the service-this-first preamble a resumed
// agent sees ahead of its own prompt.
func uwpInstructionBlock(task *types.Element) string {
	title := ""
	if doc := task.Task.DescriptionRef; doc != "" {
		title = doc
	}
	if t, ok := task.Metadata["title"].(string); ok && t != "" {
		title = t
	}
	return fmt.Sprintf(
		"You have work assigned to you. Before continuing your previous context, service task %s (%s, priority %d). When it is done, resume what you were doing.\n\n",
		task.ID, title, task.Task.Priority)
}

// lastWorkingDirectory digs the most recent session's working directory
// out of the persisted history list.
func lastWorkingDirectory(history interface{}) string {
	list, ok := history.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	for i := len(list) - 1; i >= 0; i-- {
		if entry, ok := list[i].(map[string]interface{}); ok {
			if wd, ok := entry["workingDirectory"].(string); ok && wd != "" {
				return wd
			}
		}
	}
	return ""
}

// checkProtocolDrift compares the provider protocol version recorded at
// suspend time against what the respawned process reports; a major
// version jump means the transcript format may no longer parse, which
// is worth a loud warning but not a failed resume.
func (m *Manager) checkProtocolDrift(agent *types.Element, spawned *Spawned) {
	recorded, _ := agent.Metadata["providerProtocol"].(string)
	current := spawned.ProtocolVersion
	if recorded == "" || current == "" {
		return
	}
	rv, cv := canonSemver(recorded), canonSemver(current)
	if !semver.IsValid(rv) || !semver.IsValid(cv) {
		return
	}
	if semver.Major(rv) != semver.Major(cv) {
		m.log.Warnf("provider protocol drifted across suspend: recorded %s, now %s", recorded, current)
	}
}

func canonSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// StopSession terminates a session permanently, escalating from a
// graceful request to a forced kill if the process outlives a grace
// period. Event listeners are detached, the agent flips back to idle,
// and the in-memory record lingers briefly so late readers of the
// session id still resolve it before cleanup.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	const op = "session.stop"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}

	m.mu.Lock()
	sess.Status = StatusTerminating
	m.mu.Unlock()

	if err := m.spawner.Terminate(ctx, sessionID); err != nil {
		m.log.Warnf("graceful terminate for %s: %v", sessionID, err)
	}
	if sess.Mode == ModeInteractive && sess.PID > 0 {
		if !waitForExit(sess.PID, 3*time.Second, 100*time.Millisecond) {
			if err := unix.Kill(sess.PID, unix.SIGKILL); err != nil {
				m.log.Warnf("force kill for %s: %v", sessionID, err)
			}
		}
	}

	m.mu.Lock()
	sess.Status = StatusTerminated
	sess.EndedAt = time.Now().UTC()
	if m.byAgent[sess.AgentID] == sess {
		delete(m.byAgent, sess.AgentID)
	}
	m.mu.Unlock()

	sess.bus.Close()
	time.AfterFunc(5*time.Second, func() {
		m.mu.Lock()
		if m.byID[sessionID] == sess {
			delete(m.byID, sessionID)
		}
		m.mu.Unlock()
	})

	agent, err := m.elements.Get(ctx, sess.AgentID)
	if err == nil {
		if perr := m.persistAgentSession(ctx, agent, sess); perr != nil {
			m.log.Warnf("persist stop for %s: %v", sess.AgentID, perr)
		}
	}
	if m.registry != nil {
		if err := m.registry.Remove(sess.AgentID); err != nil {
			m.log.Warnf("remove registry entry on stop: %v", err)
		}
	}
	return nil
}

// SendMessage delivers content into a running session on behalf of
// sender. Content is resolved by ref when it names a live document,
// otherwise taken literally, and framed so the agent can tell
// operator/peer traffic from its own transcript. Interactive sessions
// get the body first and the submitting carriage return only after the
// PTY has had time to flush; headless sessions take a direct stdin
// write.
func (m *Manager) SendMessage(ctx context.Context, sessionID, sender, content string) error {
	const op = "session.message"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}
	if sess.Status != StatusRunning {
		return opserr.New(op, opserr.Constraint, "session is not running")
	}

	if el, err := m.elements.Get(ctx, content); err == nil && el.Document != nil {
		content = el.Document.Content
	}
	body := fmt.Sprintf("[Message from %s]: %s", sender, content)

	if sess.Mode == ModeInteractive {
		if err := m.spawner.WriteToPty(ctx, sessionID, body); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "write to pty")
		}
		time.Sleep(ptyFlushDelay)
		if err := m.spawner.WriteToPty(ctx, sessionID, "\r"); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "submit to pty")
		}
	} else {
		if err := m.spawner.SendInput(ctx, sessionID, body+"\n"); err != nil {
			return opserr.Wrap(op, opserr.Storage, err, "send input")
		}
	}

	m.mu.Lock()
	sess.LastActivity = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

// ReconcileResult reports what startup reconciliation found.
type ReconcileResult struct {
	Reconciled int
	Errors     []string
}

// ReconcileOnStartup runs once when the Session Manager process starts.
// Every on-disk registry entry whose PID is dead is dropped (and the
// owning agent flipped back to idle); entries whose PID is alive but
// unknown to this fresh in-memory table are adopted without an event
// stream. Then every agent whose persisted sessionStatus still claims
// running but has no live session is reset to idle.
func (m *Manager) ReconcileOnStartup(ctx context.Context) (ReconcileResult, error) {
	const op = "session.reconcile"
	var result ReconcileResult

	if m.registry != nil {
		entries, err := m.registry.List()
		if err != nil {
			return result, opserr.Wrap(op, opserr.Storage, err, "list registry")
		}
		for _, e := range entries {
			alive := e.Mode == ModeHeadless || isProcessAlive(e.PID)
			if !alive {
				if err := m.resetAgentIdle(ctx, e.AgentID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", e.AgentID, err))
				} else {
					result.Reconciled++
				}
				if err := m.registry.Remove(e.AgentID); err != nil {
					m.log.Warnf("reconcile: drop stale registry entry for %s: %v", e.AgentID, err)
				}
				continue
			}

			sess := &Session{
				ID: e.SessionID, ProviderSessionID: e.ProviderSessionID, AgentID: e.AgentID,
				Mode: e.Mode, PID: e.PID, Status: StatusRunning, WorkingDirectory: e.WorkingDirectory,
				StartedAt: e.StartedAt, CreatedAt: e.StartedAt, LastActivity: time.Now().UTC(),
				bus: NewEventBus(),
			}
			m.mu.Lock()
			m.byID[sess.ID] = sess
			m.byAgent[sess.AgentID] = sess
			m.mu.Unlock()
		}
	}

	// Agents can claim a running session in their persisted metadata
	// without any registry entry at all (crash between the metadata
	// write and the registry write, or a registry wiped by hand).
	agents, err := m.elements.List(ctx, types.ElementFilter{Types: []types.Kind{types.KindEntity}})
	if err != nil {
		return result, opserr.Wrap(op, opserr.Storage, err, "list agents")
	}
	for _, agent := range agents {
		status, _ := agent.Metadata["sessionStatus"].(string)
		if status != string(StatusRunning) {
			continue
		}
		m.mu.Lock()
		live, ok := m.byAgent[agent.ID]
		m.mu.Unlock()
		if ok && live.Status == StatusRunning && m.isLive(ctx, live) {
			continue
		}
		if err := m.resetAgentIdle(ctx, agent.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", agent.ID, err))
			continue
		}
		result.Reconciled++
	}
	return result, nil
}

func (m *Manager) resetAgentIdle(ctx context.Context, agentID string) error {
	agent, err := m.elements.Get(ctx, agentID)
	if err != nil {
		return err
	}
	meta := cloneMetadata(agent.Metadata)
	meta["sessionStatus"] = "idle"
	_, err = m.elements.Update(ctx, agentID, map[string]interface{}{"metadata": meta}, storage.UpdateOptions{})
	return err
}
