// Package session implements the session manager: agent process
// lifecycle (starting/running/suspended/terminated), the
// at-most-one-active-session-per-agent invariant, resume with the
// ready-work probe, suspend/stop/interrupt/message operations, event
// forwarding from the Spawner, liveness probing, bounded history,
// startup reconciliation, and the handoff protocol.
package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/opsloom/opsloom/internal/logging"
	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/store"
	"github.com/opsloom/opsloom/internal/types"
)

// Mode distinguishes an interactive PTY-driven session from a headless
// stream-driven one.
type Mode string

const (
	ModeHeadless    Mode = "headless"
	ModeInteractive Mode = "interactive"
)

// Status is the session lifecycle state: starting -> running ->
// suspended or terminated, with suspended able to resume to running.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusSuspended   Status = "suspended"
	StatusTerminating Status = "terminating"
	StatusTerminated  Status = "terminated"
)

// Session represents one live connection to an external agent process.
type Session struct {
	ID                string
	ProviderSessionID string
	ProtocolVersion   string
	AgentID           string
	Mode              Mode
	PID               int
	Status            Status
	WorkingDirectory  string
	Worktree          string
	CreatedAt         time.Time
	StartedAt         time.Time
	LastActivity      time.Time
	EndedAt           time.Time

	bus *EventBus
}

// snapshot returns a value copy safe to hand to callers outside the
// manager's lock.
func (s *Session) snapshot() Session {
	cp := *s
	cp.bus = nil
	return cp
}

// ReadyProbe asks the scheduler for the top ready task assigned to an
// agent. Supplied by the caller on resume so the Session Manager does
// not depend on the scheduler package directly.
type ReadyProbe func(ctx context.Context, agentID string) (*types.Element, error)

// StartOptions configures StartSession and ResumeSession.
type StartOptions struct {
	Role             string // director, worker, steward, ...
	Provider         string
	Model            string
	WorkingDirectory string
	Worktree         string
	Prompt           string

	// GetReadyTasks, when set on resume, is queried before the process
	// is respawned; a hit prepends a service-this-first instruction
	// block to the resume prompt.
	GetReadyTasks ReadyProbe
}

// Manager owns the in-memory session table and coordinates with the
// Element Store (agent metadata persistence) and a Spawner (OS process
// lifecycle). Session state mutations are expected to come from a
// single writer; the mutex here only protects the map itself against
// accidental concurrent access, not against interleaving of multi-step
// operations.
type Manager struct {
	mu       sync.Mutex
	byID     map[string]*Session
	byAgent  map[string]*Session
	spawner  Spawner
	elements *store.Store
	registry *Registry
	log      *logging.Logger
}

// New returns a Manager. registry may be nil, in which case startup
// reconciliation and the on-disk session mirror are disabled (suitable
// for tests and for embedding without cross-process durability).
func New(spawner Spawner, elements *store.Store, registry *Registry, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		byID:     map[string]*Session{},
		byAgent:  map[string]*Session{},
		spawner:  spawner,
		elements: elements,
		registry: registry,
		log:      log.With("session"),
	}
}

// roleMode determines interactive-vs-headless mode from the agent's
// role: directors and persistent workers get a PTY, ephemeral workers
// and stewards get a headless stream.
func roleMode(role string) Mode {
	switch role {
	case "director", "worker":
		return ModeInteractive
	default:
		return ModeHeadless
	}
}

// stdoutIsTerminal is swapped out by tests that exercise the
// interactive path on a pipe-attached test runner.
var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// effectiveMode applies the role policy, then downgrades to headless
// when no terminal is attached: a PTY-driven session cannot run under a
// detached daemon.
func effectiveMode(role string) Mode {
	mode := roleMode(role)
	if mode == ModeInteractive && !stdoutIsTerminal() {
		return ModeHeadless
	}
	return mode
}

// StartSession looks up the agent, determines mode, spawns the process,
// registers the session under both id and agentId, attaches event
// forwarders before any awaited operation (an immediate process exit
// must not be lost), and persists (providerSessionId, status=running)
// into agent metadata.
func (m *Manager) StartSession(ctx context.Context, agentID string, opts StartOptions) (*Session, error) {
	const op = "session.start"
	m.mu.Lock()
	if existing, ok := m.byAgent[agentID]; ok && existing.Status == StatusRunning {
		m.mu.Unlock()
		return nil, opserr.New(op, opserr.Conflict, "agent "+agentID+" already has a running session")
	}
	m.mu.Unlock()

	agent, err := m.elements.Get(ctx, agentID)
	if err != nil {
		return nil, opserr.Wrap(op, opserr.NotFound, err, "agent")
	}

	mode := effectiveMode(opts.Role)
	spawned, err := m.spawner.Spawn(ctx, agentID, opts.Role, SpawnOptions{
		Mode: mode, Provider: opts.Provider, Model: opts.Model,
		WorkingDirectory: opts.WorkingDirectory, Worktree: opts.Worktree,
		Prompt: opts.Prompt,
	})
	if err != nil {
		return nil, opserr.Wrap(op, opserr.Storage, err, "spawn")
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:                sessionID(),
		ProviderSessionID: spawned.ProviderSessionID,
		ProtocolVersion:   spawned.ProtocolVersion,
		AgentID:           agentID,
		Mode:              mode,
		PID:               spawned.PID,
		Status:            StatusStarting,
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
	sess.Status = StatusRunning

	if err := m.persistAgentSession(ctx, agent, sess); err != nil {
		m.log.Warnf("persist agent metadata after start: %v", err)
	}
	m.syncRegistry(sess)
	return sess, nil
}

// syncRegistry mirrors a running session onto disk, if a registry was
// configured.
func (m *Manager) syncRegistry(sess *Session) {
	if m.registry == nil {
		return
	}
	entry := RegistryEntry{
		SessionID: sess.ID, AgentID: sess.AgentID, ProviderSessionID: sess.ProviderSessionID,
		Mode: sess.Mode, PID: sess.PID, WorkingDirectory: sess.WorkingDirectory, StartedAt: sess.StartedAt,
	}
	if err := m.registry.Put(entry); err != nil {
		m.log.Warnf("sync registry for session %s: %v", sess.ID, err)
	}
}

func sessionID() string { return "sess-" + uuid.NewString() }

// persistAgentSession writes sessionStatus/providerSessionId into the
// agent element's metadata via the normal update path, so the write is
// audit-logged.
func (m *Manager) persistAgentSession(ctx context.Context, agent *types.Element, sess *Session) error {
	meta := cloneMetadata(agent.Metadata)
	if sess.Status == StatusTerminated {
		meta["sessionStatus"] = "idle"
	} else {
		meta["sessionStatus"] = string(sess.Status)
	}
	meta["providerSessionId"] = sess.ProviderSessionID
	meta["sessionId"] = sess.ID
	meta["sessionPid"] = sess.PID
	if sess.ProtocolVersion != "" {
		meta["providerProtocol"] = sess.ProtocolVersion
	}
	if sess.Status == StatusTerminated || sess.Status == StatusSuspended {
		meta["history"] = pushHistory(meta["history"], sess)
	}
	_, err := m.elements.Update(ctx, agent.ID, map[string]interface{}{"metadata": meta}, storage.UpdateOptions{})
	return err
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetActiveSession returns the agent's session if it is genuinely
// running, cross-checking process liveness first.
func (m *Manager) GetActiveSession(ctx context.Context, agentID string) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.byAgent[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	if !m.isLive(ctx, sess) {
		m.markGhostTerminated(ctx, sess)
		return nil, false
	}
	snap := sess.snapshot()
	return &snap, true
}

// ListSessions returns every in-memory session whose status is among
// the given set (empty means "active": starting/running/suspended),
// after liveness cross-checking.
func (m *Manager) ListSessions(ctx context.Context, statuses ...Status) []Session {
	if len(statuses) == 0 {
		statuses = []Status{StatusStarting, StatusRunning, StatusSuspended}
	}
	wanted := map[Status]bool{}
	for _, s := range statuses {
		wanted[s] = true
	}

	m.mu.Lock()
	all := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		all = append(all, s)
	}
	m.mu.Unlock()

	var out []Session
	for _, s := range all {
		if !wanted[s.Status] {
			continue
		}
		if (s.Status == StatusRunning || s.Status == StatusStarting) && !m.isLive(ctx, s) {
			m.markGhostTerminated(ctx, s)
			continue
		}
		out = append(out, s.snapshot())
	}
	return out
}

func (m *Manager) markGhostTerminated(ctx context.Context, sess *Session) {
	m.mu.Lock()
	sess.Status = StatusTerminated
	sess.EndedAt = time.Now().UTC()
	delete(m.byID, sess.ID)
	if m.byAgent[sess.AgentID] == sess {
		delete(m.byAgent, sess.AgentID)
	}
	m.mu.Unlock()

	m.log.Warnf("session %s (agent %s) found dead, marking terminated: Process no longer alive", sess.ID, sess.AgentID)
	agent, err := m.elements.Get(ctx, sess.AgentID)
	if err != nil {
		return
	}
	meta := cloneMetadata(agent.Metadata)
	meta["sessionStatus"] = "idle"
	meta["history"] = pushHistory(meta["history"], sess)
	if _, err := m.elements.Update(ctx, agent.ID, map[string]interface{}{"metadata": meta}, storage.UpdateOptions{}); err != nil {
		m.log.Warnf("persist ghost termination for %s: %v", sess.AgentID, err)
	}
}

// Interrupt sends a non-terminal signal to a running interactive
// session (the analog of pressing Escape); no state change.
func (m *Manager) Interrupt(ctx context.Context, sessionID string) error {
	const op = "session.interrupt"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}
	if sess.Mode != ModeInteractive || sess.Status != StatusRunning {
		return opserr.New(op, opserr.Constraint, "interrupt only applies to running interactive sessions")
	}
	return m.spawner.Interrupt(ctx, sessionID)
}

func (m *Manager) lookup(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[sessionID]
}
