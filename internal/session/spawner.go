package session

import "context"

// SpawnOptions configures a Spawner.Spawn call.
type SpawnOptions struct {
	Mode             Mode
	Provider         string
	Model            string
	WorkingDirectory string
	Worktree         string
	Resume           string // providerSessionId to resume, if any
	Prompt           string // initial (or resume) prompt delivered at startup
}

// Event kinds a Spawner emits per session. The Session Manager re-emits
// them on the session's own bus; two of them also drive manager-side
// bookkeeping (provider-session-id lazily populates the field, exit
// drives the terminated transition).
const (
	EvEvent             = "event"
	EvPtyData           = "pty-data"
	EvError             = "error"
	EvStderr            = "stderr"
	EvRaw               = "raw"
	EvProviderSessionID = "provider-session-id"
	EvExit              = "exit"
)

// AgentEvent is a single item forwarded from a running agent process:
// a text or PTY chunk, an error line, a lifecycle notification, or one
// of the manager-significant kinds above.
type AgentEvent struct {
	Type    string
	Payload string
}

// Spawned describes a freshly started (or resumed) agent process.
type Spawned struct {
	ProviderSessionID string
	ProtocolVersion   string // provider protocol, semver, "" if unreported
	PID               int
	Events            <-chan AgentEvent
}

// Spawner is the collaborator that actually starts, resumes, and
// controls an external agent process or provider API session. A real
// implementation wraps a CLI subprocess (PTY-backed, for interactive
// mode) or a streaming HTTP/gRPC client (for headless mode); tests
// supply a fake.
type Spawner interface {
	// Spawn starts a new process/session for agentID under the given
	// role, returning its provider session id, PID (0 for a pure
	// network-backed headless session with no local process), and an
	// event channel the Manager forwards onto the session's EventBus.
	Spawn(ctx context.Context, agentID, role string, opts SpawnOptions) (*Spawned, error)

	// Resume reattaches to a previously-suspended provider session,
	// handing the provider its prior history; the provider decides
	// whether it can continue in place or must restart from scratch.
	Resume(ctx context.Context, agentID, providerSessionID string, opts SpawnOptions) (*Spawned, error)

	// Suspend pauses a running session without destroying provider-side
	// state, so a later Resume can continue it.
	Suspend(ctx context.Context, sessionID string) error

	// Terminate ends a session. Implementations should attempt a
	// graceful shutdown (SIGTERM, wait) before escalating to SIGKILL.
	Terminate(ctx context.Context, sessionID string) error

	// Interrupt sends a non-terminal interrupt (e.g. Escape) to a
	// running interactive session.
	Interrupt(ctx context.Context, sessionID string) error

	// WriteToPty writes raw bytes into an interactive session's PTY
	// without submitting them.
	WriteToPty(ctx context.Context, sessionID, data string) error

	// SendInput writes a line of input to a headless session's stdin.
	SendInput(ctx context.Context, sessionID, data string) error

	// IsAlive reports whether providerSessionID still has a live
	// backing process/connection, for sessions where a local PID isn't
	// meaningful (headless/API-backed sessions).
	IsAlive(ctx context.Context, providerSessionID string) (bool, error)
}
