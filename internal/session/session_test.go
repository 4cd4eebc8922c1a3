package session

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/opsloom/opsloom/internal/blocked"
	"github.com/opsloom/opsloom/internal/storage"
	"github.com/opsloom/opsloom/internal/storage/sqlite"
	"github.com/opsloom/opsloom/internal/store"
	"github.com/opsloom/opsloom/internal/types"
)

// fakeSpawner records what was written into sessions; reconciliation in
// these tests never reaches it (interactive-mode liveness is decided by
// OS PID alone).
type fakeSpawner struct {
	lastPrompt string
	inputs     []string
	ptyWrites  []string
}

func (f *fakeSpawner) Spawn(ctx context.Context, agentID, role string, opts SpawnOptions) (*Spawned, error) {
	f.lastPrompt = opts.Prompt
	return &Spawned{ProviderSessionID: "p-" + agentID, PID: 1, Events: make(chan AgentEvent)}, nil
}
func (f *fakeSpawner) Resume(ctx context.Context, agentID, providerSessionID string, opts SpawnOptions) (*Spawned, error) {
	f.lastPrompt = opts.Prompt
	return &Spawned{ProviderSessionID: providerSessionID, PID: 1, Events: make(chan AgentEvent)}, nil
}
func (f *fakeSpawner) Suspend(ctx context.Context, sessionID string) error   { return nil }
func (f *fakeSpawner) Terminate(ctx context.Context, sessionID string) error { return nil }
func (f *fakeSpawner) Interrupt(ctx context.Context, sessionID string) error { return nil }
func (f *fakeSpawner) WriteToPty(ctx context.Context, sessionID, data string) error {
	f.ptyWrites = append(f.ptyWrites, data)
	return nil
}
func (f *fakeSpawner) SendInput(ctx context.Context, sessionID, data string) error {
	f.inputs = append(f.inputs, data)
	return nil
}
func (f *fakeSpawner) IsAlive(ctx context.Context, providerSessionID string) (bool, error) {
	return true, nil
}

func newManagerHarness(t *testing.T) (*Manager, *store.Store, *Registry, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := blocked.New(db, nil)
	elements := store.New(db, cache)

	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return New(&fakeSpawner{}, elements, reg, nil), elements, reg, ctx
}

func createAgent(t *testing.T, elements *store.Store, ctx context.Context, id string) {
	t.Helper()
	el := &types.Element{Header: types.Header{ID: id, Type: types.KindEntity}, Entity: &types.EntityData{Name: id}}
	if err := elements.Create(ctx, el, "tester"); err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
}

// Startup reconciliation: a registry entry whose PID is no
// longer alive is dropped, and the owning agent's metadata is flipped
// back to idle.
func TestReconcileOnStartupDropsDeadSession(t *testing.T) {
	mgr, elements, reg, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-1")

	const deadPID = 999999999
	if err := reg.Put(RegistryEntry{
		SessionID: "sess-dead", AgentID: "agent-1", ProviderSessionID: "p1",
		Mode: ModeInteractive, PID: deadPID,
	}); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	res, err := mgr.ReconcileOnStartup(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Reconciled < 1 {
		t.Fatalf("expected at least 1 reconciled agent, got %+v", res)
	}

	agent, err := elements.Get(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Metadata["sessionStatus"] != "idle" {
		t.Fatalf("expected agent-1 sessionStatus=idle after reconcile, got %v", agent.Metadata["sessionStatus"])
	}

	remaining, err := reg.List()
	if err != nil {
		t.Fatalf("list registry: %v", err)
	}
	for _, e := range remaining {
		if e.AgentID == "agent-1" {
			t.Fatalf("expected dead registry entry for agent-1 to be dropped, found %+v", e)
		}
	}

	if sess, ok := mgr.GetActiveSession(ctx, "agent-1"); ok {
		t.Fatalf("expected no active session for agent-1 after reconcile, got %+v", sess)
	}
}

// A registry entry whose PID is still alive is adopted into the
// in-memory table without an event stream.
func TestReconcileOnStartupAdoptsLiveSession(t *testing.T) {
	mgr, elements, reg, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-2")

	if err := reg.Put(RegistryEntry{
		SessionID: "sess-live", AgentID: "agent-2", ProviderSessionID: "p2",
		Mode: ModeInteractive, PID: os.Getpid(),
	}); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	if _, err := mgr.ReconcileOnStartup(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	sess, ok := mgr.GetActiveSession(ctx, "agent-2")
	if !ok || sess.ID != "sess-live" {
		t.Fatalf("expected sess-live adopted for agent-2, got %+v ok=%v", sess, ok)
	}
}

// An agent whose persisted metadata still claims a running session but
// has no registry entry and no live in-memory session is reset to idle.
func TestReconcileOnStartupResetsOrphanedAgentMetadata(t *testing.T) {
	mgr, elements, _, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-orphan")

	agent, _ := elements.Get(ctx, "agent-orphan")
	meta := map[string]interface{}{"sessionStatus": "running", "providerSessionId": "p1"}
	if _, err := elements.Update(ctx, agent.ID, map[string]interface{}{"metadata": meta}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	res, err := mgr.ReconcileOnStartup(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Reconciled != 1 {
		t.Fatalf("expected reconciled=1, got %+v", res)
	}
	agent, _ = elements.Get(ctx, "agent-orphan")
	if agent.Metadata["sessionStatus"] != "idle" {
		t.Fatalf("expected idle, got %v", agent.Metadata["sessionStatus"])
	}
}

// Resume with a GetReadyTasks probe prepends the service-this-first
// block to the resume prompt and reports the probed task.
func TestResumeSessionUWPProbe(t *testing.T) {
	mgr, elements, _, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-uwp")

	sess, err := mgr.StartSession(ctx, "agent-uwp", StartOptions{Role: "steward"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.SuspendSession(ctx, sess.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	task := &types.Element{
		Header: types.Header{ID: "task-42", Type: types.KindTask, Metadata: map[string]interface{}{"title": "fix the build"}},
		Task:   &types.TaskData{Status: types.TaskOpen, Priority: 2, Complexity: 1},
	}
	if err := elements.Create(ctx, task, "tester"); err != nil {
		t.Fatalf("create task: %v", err)
	}

	res, err := mgr.ResumeSession(ctx, "agent-uwp", StartOptions{
		Role:   "steward",
		Prompt: "continue where you left off",
		GetReadyTasks: func(ctx context.Context, agentID string) (*types.Element, error) {
			return task, nil
		},
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.ReadyTask == nil || res.ReadyTask.ID != "task-42" {
		t.Fatalf("expected probe result task-42, got %+v", res.ReadyTask)
	}
	spawner := mgr.spawner.(*fakeSpawner)
	if !strings.Contains(spawner.lastPrompt, "task-42") || !strings.Contains(spawner.lastPrompt, "continue where you left off") {
		t.Fatalf("expected resume prompt to carry the task block and the original prompt, got %q", spawner.lastPrompt)
	}
	if !strings.HasPrefix(spawner.lastPrompt, "You have work assigned") {
		t.Fatalf("expected the task block to come first, got %q", spawner.lastPrompt)
	}
}

// A headless session gets messages on stdin, framed with the sender.
func TestSendMessageHeadlessFraming(t *testing.T) {
	mgr, elements, _, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-msg")

	sess, err := mgr.StartSession(ctx, "agent-msg", StartOptions{Role: "steward"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.SendMessage(ctx, sess.ID, "operator", "ship it"); err != nil {
		t.Fatalf("send: %v", err)
	}
	spawner := mgr.spawner.(*fakeSpawner)
	if len(spawner.inputs) != 1 || spawner.inputs[0] != "[Message from operator]: ship it\n" {
		t.Fatalf("unexpected stdin writes: %q", spawner.inputs)
	}
}

// An agent can never have two running sessions at once.
func TestStartSessionRejectsSecondRunningSession(t *testing.T) {
	mgr, elements, _, ctx := newManagerHarness(t)
	createAgent(t, elements, ctx, "agent-3")

	if _, err := mgr.StartSession(ctx, "agent-3", StartOptions{Role: "worker"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := mgr.StartSession(ctx, "agent-3", StartOptions{Role: "worker"}); err == nil {
		t.Fatalf("expected second concurrent start to be rejected")
	}
}
