package session

import (
	"context"
	"sync"
	"time"
)

// EventBus fans a session's AgentEvent stream out to any number of
// subscribers (e.g. a CLI attach command and a web UI watching the same
// session at once). One producer, many ordered handlers; emission is
// serialised per session.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]chan AgentEvent
	next int
	done bool
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[int]chan AgentEvent{}}
}

// Subscribe returns a channel that receives every event published from
// here on, and an unsubscribe func the caller must call when done.
func (b *EventBus) Subscribe() (<-chan AgentEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan AgentEvent, 64)
	if b.done {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

func (b *EventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans ev out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the forwarder.
func (b *EventBus) Publish(ev AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// attachForwarders drains the Spawner's raw event channel onto the
// session's bus until the channel closes, then closes the bus — run in
// its own goroutine so StartSession/ResumeSession can return as soon as
// the process exists, but attached before any awaited operation so an
// immediate exit is not lost. Data events tick
// LastActivity; provider-session-id lazily populates the field and
// re-persists; exit drives the terminated transition.
func (m *Manager) attachForwarders(sess *Session, raw <-chan AgentEvent) {
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		for ev := range raw {
			switch ev.Type {
			case EvProviderSessionID:
				m.mu.Lock()
				populated := sess.ProviderSessionID == ""
				if populated {
					sess.ProviderSessionID = ev.Payload
				}
				m.mu.Unlock()
				if populated {
					if agent, err := m.elements.Get(ctx, sess.AgentID); err == nil {
						if perr := m.persistAgentSession(ctx, agent, sess); perr != nil {
							m.log.Warnf("persist provider session id for %s: %v", sess.AgentID, perr)
						}
					}
					m.syncRegistry(sess)
				}
			case EvExit:
				m.handleExit(ctx, sess)
			default:
				m.mu.Lock()
				sess.LastActivity = time.Now().UTC()
				m.mu.Unlock()
			}
			sess.bus.Publish(ev)
		}
		sess.bus.Close()
	}()
}

// handleExit transitions a session whose process ended on its own to
// terminated (unless it was already suspended or terminated by an
// explicit operation), flips the agent back to idle, and records the
// session in history.
func (m *Manager) handleExit(ctx context.Context, sess *Session) {
	m.mu.Lock()
	if sess.Status == StatusSuspended || sess.Status == StatusTerminated {
		m.mu.Unlock()
		return
	}
	sess.Status = StatusTerminated
	sess.EndedAt = time.Now().UTC()
	delete(m.byID, sess.ID)
	if m.byAgent[sess.AgentID] == sess {
		delete(m.byAgent, sess.AgentID)
	}
	m.mu.Unlock()

	if agent, err := m.elements.Get(ctx, sess.AgentID); err == nil {
		if perr := m.persistAgentSession(ctx, agent, sess); perr != nil {
			m.log.Warnf("persist natural exit for %s: %v", sess.AgentID, perr)
		}
	}
	if m.registry != nil {
		if err := m.registry.Remove(sess.AgentID); err != nil {
			m.log.Warnf("remove registry entry on exit: %v", err)
		}
	}
}

// Subscribe exposes the running session's event stream to a caller
// (CLI attach, web UI).
func (m *Manager) Subscribe(sessionID string) (<-chan AgentEvent, func(), bool) {
	sess := m.lookup(sessionID)
	if sess == nil || sess.bus == nil {
		return nil, func() {}, false
	}
	ch, unsub := sess.bus.Subscribe()
	return ch, unsub, true
}
