package session

import (
	"context"
	"encoding/json"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// SystemEntityID names the well-known system entity used as the other
// party of an agent's own notification channel, so a self-handoff has
// somewhere to post without requiring a second live agent.
const SystemEntityID = "system"

// handoffPayload is the JSON content of a handoff document.
type handoffPayload struct {
	FromAgentID       string   `json:"fromAgentId"`
	ToAgentID         string   `json:"toAgentId,omitempty"`
	ContextSummary    string   `json:"contextSummary"`
	NextSteps         string   `json:"nextSteps,omitempty"`
	Reason            string   `json:"reason,omitempty"`
	ProviderSessionID string   `json:"providerSessionId,omitempty"`
	TaskIDs           []string `json:"taskIds,omitempty"`
}

// HandoffOptions configures an agent-to-agent handoff.
type HandoffOptions struct {
	Reason    string
	NextSteps string
	TaskIDs   []string
}

// newHandoffDocID returns a "doc-"-prefixed id built from a fresh
// session id (a random UUID), not from the Element Store's hash-id
// generator.
var newHandoffDocID = func() string { return "doc-" + sessionID()[len("sess-"):] }

// SelfHandoff writes a handoff document summarising in-flight context,
// posts it as a message in the agent's own notification channel, then
// suspends the current session. A successor session started for the
// same agent finds the document in its inbox and can resume the
// predecessor for context. It does not itself start that successor.
func (m *Manager) SelfHandoff(ctx context.Context, sessionID string, contextSummary, nextSteps string) error {
	const op = "session.selfHandoff"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}
	if sess.Status != StatusRunning {
		return opserr.New(op, opserr.Constraint, "source session is not running")
	}

	payload := handoffPayload{
		FromAgentID: sess.AgentID, ContextSummary: contextSummary, NextSteps: nextSteps,
		Reason: "self-handoff", ProviderSessionID: sess.ProviderSessionID,
	}
	if err := m.postHandoffDocument(ctx, sess.AgentID, SystemEntityID, payload); err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "post handoff document")
	}
	return m.SuspendSession(ctx, sessionID)
}

// AgentHandoff writes a handoff document naming both the source and
// target agent plus any transferred task ids, posts it in the target
// agent's channel, and suspends the source session. It deliberately
// does not wake the target; the target picks the handoff up whenever
// it next runs.
func (m *Manager) AgentHandoff(ctx context.Context, sessionID, toAgentID, contextSummary string, opts HandoffOptions) error {
	const op = "session.agentHandoff"
	sess := m.lookup(sessionID)
	if sess == nil {
		return opserr.New(op, opserr.NotFound, "session not found")
	}
	if sess.Status != StatusRunning {
		return opserr.New(op, opserr.Constraint, "source session is not running")
	}
	if sess.AgentID == toAgentID {
		return opserr.New(op, opserr.Validation, "use SelfHandoff for same-agent handoff")
	}

	payload := handoffPayload{
		FromAgentID: sess.AgentID, ToAgentID: toAgentID, ContextSummary: contextSummary,
		NextSteps: opts.NextSteps, Reason: opts.Reason, ProviderSessionID: sess.ProviderSessionID,
		TaskIDs: opts.TaskIDs,
	}
	if err := m.postHandoffDocument(ctx, sess.AgentID, toAgentID, payload); err != nil {
		return opserr.Wrap(op, opserr.Storage, err, "post handoff document")
	}
	return m.SuspendSession(ctx, sessionID)
}

// postHandoffDocument creates the document element carrying payload,
// finds-or-creates the direct channel between the two parties, and
// posts a message referencing the document — the same Element Store
// primitives any other document-sharing message uses.
func (m *Manager) postHandoffDocument(ctx context.Context, fromAgentID, toParty string, payload handoffPayload) error {
	content, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	doc := &types.Element{
		Header: types.Header{ID: newHandoffDocID(), Type: types.KindDocument},
		Document: &types.DocumentData{
			Content: string(content), ContentType: "application/json", Version: 1,
			Category: "handoff", Status: types.DocumentActive,
		},
	}
	if err := m.elements.Create(ctx, doc, fromAgentID); err != nil {
		return err
	}

	channel, err := m.elements.GetOrCreateDirectChannel(ctx, fromAgentID, toParty, fromAgentID, "ch-"+newHandoffDocID())
	if err != nil {
		return err
	}

	msg := &types.Element{
		Header: types.Header{ID: "msg-" + newHandoffDocID(), Type: types.KindMessage},
		Message: &types.MessageData{
			ChannelID: channel.ID, Sender: fromAgentID, ContentRef: doc.ID,
		},
	}
	return m.elements.Create(ctx, msg, fromAgentID)
}
