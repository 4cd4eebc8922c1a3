package session

import (
	"context"
	"sort"
	"time"

	"github.com/opsloom/opsloom/internal/opserr"
	"github.com/opsloom/opsloom/internal/types"
)

// HistoryEntry is one bounded record of a past session, persisted into
// the agent element's metadata["history"] array; only the 20 most
// recent sessions per agent are kept.
type HistoryEntry struct {
	AgentID           string `json:"-"`
	SessionID         string `json:"sessionId"`
	ProviderSessionID string `json:"providerSessionId"`
	Status            string `json:"status"`
	WorkingDirectory  string `json:"workingDirectory,omitempty"`
	StartedAt         string `json:"startedAt"`
	EndedAt           string `json:"endedAt,omitempty"`
}

const maxHistory = 20

// pushHistory appends sess's final record to the existing history value
// (read back out of metadata as []interface{} after a JSON round trip)
// and truncates to the most recent maxHistory entries.
func pushHistory(existing interface{}, sess *Session) []interface{} {
	var list []interface{}
	if raw, ok := existing.([]interface{}); ok {
		list = raw
	}
	entry := map[string]interface{}{
		"sessionId":         sess.ID,
		"providerSessionId": sess.ProviderSessionID,
		"status":            string(sess.Status),
		"startedAt":         sess.StartedAt.Format(time.RFC3339),
	}
	if sess.WorkingDirectory != "" {
		entry["workingDirectory"] = sess.WorkingDirectory
	}
	if !sess.EndedAt.IsZero() {
		entry["endedAt"] = sess.EndedAt.Format(time.RFC3339)
	}
	list = append(list, entry)
	if len(list) > maxHistory {
		list = list[len(list)-maxHistory:]
	}
	return list
}

// decodeHistory reads the persisted history list back into typed
// entries, oldest first, skipping anything malformed.
func decodeHistory(agentID string, raw interface{}) []HistoryEntry {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]HistoryEntry, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		h := HistoryEntry{AgentID: agentID}
		h.SessionID, _ = entry["sessionId"].(string)
		h.ProviderSessionID, _ = entry["providerSessionId"].(string)
		h.Status, _ = entry["status"].(string)
		h.WorkingDirectory, _ = entry["workingDirectory"].(string)
		h.StartedAt, _ = entry["startedAt"].(string)
		h.EndedAt, _ = entry["endedAt"].(string)
		if h.SessionID == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// GetSessionHistory returns the bounded per-agent history, oldest
// first.
func (m *Manager) GetSessionHistory(ctx context.Context, agentID string) ([]HistoryEntry, error) {
	agent, err := m.elements.Get(ctx, agentID)
	if err != nil {
		return nil, opserr.Wrap("session.history", opserr.NotFound, err, "agent")
	}
	return decodeHistory(agentID, agent.Metadata["history"]), nil
}

// GetHistoryForRole aggregates history across every agent of the given
// role, most recent first.
func (m *Manager) GetHistoryForRole(ctx context.Context, role string) ([]HistoryEntry, error) {
	agents, err := m.elements.List(ctx, types.ElementFilter{Types: []types.Kind{types.KindEntity}})
	if err != nil {
		return nil, opserr.Wrap("session.history", opserr.Storage, err, "list agents")
	}
	var out []HistoryEntry
	for _, agent := range agents {
		if r, _ := agent.Metadata["role"].(string); r != role {
			continue
		}
		out = append(out, decodeHistory(agent.ID, agent.Metadata["history"])...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out, nil
}

// GetPreviousSession returns the most recent non-running session for
// the role, the record a successor queries during handoff to find its
// predecessor's provider session.
func (m *Manager) GetPreviousSession(ctx context.Context, role string) (*HistoryEntry, error) {
	entries, err := m.GetHistoryForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Status != string(StatusRunning) {
			return &entries[i], nil
		}
	}
	return nil, nil
}
