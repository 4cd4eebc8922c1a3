package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// contentHashPayload is the canonical subset of an element that its
// content hash covers: identity-defining and user-authored fields only,
// never the mutable bookkeeping timestamps, so the hash survives a
// create/serialize/deserialize round trip unchanged.
type contentHashPayload struct {
	Type      Kind                   `json:"type"`
	CreatedBy string                 `json:"createdBy"`
	Tags      []string               `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Task      *TaskData              `json:"task,omitempty"`
	Plan      *PlanData              `json:"plan,omitempty"`
	Workflow  *WorkflowData          `json:"workflow,omitempty"`
	Channel   *ChannelData           `json:"channel,omitempty"`
	Message   *MessageData           `json:"message,omitempty"`
	Document  *DocumentData          `json:"document,omitempty"`
	Entity    *EntityData            `json:"entity,omitempty"`
	Team      *TeamData              `json:"team,omitempty"`
	Library   *LibraryData           `json:"library,omitempty"`
}

// ComputeContentHash digests the canonicalised payload. encoding/json
// emits map keys sorted and struct fields in declaration order, which
// makes the serialisation canonical without a separate normaliser.
func (e *Element) ComputeContentHash() string {
	payload := contentHashPayload{
		Type: e.Type, CreatedBy: e.CreatedBy, Tags: e.Tags, Metadata: e.Metadata,
		Task: e.Task, Plan: e.Plan, Workflow: e.Workflow, Channel: e.Channel,
		Message: e.Message, Document: e.Document, Entity: e.Entity, Team: e.Team,
		Library: e.Library,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
