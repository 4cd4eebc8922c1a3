package types

import "time"

// ElementFilter narrows a generic element listing by header fields
// common to every variant. Zero values mean "no constraint"; Tags
// matches if the element carries all listed tags.
type ElementFilter struct {
	Types           []Kind
	Tags            []string
	CreatedBy       string
	IncludeDeleted  bool
	UpdatedSince    *time.Time
	CreatedSince    *time.Time
	Limit           int
	Offset          int
}

// TaskFilter narrows a task listing by the task variant's own fields.
type TaskFilter struct {
	Status      []TaskStatus
	Assignee    string
	Owner       string
	TaskType    string
	PriorityMin int
	PriorityMax int
	Tags        []string
	PlanID      string
	WorkflowID  string
	DueBefore   *time.Time
	Limit       int
	Offset      int
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	Category string
	Status   DocumentStatus
	Tags     []string
	Limit    int
	Offset   int
}

// MessageFilter narrows a message listing within a channel.
type MessageFilter struct {
	ChannelID string
	ThreadID  string
	Sender    string
	Since     *time.Time
	Limit     int
	Offset    int
}

// ChannelFilter narrows a channel listing.
type ChannelFilter struct {
	ChannelType ChannelType
	Member      string
	Limit       int
	Offset      int
}

// Page is one page of a paginated element listing: the window the
// filter's Offset/Limit selected plus the total match count before
// windowing, so callers can render page controls without a second
// query.
type Page struct {
	Items  []*Element `json:"items"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// StaleFilter selects tasks that have not moved in a while, used by
// reporting/reconciliation passes.
type StaleFilter struct {
	OlderThan time.Time
	Status    []TaskStatus
}
