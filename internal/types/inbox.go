package types

import "time"

// InboxSourceType classifies why an inbox item was delivered.
type InboxSourceType string

const (
	InboxSourceDirect InboxSourceType = "direct"
	InboxSourceMention InboxSourceType = "mention"
	InboxSourceReply   InboxSourceType = "reply"
)

// InboxItem is one row of the recipient-facing inbox: the canonical
// "what should a recipient see" view, deliberately distinct from the
// mentions dependency edges that form the audit trail. The two are not
// guaranteed to stay identical, and nothing should rely on that.
type InboxItem struct {
	ID          int64           `json:"id"`
	Recipient   string          `json:"recipient"`
	MessageID   string          `json:"messageId"`
	ChannelID   string          `json:"channelId"`
	SourceType  InboxSourceType `json:"sourceType"`
	DeliveredAt time.Time       `json:"deliveredAt"`
	ReadAt      *time.Time      `json:"readAt,omitempty"`
}
