package types

// MessageData holds the message-variant extra state. Messages are
// immutable and undeletable once committed.
type MessageData struct {
	ChannelID   string   `json:"channelId"`
	Sender      string   `json:"sender"`
	ContentRef  string   `json:"contentRef"`           // -> document id
	Attachments []string `json:"attachments,omitempty"` // -> document ids
	ThreadID    string   `json:"threadId,omitempty"`    // -> parent message id
}
