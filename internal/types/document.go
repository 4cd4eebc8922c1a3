package types

import "time"

// DocumentStatus distinguishes documents still in active use from those
// retired but retained for history.
type DocumentStatus string

const (
	DocumentActive   DocumentStatus = "active"
	DocumentArchived DocumentStatus = "archived"
)

// DocumentData holds the document-variant extra state. Content changes
// bump Version and snapshot the pre-image into document_versions;
// Immutable documents reject any content-touching patch.
type DocumentData struct {
	Content            string         `json:"content"`
	ContentType        string         `json:"contentType"`
	Version            int            `json:"version"` // >= 1
	PreviousVersionID  string         `json:"previousVersionId,omitempty"`
	Category           string         `json:"category,omitempty"`
	Status             DocumentStatus `json:"status"`
	Immutable          bool           `json:"immutable"`
}

// DocumentVersion is a frozen snapshot of a document at a past version,
// stored in the document_versions table.
type DocumentVersion struct {
	DocumentID string    `json:"documentId"`
	Version    int       `json:"version"`
	Data       *Element  `json:"data"`
	CreatedAt  time.Time `json:"createdAt"`
}
