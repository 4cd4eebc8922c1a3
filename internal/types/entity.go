package types

// EntityData holds the entity-variant extra state: a globally unique
// name and an optional reporting-chain parent that
// must remain acyclic.
type EntityData struct {
	Name      string `json:"name"`
	ReportsTo string `json:"reportsTo,omitempty"` // -> entity id
}

// TeamData holds the team-variant extra state.
type TeamData struct {
	Status  string   `json:"status"`
	Members []string `json:"members"` // -> entity ids
}

// LibraryData holds the library-variant extra state.
type LibraryData struct {
	DescriptionRef string `json:"descriptionRef,omitempty"` // -> document id
}
