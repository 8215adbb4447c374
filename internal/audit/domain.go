package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the recorded mutation kinds.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one immutable audit record. Before/After hold the document state
// around the mutation; either may be nil for create/delete.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      int64          `json:"org_id"`
	ActorID    int64          `json:"actor_id"`
	Action     Action         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   int64          `json:"entity_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	Entity   string
	Action   Action
	ActorID  int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
