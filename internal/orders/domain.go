package orders

import (
	"strings"
	"time"

	"github.com/budgeo/budgeo/internal/shared"
)

// Status is the stored workflow state of a purchase order. Unlike contract
// status it reflects real-world events, not time, so it is persisted and
// advanced explicitly.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusDelivered Status = "DELIVERED"
	StatusInvoiced  Status = "INVOICED"
	StatusCancelled Status = "CANCELLED"
)

var statusRank = map[Status]int{
	StatusDraft:     0,
	StatusSent:      1,
	StatusConfirmed: 2,
	StatusDelivered: 3,
	StatusInvoiced:  4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal statuses accept no further transitions or edits.
func (s Status) Terminal() bool {
	return s == StatusInvoiced || s == StatusCancelled
}

// CanTransition reports whether the workflow permits moving from one status
// to another. Forward moves may skip intermediate states. Cancellation is
// reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// PurchaseOrder is a commitment document. It never touches the budget line
// counters; it participates only in forecast linking.
type PurchaseOrder struct {
	ID                int64     `json:"id"`
	OrgID             int64     `json:"org_id"`
	Vendor            string    `json:"vendor"`
	Reference         string    `json:"reference"`
	Amount            float64   `json:"amount"`
	Status            Status    `json:"status"`
	ForecastExpenseID *int64    `json:"forecast_expense_id,omitempty"`
	IssueDate         time.Time `json:"issue_date"`
	Note              string    `json:"note"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Input is the payload for creating or updating a purchase order. Status is
// not part of it; status changes go through the transition operation.
type Input struct {
	Vendor    string
	Reference string
	Amount    float64
	IssueDate time.Time
	Note      string
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.Vendor) == "" {
		return shared.Validationf("vendor is required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("amount must be positive")
	}
	if in.IssueDate.IsZero() {
		return shared.Validationf("issue_date is required")
	}
	return nil
}
