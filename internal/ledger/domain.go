package ledger

import (
	"strings"
	"time"

	"github.com/budgeo/budgeo/internal/shared"
)

// Contract is a commitment against a budget line. While assigned to a line it
// contributes its full amount to that line's engaged counter.
type Contract struct {
	ID           int64         `json:"id"`
	OrgID        int64         `json:"org_id"`
	Vendor       string        `json:"vendor"`
	Reference    string        `json:"reference"`
	Amount       float64       `json:"amount"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	BudgetLineID *int64        `json:"budget_line_id,omitempty"`
	Note         string        `json:"note"`
	YearlySplits []YearlySplit `json:"yearly_splits,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// YearlySplit allocates part of a contract amount to one year.
type YearlySplit struct {
	Year   int     `json:"year"`
	Amount float64 `json:"amount"`
}

// Invoice is a realized financial document. Amount is stored positive; credit
// notes (avoirs) flip the sign of the ledger contribution via IsCredit.
type Invoice struct {
	ID                int64     `json:"id"`
	OrgID             int64     `json:"org_id"`
	Vendor            string    `json:"vendor"`
	Reference         string    `json:"reference"`
	Amount            float64   `json:"amount"`
	IsCredit          bool      `json:"is_credit"`
	ContractID        *int64    `json:"contract_id,omitempty"`
	BudgetLineID      *int64    `json:"budget_line_id,omitempty"`
	InvoiceDate       time.Time `json:"invoice_date"`
	InvoiceYear       int       `json:"invoice_year"`
	Status            string    `json:"status"`
	ForecastExpenseID *int64    `json:"forecast_expense_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SignedAmount is the invoice's contribution to the invoiced counter.
func (i Invoice) SignedAmount() float64 {
	if i.IsCredit {
		return -i.Amount
	}
	return i.Amount
}

// ContractInput captures contract create/update payloads.
type ContractInput struct {
	Vendor       string
	Reference    string
	Amount       float64
	StartDate    time.Time
	EndDate      time.Time
	BudgetLineID *int64
	Note         string
	YearlySplits []YearlySplit
}

// Validate ensures correctness of a contract payload.
func (in ContractInput) Validate() error {
	if strings.TrimSpace(in.Vendor) == "" {
		return shared.Validationf("vendor is required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("amount must be positive")
	}
	if in.EndDate.Before(in.StartDate) {
		return shared.Validationf("end date before start date")
	}
	var sum float64
	seen := make(map[int]bool, len(in.YearlySplits))
	for _, split := range in.YearlySplits {
		if split.Amount < 0 {
			return shared.Validationf("yearly split must not be negative")
		}
		if seen[split.Year] {
			return shared.Validationf("duplicate yearly split for %d", split.Year)
		}
		seen[split.Year] = true
		sum += split.Amount
	}
	if sum > in.Amount {
		return shared.Validationf("yearly splits exceed contract amount")
	}
	return nil
}

// InvoiceInput captures invoice create/update payloads.
type InvoiceInput struct {
	Vendor       string
	Reference    string
	Amount       float64
	IsCredit     bool
	ContractID   *int64
	BudgetLineID *int64
	InvoiceDate  time.Time
	Status       string
}

// Validate ensures correctness of an invoice payload.
func (in InvoiceInput) Validate() error {
	if strings.TrimSpace(in.Vendor) == "" {
		return shared.Validationf("vendor is required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("amount must be positive")
	}
	if in.InvoiceDate.IsZero() {
		return shared.Validationf("invoice date is required")
	}
	return nil
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	ContractID   int64
	BudgetLineID int64
	Year         int
}
