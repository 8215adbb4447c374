package forecast

import (
	"strings"
	"time"

	"github.com/budgeo/budgeo/internal/shared"
)

// Line is a planning budget line. It carries its own budget and is not part
// of the realized-document ledger.
type Line struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Label     string    `json:"label"`
	Year      int       `json:"year"`
	Budget    float64   `json:"budget"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expense is a planned spend under a forecast line. Realized invoices and
// purchase orders may link to it to track fulfilment.
type Expense struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	LineID    int64     `json:"forecast_budget_line_id"`
	Label     string    `json:"label"`
	Amount    float64   `json:"amount"`
	Year      int       `json:"year"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineInput is the payload for creating or updating a forecast line.
type LineInput struct {
	Label  string
	Year   int
	Budget float64
}

func (in LineInput) Validate() error {
	if strings.TrimSpace(in.Label) == "" {
		return shared.Validationf("label is required")
	}
	if in.Year < 2000 || in.Year > 2100 {
		return shared.Validationf("year %d is out of range", in.Year)
	}
	if in.Budget < 0 {
		return shared.Validationf("budget cannot be negative")
	}
	return nil
}

// ExpenseInput is the payload for creating or updating a forecast expense.
type ExpenseInput struct {
	LineID int64
	Label  string
	Amount float64
	Year   int
}

func (in ExpenseInput) Validate() error {
	if in.LineID <= 0 {
		return shared.Validationf("forecast line is required")
	}
	if strings.TrimSpace(in.Label) == "" {
		return shared.Validationf("label is required")
	}
	if in.Amount <= 0 {
		return shared.Validationf("amount must be positive")
	}
	if in.Year < 2000 || in.Year > 2100 {
		return shared.Validationf("year %d is out of range", in.Year)
	}
	return nil
}

// AvailabilityFilter narrows the available-expense listing. At most one of
// the exclusions may be set; it names the document currently being edited so
// its own link does not hide the expense from it.
type AvailabilityFilter struct {
	Year                   int
	ExcludeInvoiceID       int64
	ExcludePurchaseOrderID int64
}

func (f AvailabilityFilter) Validate() error {
	if f.Year < 2000 || f.Year > 2100 {
		return shared.Validationf("year %d is out of range", f.Year)
	}
	if f.ExcludeInvoiceID != 0 && f.ExcludePurchaseOrderID != 0 {
		return shared.Validationf("exclude_invoice_id and exclude_purchase_order_id are mutually exclusive")
	}
	return nil
}

// Variance compares a planned expense with the spend realized against it.
// Realized is the plain sum of linked invoice amounts. Credit notes do not
// subtract here: realized tracks gross fulfilment of the plan, unlike the
// signed invoiced counter on budget lines.
type Variance struct {
	ExpenseID       int64   `json:"expense_id"`
	Planned         float64 `json:"planned"`
	Realized        float64 `json:"realized"`
	Variance        float64 `json:"variance"`
	VariancePercent float64 `json:"variance_percent"`
}
