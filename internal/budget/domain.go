package budget

import (
	"strings"
	"time"

	"github.com/budgeo/budgeo/internal/shared"
)

// Nature classifies a budget line as capital or operating spend.
type Nature string

const (
	NatureInvestissement Nature = "Investissement"
	NatureFonctionnement Nature = "Fonctionnement"
)

// Line is an organization-scoped bucket of spend. Engaged and Invoiced are
// derived counters maintained exclusively by the ledger mutator; nothing in
// this package writes them.
type Line struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Label     string    `json:"label"`
	Nature    Nature    `json:"nature"`
	TypeRef   string    `json:"type_ref"`
	DomainRef string    `json:"domain_ref"`
	UnitRef   *string   `json:"unit_ref,omitempty"`
	Budget    float64   `json:"budget"`
	Engaged   float64   `json:"engaged"`
	Invoiced  float64   `json:"invoiced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// YearlyBudget is the per-(line, year) breakdown mirroring Line's counters
// restricted to documents whose effective year matches.
type YearlyBudget struct {
	ID           int64   `json:"id"`
	OrgID        int64   `json:"org_id"`
	BudgetLineID int64   `json:"budget_line_id"`
	Year         int     `json:"year"`
	Budget       float64 `json:"budget"`
	Engaged      float64 `json:"engaged"`
	Invoiced     float64 `json:"invoiced"`
}

// CreateLineInput captures budget line creation.
type CreateLineInput struct {
	Label     string
	Nature    Nature
	TypeRef   string
	DomainRef string
	UnitRef   *string
	Budget    float64
	Years     []YearBudgetInput
}

// YearBudgetInput sets the nominal budget for one year of a line.
type YearBudgetInput struct {
	Year   int
	Budget float64
}

// UpdateLineInput captures editable fields. Engaged/Invoiced are absent on
// purpose.
type UpdateLineInput struct {
	Label     string
	Nature    Nature
	TypeRef   string
	DomainRef string
	UnitRef   *string
	Budget    float64
}

// Validate ensures correctness of a creation payload.
func (in CreateLineInput) Validate() error {
	if strings.TrimSpace(in.Label) == "" {
		return shared.Validationf("label is required")
	}
	if in.Nature != NatureInvestissement && in.Nature != NatureFonctionnement {
		return shared.Validationf("nature must be Investissement or Fonctionnement")
	}
	if in.Budget < 0 {
		return shared.Validationf("budget must not be negative")
	}
	for _, y := range in.Years {
		if y.Year < 1900 || y.Year > 2200 {
			return shared.Validationf("year %d out of range", y.Year)
		}
		if y.Budget < 0 {
			return shared.Validationf("yearly budget must not be negative")
		}
	}
	return nil
}

// Validate ensures correctness of an update payload.
func (in UpdateLineInput) Validate() error {
	if strings.TrimSpace(in.Label) == "" {
		return shared.Validationf("label is required")
	}
	if in.Nature != NatureInvestissement && in.Nature != NatureFonctionnement {
		return shared.Validationf("nature must be Investissement or Fonctionnement")
	}
	if in.Budget < 0 {
		return shared.Validationf("budget must not be negative")
	}
	return nil
}
