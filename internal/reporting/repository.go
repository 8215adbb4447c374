package reporting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the read-only aggregation queries. Everything here is
// derived from the counters the ledger maintains; no query touches the
// document tables for totals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TotalsByYear sums the yearly budget rows per year.
func (r *Repository) TotalsByYear(ctx context.Context, orgID int64) ([]YearTotals, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT year, COALESCE(SUM(budget), 0), COALESCE(SUM(engaged), 0), COALESCE(SUM(invoiced), 0)
		FROM yearly_budgets WHERE org_id=$1 GROUP BY year ORDER BY year`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []YearTotals
	for rows.Next() {
		var t YearTotals
		if err := rows.Scan(&t.Year, &t.Budget, &t.Engaged, &t.Invoiced); err != nil {
			return nil, err
		}
		t.Available = t.Budget - t.Engaged
		out = append(out, t)
	}
	return out, rows.Err()
}

// TotalsByNature sums the budget lines per nature.
func (r *Repository) TotalsByNature(ctx context.Context, orgID int64) ([]Totals, error) {
	return r.groupedTotals(ctx, `
		SELECT nature, COALESCE(SUM(budget), 0), COALESCE(SUM(engaged), 0), COALESCE(SUM(invoiced), 0)
		FROM budget_lines WHERE org_id=$1 GROUP BY nature ORDER BY nature`, orgID)
}

// TotalsByDomain sums the budget lines per domain reference.
func (r *Repository) TotalsByDomain(ctx context.Context, orgID int64) ([]Totals, error) {
	return r.groupedTotals(ctx, `
		SELECT domain_ref, COALESCE(SUM(budget), 0), COALESCE(SUM(engaged), 0), COALESCE(SUM(invoiced), 0)
		FROM budget_lines WHERE org_id=$1 GROUP BY domain_ref ORDER BY domain_ref`, orgID)
}

func (r *Repository) groupedTotals(ctx context.Context, query string, orgID int64) ([]Totals, error) {
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTotals(rows)
}

func collectTotals(rows pgx.Rows) ([]Totals, error) {
	var out []Totals
	for rows.Next() {
		var t Totals
		if err := rows.Scan(&t.Key, &t.Budget, &t.Engaged, &t.Invoiced); err != nil {
			return nil, err
		}
		t.Available = t.Budget - t.Engaged
		out = append(out, t)
	}
	return out, rows.Err()
}

// ForecastByYear compares the planned expenses of each year with the raw sum
// of invoices linked to them.
func (r *Repository) ForecastByYear(ctx context.Context, orgID int64) ([]ForecastOverview, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.year,
		       COALESCE(SUM(e.amount), 0),
		       COALESCE(SUM(li.linked), 0)
		FROM forecast_expenses e
		LEFT JOIN LATERAL (
			SELECT SUM(i.amount) AS linked FROM invoices i
			WHERE i.org_id = e.org_id AND i.forecast_expense_id = e.id
		) li ON TRUE
		WHERE e.org_id=$1
		GROUP BY e.year ORDER BY e.year`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ForecastOverview
	for rows.Next() {
		var o ForecastOverview
		if err := rows.Scan(&o.Year, &o.Planned, &o.Realized); err != nil {
			return nil, err
		}
		o.Variance = o.Realized - o.Planned
		out = append(out, o)
	}
	return out, rows.Err()
}
