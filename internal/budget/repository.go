package budget

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budgeo/budgeo/internal/platform/db"
	"github.com/budgeo/budgeo/internal/shared"
)

// Repository provides PostgreSQL backed persistence for budget lines.
// It exposes no write path for the engaged/invoiced counters; those belong
// to the ledger package.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lineColumns = `id, org_id, label, nature, type_ref, domain_ref, unit_ref, budget, engaged, invoiced, created_at, updated_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.OrgID, &l.Label, &l.Nature, &l.TypeRef, &l.DomainRef, &l.UnitRef, &l.Budget, &l.Engaged, &l.Invoiced, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, shared.ErrNotFound
		}
		return Line{}, err
	}
	return l, nil
}

// GetLine returns one line scoped to the organization.
func (r *Repository) GetLine(ctx context.Context, orgID, id int64) (Line, error) {
	return scanLine(r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM budget_lines WHERE org_id=$1 AND id=$2`, orgID, id))
}

// ListLines returns all lines of the organization ordered by label.
func (r *Repository) ListLines(ctx context.Context, orgID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM budget_lines WHERE org_id=$1 ORDER BY label`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrgID, &l.Label, &l.Nature, &l.TypeRef, &l.DomainRef, &l.UnitRef, &l.Budget, &l.Engaged, &l.Invoiced, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CreateLine inserts a line plus its yearly budget rows in one transaction.
func (r *Repository) CreateLine(ctx context.Context, orgID int64, in CreateLineInput) (Line, error) {
	var created Line
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanLine(tx.QueryRow(ctx, `
			INSERT INTO budget_lines (org_id, label, nature, type_ref, domain_ref, unit_ref, budget, engaged, invoiced)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0)
			RETURNING `+lineColumns,
			orgID, in.Label, in.Nature, in.TypeRef, in.DomainRef, in.UnitRef, in.Budget))
		if err != nil {
			return err
		}
		for _, y := range in.Years {
			if _, err := tx.Exec(ctx, `
				INSERT INTO yearly_budgets (org_id, budget_line_id, year, budget, engaged, invoiced)
				VALUES ($1, $2, $3, $4, 0, 0)`,
				orgID, created.ID, y.Year, y.Budget); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	return created, nil
}

// UpdateLine rewrites the editable fields of a line.
func (r *Repository) UpdateLine(ctx context.Context, orgID, id int64, in UpdateLineInput) (Line, error) {
	return scanLine(r.pool.QueryRow(ctx, `
		UPDATE budget_lines
		SET label=$3, nature=$4, type_ref=$5, domain_ref=$6, unit_ref=$7, budget=$8, updated_at=NOW()
		WHERE org_id=$1 AND id=$2
		RETURNING `+lineColumns,
		orgID, id, in.Label, in.Nature, in.TypeRef, in.DomainRef, in.UnitRef, in.Budget))
}

// CountDocuments returns the number of contracts and invoices assigned to a line.
func (r *Repository) CountDocuments(ctx context.Context, orgID, lineID int64) (contracts int, invoices int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM contracts WHERE org_id=$1 AND budget_line_id=$2),
			(SELECT COUNT(*) FROM invoices WHERE org_id=$1 AND budget_line_id=$2)`,
		orgID, lineID).Scan(&contracts, &invoices)
	return contracts, invoices, err
}

// DeleteLine removes a line and its yearly rows. A document created after
// the service's count still trips the RESTRICT constraint here; that race is
// reported as a conflict, not a storage error.
func (r *Repository) DeleteLine(ctx context.Context, orgID, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM yearly_budgets WHERE org_id=$1 AND budget_line_id=$2`, orgID, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM budget_lines WHERE org_id=$1 AND id=$2`, orgID, id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return shared.Conflictf("budget line still has documents")
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// ListYears returns a line's yearly breakdown ordered by year.
func (r *Repository) ListYears(ctx context.Context, orgID, lineID int64) ([]YearlyBudget, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, budget_line_id, year, budget, engaged, invoiced
		FROM yearly_budgets WHERE org_id=$1 AND budget_line_id=$2 ORDER BY year`, orgID, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []YearlyBudget
	for rows.Next() {
		var y YearlyBudget
		if err := rows.Scan(&y.ID, &y.OrgID, &y.BudgetLineID, &y.Year, &y.Budget, &y.Engaged, &y.Invoiced); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}
