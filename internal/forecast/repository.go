package forecast

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/platform/db"
	"github.com/budgeo/budgeo/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the forecast
// hierarchy and the links realized documents hold to it.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// TxRepository exposes the transactional operations of a link mutation. The
// document row is locked before the availability check so two concurrent
// link attempts serialize instead of both passing the check.
type TxRepository interface {
	InvoiceLinkForUpdate(ctx context.Context, orgID, invoiceID int64) (*int64, error)
	PurchaseOrderLinkForUpdate(ctx context.Context, orgID, poID int64) (*int64, error)
	ExpenseExists(ctx context.Context, orgID, expenseID int64) (bool, error)
	CountInvoiceLinks(ctx context.Context, orgID, expenseID, excludeInvoiceID int64) (int, error)
	CountPurchaseOrderLinks(ctx context.Context, orgID, expenseID, excludePOID int64) (int, error)
	SetInvoiceLink(ctx context.Context, orgID, invoiceID int64, expenseID *int64) error
	SetPurchaseOrderLink(ctx context.Context, orgID, poID int64, expenseID *int64) error
	AppendAudit(ctx context.Context, e audit.Entry) error
}

type txRepo struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

// WithTx wraps the callback in a repeatable-read transaction, retried on
// serialization failure by the platform helper.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
}

const lineColumns = `id, org_id, label, year, budget, created_at, updated_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.OrgID, &l.Label, &l.Year, &l.Budget, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, shared.ErrNotFound
		}
		return Line{}, err
	}
	return l, nil
}

// GetLine returns one forecast line.
func (r *Repository) GetLine(ctx context.Context, orgID, id int64) (Line, error) {
	return scanLine(r.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM forecast_budget_lines WHERE org_id=$1 AND id=$2`, orgID, id))
}

// ListLines returns the forecast lines of an organization, newest year first.
// A zero year returns every year.
func (r *Repository) ListLines(ctx context.Context, orgID int64, year int) ([]Line, error) {
	query := `SELECT ` + lineColumns + ` FROM forecast_budget_lines WHERE org_id=$1`
	args := []any{orgID}
	if year != 0 {
		query += ` AND year=$2`
		args = append(args, year)
	}
	query += ` ORDER BY year DESC, label`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CreateLine inserts a forecast line.
func (r *Repository) CreateLine(ctx context.Context, orgID int64, in LineInput) (Line, error) {
	return scanLine(r.pool.QueryRow(ctx,
		`INSERT INTO forecast_budget_lines (org_id, label, year, budget) VALUES ($1, $2, $3, $4) RETURNING `+lineColumns,
		orgID, in.Label, in.Year, in.Budget))
}

// UpdateLine rewrites the editable fields of a forecast line.
func (r *Repository) UpdateLine(ctx context.Context, orgID, id int64, in LineInput) (Line, error) {
	return scanLine(r.pool.QueryRow(ctx,
		`UPDATE forecast_budget_lines SET label=$3, year=$4, budget=$5, updated_at=NOW() WHERE org_id=$1 AND id=$2 RETURNING `+lineColumns,
		orgID, id, in.Label, in.Year, in.Budget))
}

// CountExpensesByLine reports how many expenses hang off a line.
func (r *Repository) CountExpensesByLine(ctx context.Context, orgID, lineID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM forecast_expenses WHERE org_id=$1 AND forecast_budget_line_id=$2`, orgID, lineID).Scan(&n)
	return n, err
}

// DeleteLine removes a forecast line.
func (r *Repository) DeleteLine(ctx context.Context, orgID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM forecast_budget_lines WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const expenseColumns = `id, org_id, forecast_budget_line_id, label, amount, year, created_at, updated_at`

func scanExpense(row pgx.Row) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.OrgID, &e.LineID, &e.Label, &e.Amount, &e.Year, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, shared.ErrNotFound
		}
		return Expense{}, err
	}
	return e, nil
}

// GetExpense returns one forecast expense.
func (r *Repository) GetExpense(ctx context.Context, orgID, id int64) (Expense, error) {
	return scanExpense(r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM forecast_expenses WHERE org_id=$1 AND id=$2`, orgID, id))
}

// ListExpenses returns the expenses of a line.
func (r *Repository) ListExpenses(ctx context.Context, orgID, lineID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM forecast_expenses WHERE org_id=$1 AND forecast_budget_line_id=$2 ORDER BY label`, orgID, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expenses []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// CreateExpense inserts a forecast expense under an existing line.
func (r *Repository) CreateExpense(ctx context.Context, orgID int64, in ExpenseInput) (Expense, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM forecast_budget_lines WHERE org_id=$1 AND id=$2)`, orgID, in.LineID).Scan(&exists); err != nil {
		return Expense{}, err
	}
	if !exists {
		return Expense{}, shared.ErrNotFound
	}
	return scanExpense(r.pool.QueryRow(ctx,
		`INSERT INTO forecast_expenses (org_id, forecast_budget_line_id, label, amount, year) VALUES ($1, $2, $3, $4, $5) RETURNING `+expenseColumns,
		orgID, in.LineID, in.Label, in.Amount, in.Year))
}

// UpdateExpense rewrites the editable fields of an expense.
func (r *Repository) UpdateExpense(ctx context.Context, orgID, id int64, in ExpenseInput) (Expense, error) {
	return scanExpense(r.pool.QueryRow(ctx,
		`UPDATE forecast_expenses SET forecast_budget_line_id=$3, label=$4, amount=$5, year=$6, updated_at=NOW() WHERE org_id=$1 AND id=$2 RETURNING `+expenseColumns,
		orgID, id, in.LineID, in.Label, in.Amount, in.Year))
}

// CountExpenseLinks reports how many realized documents point at an expense.
func (r *Repository) CountExpenseLinks(ctx context.Context, orgID, expenseID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM invoices WHERE org_id=$1 AND forecast_expense_id=$2)
		     + (SELECT COUNT(*) FROM purchase_orders WHERE org_id=$1 AND forecast_expense_id=$2)`,
		orgID, expenseID).Scan(&n)
	return n, err
}

// DeleteExpense removes a forecast expense.
func (r *Repository) DeleteExpense(ctx context.Context, orgID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM forecast_expenses WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListAvailable returns the expenses of a year that a document may still link
// to. Always computed fresh from the current links.
func (r *Repository) ListAvailable(ctx context.Context, orgID int64, f AvailabilityFilter) ([]Expense, error) {
	var query string
	args := []any{orgID, f.Year}
	switch {
	case f.ExcludeInvoiceID != 0:
		query = `
			SELECT e.id, e.org_id, e.forecast_budget_line_id, e.label, e.amount, e.year, e.created_at, e.updated_at
			FROM forecast_expenses e
			LEFT JOIN invoices i ON i.forecast_expense_id = e.id AND i.org_id = e.org_id
			WHERE e.org_id=$1 AND e.year=$2
			GROUP BY e.id, e.org_id, e.forecast_budget_line_id, e.label, e.amount, e.year, e.created_at, e.updated_at
			HAVING COUNT(i.id) = 0 OR (COUNT(i.id) = 1 AND BOOL_AND(i.id = $3))
			ORDER BY e.label`
		args = append(args, f.ExcludeInvoiceID)
	case f.ExcludePurchaseOrderID != 0:
		query = `
			SELECT e.id, e.org_id, e.forecast_budget_line_id, e.label, e.amount, e.year, e.created_at, e.updated_at
			FROM forecast_expenses e
			LEFT JOIN purchase_orders p ON p.forecast_expense_id = e.id AND p.org_id = e.org_id
			WHERE e.org_id=$1 AND e.year=$2
			GROUP BY e.id, e.org_id, e.forecast_budget_line_id, e.label, e.amount, e.year, e.created_at, e.updated_at
			HAVING COUNT(p.id) = 0 OR (COUNT(p.id) = 1 AND BOOL_AND(p.id = $3))
			ORDER BY e.label`
		args = append(args, f.ExcludePurchaseOrderID)
	default:
		query = `
			SELECT e.id, e.org_id, e.forecast_budget_line_id, e.label, e.amount, e.year, e.created_at, e.updated_at
			FROM forecast_expenses e
			WHERE e.org_id=$1 AND e.year=$2
			  AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.org_id=e.org_id AND i.forecast_expense_id=e.id)
			  AND NOT EXISTS (SELECT 1 FROM purchase_orders p WHERE p.org_id=e.org_id AND p.forecast_expense_id=e.id)
			ORDER BY e.label`
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expenses []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// RealizedSum is the plain sum of linked invoice amounts, no credit sign.
func (r *Repository) RealizedSum(ctx context.Context, orgID, expenseID int64) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM invoices WHERE org_id=$1 AND forecast_expense_id=$2`, orgID, expenseID).Scan(&sum)
	return sum, err
}

func (t *txRepo) InvoiceLinkForUpdate(ctx context.Context, orgID, invoiceID int64) (*int64, error) {
	var expenseID *int64
	err := t.tx.QueryRow(ctx, `SELECT forecast_expense_id FROM invoices WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, invoiceID).Scan(&expenseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return expenseID, nil
}

func (t *txRepo) PurchaseOrderLinkForUpdate(ctx context.Context, orgID, poID int64) (*int64, error) {
	var expenseID *int64
	err := t.tx.QueryRow(ctx, `SELECT forecast_expense_id FROM purchase_orders WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, poID).Scan(&expenseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return expenseID, nil
}

func (t *txRepo) ExpenseExists(ctx context.Context, orgID, expenseID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM forecast_expenses WHERE org_id=$1 AND id=$2)`, orgID, expenseID).Scan(&exists)
	return exists, err
}

func (t *txRepo) CountInvoiceLinks(ctx context.Context, orgID, expenseID, excludeInvoiceID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE org_id=$1 AND forecast_expense_id=$2 AND id <> $3`, orgID, expenseID, excludeInvoiceID).Scan(&n)
	return n, err
}

func (t *txRepo) CountPurchaseOrderLinks(ctx context.Context, orgID, expenseID, excludePOID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE org_id=$1 AND forecast_expense_id=$2 AND id <> $3`, orgID, expenseID, excludePOID).Scan(&n)
	return n, err
}

func (t *txRepo) SetInvoiceLink(ctx context.Context, orgID, invoiceID int64, expenseID *int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET forecast_expense_id=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, invoiceID, expenseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) SetPurchaseOrderLink(ctx context.Context, orgID, poID int64, expenseID *int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET forecast_expense_id=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, poID, expenseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return t.recorder.Record(ctx, t.tx, e)
}
