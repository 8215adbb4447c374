package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/platform/db"
	"github.com/budgeo/budgeo/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// TxRepository exposes the transactional operations of a single ledger
// mutation. The aggregate increments live here and nowhere else; every write
// is an atomic SET x = x + delta so concurrent mutations of the same line
// serialize on the row lock instead of losing updates.
type TxRepository interface {
	GetContractForUpdate(ctx context.Context, orgID, id int64) (Contract, error)
	InsertContract(ctx context.Context, c Contract) (int64, error)
	UpdateContract(ctx context.Context, c Contract) error
	DeleteContract(ctx context.Context, orgID, id int64) error
	ReplaceContractSplits(ctx context.Context, contractID int64, splits []YearlySplit) error
	CountInvoicesByContract(ctx context.Context, orgID, contractID int64) (int, error)

	GetInvoiceForUpdate(ctx context.Context, orgID, id int64) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, orgID, id int64) error

	LineExists(ctx context.Context, orgID, lineID int64) (bool, error)
	ContractExists(ctx context.Context, orgID, contractID int64) (bool, error)

	IncrementEngaged(ctx context.Context, orgID, lineID int64, delta float64) error
	IncrementInvoiced(ctx context.Context, orgID, lineID int64, delta float64) error
	IncrementYearEngaged(ctx context.Context, orgID, lineID int64, year int, delta float64) error
	IncrementYearInvoiced(ctx context.Context, orgID, lineID int64, year int, delta float64) error

	AppendAudit(ctx context.Context, e audit.Entry) error
}

type txRepo struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

// WithTx wraps the callback in a repeatable-read transaction. Serialization
// failures are retried by the platform helper; the callback reapplies its
// deltas against a fresh snapshot on each attempt.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, recorder: r.recorder})
	})
}

const contractColumns = `id, org_id, vendor, reference, amount, start_date, end_date, budget_line_id, note, created_at, updated_at`

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.OrgID, &c.Vendor, &c.Reference, &c.Amount, &c.StartDate, &c.EndDate, &c.BudgetLineID, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, shared.ErrNotFound
		}
		return Contract{}, err
	}
	return c, nil
}

// GetContract returns a contract with its yearly splits.
func (r *Repository) GetContract(ctx context.Context, orgID, id int64) (Contract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return Contract{}, err
	}
	c.YearlySplits, err = r.contractSplits(ctx, id)
	return c, err
}

func (r *Repository) contractSplits(ctx context.Context, contractID int64) ([]YearlySplit, error) {
	rows, err := r.pool.Query(ctx, `SELECT year, amount FROM contract_yearly_amounts WHERE contract_id=$1 ORDER BY year`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var splits []YearlySplit
	for rows.Next() {
		var s YearlySplit
		if err := rows.Scan(&s.Year, &s.Amount); err != nil {
			return nil, err
		}
		splits = append(splits, s)
	}
	return splits, rows.Err()
}

// ListContracts returns all contracts of an organization.
func (r *Repository) ListContracts(ctx context.Context, orgID int64) ([]Contract, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+contractColumns+` FROM contracts WHERE org_id=$1 ORDER BY end_date`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var contracts []Contract
	for rows.Next() {
		var c Contract
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Vendor, &c.Reference, &c.Amount, &c.StartDate, &c.EndDate, &c.BudgetLineID, &c.Note, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

const invoiceColumns = `id, org_id, vendor, reference, amount, is_credit, contract_id, budget_line_id, invoice_date, invoice_year, status, forecast_expense_id, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Vendor, &inv.Reference, &inv.Amount, &inv.IsCredit, &inv.ContractID, &inv.BudgetLineID, &inv.InvoiceDate, &inv.InvoiceYear, &inv.Status, &inv.ForecastExpenseID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

// GetInvoice returns one invoice scoped to the organization.
func (r *Repository) GetInvoice(ctx context.Context, orgID, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE org_id=$1 AND id=$2`, orgID, id))
}

// ListInvoices returns invoices of an organization, optionally filtered.
func (r *Repository) ListInvoices(ctx context.Context, orgID int64, filter InvoiceFilter) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE org_id=$1
		AND ($2 = 0 OR contract_id = $2)
		AND ($3 = 0 OR budget_line_id = $3)
		AND ($4 = 0 OR invoice_year = $4)
		ORDER BY invoice_date DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, orgID, filter.ContractID, filter.BudgetLineID, filter.Year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.Vendor, &inv.Reference, &inv.Amount, &inv.IsCredit, &inv.ContractID, &inv.BudgetLineID, &inv.InvoiceDate, &inv.InvoiceYear, &inv.Status, &inv.ForecastExpenseID, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Transactional implementation

func (t *txRepo) GetContractForUpdate(ctx context.Context, orgID, id int64) (Contract, error) {
	c, err := scanContract(t.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if err != nil {
		return Contract{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT year, amount FROM contract_yearly_amounts WHERE contract_id=$1 ORDER BY year`, id)
	if err != nil {
		return Contract{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s YearlySplit
		if err := rows.Scan(&s.Year, &s.Amount); err != nil {
			return Contract{}, err
		}
		c.YearlySplits = append(c.YearlySplits, s)
	}
	return c, rows.Err()
}

func (t *txRepo) InsertContract(ctx context.Context, c Contract) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO contracts (org_id, vendor, reference, amount, start_date, end_date, budget_line_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.OrgID, c.Vendor, c.Reference, c.Amount, c.StartDate, c.EndDate, c.BudgetLineID, c.Note).Scan(&id)
	return id, mapFKViolation(err)
}

func (t *txRepo) UpdateContract(ctx context.Context, c Contract) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE contracts
		SET vendor=$3, reference=$4, amount=$5, start_date=$6, end_date=$7, budget_line_id=$8, note=$9, updated_at=NOW()
		WHERE org_id=$1 AND id=$2`,
		c.OrgID, c.ID, c.Vendor, c.Reference, c.Amount, c.StartDate, c.EndDate, c.BudgetLineID, c.Note)
	if err != nil {
		return mapFKViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteContract(ctx context.Context, orgID, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM contract_yearly_amounts WHERE contract_id=$1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM contracts WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) ReplaceContractSplits(ctx context.Context, contractID int64, splits []YearlySplit) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM contract_yearly_amounts WHERE contract_id=$1`, contractID); err != nil {
		return err
	}
	for _, s := range splits {
		if _, err := t.tx.Exec(ctx, `INSERT INTO contract_yearly_amounts (contract_id, year, amount) VALUES ($1, $2, $3)`, contractID, s.Year, s.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) CountInvoicesByContract(ctx context.Context, orgID, contractID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE org_id=$1 AND contract_id=$2`, orgID, contractID).Scan(&count)
	return count, err
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, orgID, id int64) (Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (org_id, vendor, reference, amount, is_credit, contract_id, budget_line_id, invoice_date, invoice_year, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		inv.OrgID, inv.Vendor, inv.Reference, inv.Amount, inv.IsCredit, inv.ContractID, inv.BudgetLineID, inv.InvoiceDate, inv.InvoiceYear, inv.Status).Scan(&id)
	return id, mapFKViolation(err)
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET vendor=$3, reference=$4, amount=$5, is_credit=$6, contract_id=$7, budget_line_id=$8, invoice_date=$9, invoice_year=$10, status=$11, updated_at=NOW()
		WHERE org_id=$1 AND id=$2`,
		inv.OrgID, inv.ID, inv.Vendor, inv.Reference, inv.Amount, inv.IsCredit, inv.ContractID, inv.BudgetLineID, inv.InvoiceDate, inv.InvoiceYear, inv.Status)
	if err != nil {
		return mapFKViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteInvoice(ctx context.Context, orgID, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) LineExists(ctx context.Context, orgID, lineID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budget_lines WHERE org_id=$1 AND id=$2)`, orgID, lineID).Scan(&exists)
	return exists, err
}

func (t *txRepo) ContractExists(ctx context.Context, orgID, contractID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE org_id=$1 AND id=$2)`, orgID, contractID).Scan(&exists)
	return exists, err
}

func (t *txRepo) IncrementEngaged(ctx context.Context, orgID, lineID int64, delta float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE budget_lines SET engaged = engaged + $3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, lineID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) IncrementInvoiced(ctx context.Context, orgID, lineID int64, delta float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE budget_lines SET invoiced = invoiced + $3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, lineID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) IncrementYearEngaged(ctx context.Context, orgID, lineID int64, year int, delta float64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO yearly_budgets (org_id, budget_line_id, year, budget, engaged, invoiced)
		VALUES ($1, $2, $3, 0, $4, 0)
		ON CONFLICT (budget_line_id, year)
		DO UPDATE SET engaged = yearly_budgets.engaged + EXCLUDED.engaged`,
		orgID, lineID, year, delta)
	return err
}

func (t *txRepo) IncrementYearInvoiced(ctx context.Context, orgID, lineID int64, year int, delta float64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO yearly_budgets (org_id, budget_line_id, year, budget, engaged, invoiced)
		VALUES ($1, $2, $3, 0, 0, $4)
		ON CONFLICT (budget_line_id, year)
		DO UPDATE SET invoiced = yearly_budgets.invoiced + EXCLUDED.invoiced`,
		orgID, lineID, year, delta)
	return err
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return t.recorder.Record(ctx, t.tx, e)
}

// mapFKViolation turns referential integrity errors into the domain taxonomy.
func mapFKViolation(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return shared.ErrNotFound
		case "23505":
			return shared.Conflictf("duplicate reference")
		}
	}
	return err
}
