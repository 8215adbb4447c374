package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/platform/db"
	"github.com/budgeo/budgeo/internal/shared"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) *Repository {
	return &Repository{pool: pool, recorder: recorder}
}

// TxRepository exposes the transactional operations of a status transition.
// The row is locked first so concurrent transitions serialize.
type TxRepository interface {
	GetForUpdate(ctx context.Context, orgID, id int64) (PurchaseOrder, error)
	SetStatus(ctx context.Context, orgID, id int64, status Status) error
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

const poColumns = `id, org_id, vendor, reference, amount, status, forecast_expense_id, issue_date, note, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.OrgID, &po.Vendor, &po.Reference, &po.Amount, &po.Status, &po.ForecastExpenseID, &po.IssueDate, &po.Note, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Get returns one purchase order.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE org_id=$1 AND id=$2`, orgID, id))
}

// List returns the purchase orders of an organization, optionally filtered
// by status.
func (r *Repository) List(ctx context.Context, orgID int64, status Status) ([]PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE org_id=$1`
	args := []any{orgID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	query += ` ORDER BY issue_date DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pos []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	return pos, rows.Err()
}

// Create inserts a purchase order in DRAFT.
func (r *Repository) Create(ctx context.Context, orgID int64, in Input) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx,
		`INSERT INTO purchase_orders (org_id, vendor, reference, amount, status, issue_date, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+poColumns,
		orgID, in.Vendor, in.Reference, in.Amount, StatusDraft, in.IssueDate, in.Note))
}

// Update rewrites the editable fields of a non-terminal purchase order.
func (r *Repository) Update(ctx context.Context, orgID, id int64, in Input) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx,
		`UPDATE purchase_orders SET vendor=$3, reference=$4, amount=$5, issue_date=$6, note=$7, updated_at=NOW()
		 WHERE org_id=$1 AND id=$2 RETURNING `+poColumns,
		orgID, id, in.Vendor, in.Reference, in.Amount, in.IssueDate, in.Note))
}

// Delete removes a purchase order.
func (r *Repository) Delete(ctx context.Context, orgID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM purchase_orders WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, orgID, id int64) (PurchaseOrder, error) {
	return scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepo) SetStatus(ctx context.Context, orgID, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, id, status)
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
