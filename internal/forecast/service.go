package forecast

import (
	"context"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/shared"
)

// RepositoryPort is the persistence surface the linker depends on.
type RepositoryPort interface {
	GetLine(ctx context.Context, orgID, id int64) (Line, error)
	ListLines(ctx context.Context, orgID int64, year int) ([]Line, error)
	CreateLine(ctx context.Context, orgID int64, in LineInput) (Line, error)
	UpdateLine(ctx context.Context, orgID, id int64, in LineInput) (Line, error)
	CountExpensesByLine(ctx context.Context, orgID, lineID int64) (int, error)
	DeleteLine(ctx context.Context, orgID, id int64) error

	GetExpense(ctx context.Context, orgID, id int64) (Expense, error)
	ListExpenses(ctx context.Context, orgID, lineID int64) ([]Expense, error)
	CreateExpense(ctx context.Context, orgID int64, in ExpenseInput) (Expense, error)
	UpdateExpense(ctx context.Context, orgID, id int64, in ExpenseInput) (Expense, error)
	CountExpenseLinks(ctx context.Context, orgID, expenseID int64) (int, error)
	DeleteExpense(ctx context.Context, orgID, id int64) error

	ListAvailable(ctx context.Context, orgID int64, f AvailabilityFilter) ([]Expense, error)
	RealizedSum(ctx context.Context, orgID, expenseID int64) (float64, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service manages the forecast hierarchy and links realized documents to
// planned expenses. It never touches the engaged/invoiced counters.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the forecast service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Line returns one forecast line.
func (s *Service) Line(ctx context.Context, id shared.Identity, lineID int64) (Line, error) {
	return s.repo.GetLine(ctx, id.OrgID, lineID)
}

// Lines returns the forecast lines of the caller's organization.
func (s *Service) Lines(ctx context.Context, id shared.Identity, year int) ([]Line, error) {
	return s.repo.ListLines(ctx, id.OrgID, year)
}

// CreateLine records a new forecast line.
func (s *Service) CreateLine(ctx context.Context, id shared.Identity, in LineInput) (Line, error) {
	if !id.CanWrite() {
		return Line{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	return s.repo.CreateLine(ctx, id.OrgID, in)
}

// UpdateLine rewrites a forecast line.
func (s *Service) UpdateLine(ctx context.Context, id shared.Identity, lineID int64, in LineInput) (Line, error) {
	if !id.CanWrite() {
		return Line{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	return s.repo.UpdateLine(ctx, id.OrgID, lineID, in)
}

// DeleteLine removes a forecast line without expenses.
func (s *Service) DeleteLine(ctx context.Context, id shared.Identity, lineID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	n, err := s.repo.CountExpensesByLine(ctx, id.OrgID, lineID)
	if err != nil {
		return err
	}
	if n > 0 {
		return shared.Conflictf("forecast line has %d expenses", n)
	}
	return s.repo.DeleteLine(ctx, id.OrgID, lineID)
}

// Expense returns one forecast expense.
func (s *Service) Expense(ctx context.Context, id shared.Identity, expenseID int64) (Expense, error) {
	return s.repo.GetExpense(ctx, id.OrgID, expenseID)
}

// Expenses returns the expenses of a forecast line.
func (s *Service) Expenses(ctx context.Context, id shared.Identity, lineID int64) ([]Expense, error) {
	return s.repo.ListExpenses(ctx, id.OrgID, lineID)
}

// CreateExpense records a planned expense under a forecast line.
func (s *Service) CreateExpense(ctx context.Context, id shared.Identity, in ExpenseInput) (Expense, error) {
	if !id.CanWrite() {
		return Expense{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	return s.repo.CreateExpense(ctx, id.OrgID, in)
}

// UpdateExpense rewrites a planned expense.
func (s *Service) UpdateExpense(ctx context.Context, id shared.Identity, expenseID int64, in ExpenseInput) (Expense, error) {
	if !id.CanWrite() {
		return Expense{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	return s.repo.UpdateExpense(ctx, id.OrgID, expenseID, in)
}

// DeleteExpense removes an expense no realized document points at.
func (s *Service) DeleteExpense(ctx context.Context, id shared.Identity, expenseID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	n, err := s.repo.CountExpenseLinks(ctx, id.OrgID, expenseID)
	if err != nil {
		return err
	}
	if n > 0 {
		return shared.Conflictf("forecast expense has %d linked documents", n)
	}
	return s.repo.DeleteExpense(ctx, id.OrgID, expenseID)
}

// ListAvailable returns the expenses a document may still link to.
func (s *Service) ListAvailable(ctx context.Context, id shared.Identity, f AvailabilityFilter) ([]Expense, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListAvailable(ctx, id.OrgID, f)
}

// LinkInvoice points an invoice at a forecast expense. The expense must be
// available relative to this invoice: unconsumed, or consumed only by this
// invoice already. Relinking to the current expense is a no-op.
func (s *Service) LinkInvoice(ctx context.Context, id shared.Identity, invoiceID, expenseID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.InvoiceLinkForUpdate(ctx, id.OrgID, invoiceID)
		if err != nil {
			return err
		}
		if current != nil && *current == expenseID {
			return nil
		}
		ok, err := tx.ExpenseExists(ctx, id.OrgID, expenseID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrNotFound
		}
		others, err := tx.CountInvoiceLinks(ctx, id.OrgID, expenseID, invoiceID)
		if err != nil {
			return err
		}
		if others > 0 {
			return shared.Conflictf("forecast expense %d is already consumed", expenseID)
		}
		if err := tx.SetInvoiceLink(ctx, id.OrgID, invoiceID, &expenseID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, linkEntry(id, "invoice", invoiceID, current, &expenseID))
	})
}

// UnlinkInvoice clears the forecast link of an invoice. Unlinking an already
// unlinked invoice succeeds.
func (s *Service) UnlinkInvoice(ctx context.Context, id shared.Identity, invoiceID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.InvoiceLinkForUpdate(ctx, id.OrgID, invoiceID)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if err := tx.SetInvoiceLink(ctx, id.OrgID, invoiceID, nil); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, linkEntry(id, "invoice", invoiceID, current, nil))
	})
}

// LinkPurchaseOrder points a purchase order at a forecast expense under the
// same availability rule, computed over purchase order links.
func (s *Service) LinkPurchaseOrder(ctx context.Context, id shared.Identity, poID, expenseID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.PurchaseOrderLinkForUpdate(ctx, id.OrgID, poID)
		if err != nil {
			return err
		}
		if current != nil && *current == expenseID {
			return nil
		}
		ok, err := tx.ExpenseExists(ctx, id.OrgID, expenseID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrNotFound
		}
		others, err := tx.CountPurchaseOrderLinks(ctx, id.OrgID, expenseID, poID)
		if err != nil {
			return err
		}
		if others > 0 {
			return shared.Conflictf("forecast expense %d is already consumed", expenseID)
		}
		if err := tx.SetPurchaseOrderLink(ctx, id.OrgID, poID, &expenseID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, linkEntry(id, "purchase_order", poID, current, &expenseID))
	})
}

// UnlinkPurchaseOrder clears the forecast link of a purchase order.
func (s *Service) UnlinkPurchaseOrder(ctx context.Context, id shared.Identity, poID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.PurchaseOrderLinkForUpdate(ctx, id.OrgID, poID)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if err := tx.SetPurchaseOrderLink(ctx, id.OrgID, poID, nil); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, linkEntry(id, "purchase_order", poID, current, nil))
	})
}

// Variance compares the planned amount of an expense with the realized spend
// linked to it. Realized sums the raw invoice amounts, credits included at
// face value.
func (s *Service) Variance(ctx context.Context, id shared.Identity, expenseID int64) (Variance, error) {
	e, err := s.repo.GetExpense(ctx, id.OrgID, expenseID)
	if err != nil {
		return Variance{}, err
	}
	realized, err := s.repo.RealizedSum(ctx, id.OrgID, expenseID)
	if err != nil {
		return Variance{}, err
	}
	v := Variance{
		ExpenseID: e.ID,
		Planned:   e.Amount,
		Realized:  realized,
		Variance:  realized - e.Amount,
	}
	if e.Amount != 0 {
		v.VariancePercent = v.Variance / e.Amount * 100
	}
	return v, nil
}

func linkEntry(id shared.Identity, entity string, entityID int64, before, after *int64) audit.Entry {
	meta := func(expenseID *int64) map[string]any {
		if expenseID == nil {
			return map[string]any{"forecast_expense_id": nil}
		}
		return map[string]any{"forecast_expense_id": *expenseID}
	}
	return audit.Entry{
		OrgID:    id.OrgID,
		ActorID:  id.ActorID,
		Action:   audit.ActionUpdate,
		Entity:   entity,
		EntityID: entityID,
		Before:   meta(before),
		After:    meta(after),
	}
}
