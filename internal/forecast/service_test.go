package forecast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/shared"
)

type fakeInvoice struct {
	orgID     int64
	amount    float64
	isCredit  bool
	expenseID *int64
}

type fakePO struct {
	orgID     int64
	expenseID *int64
}

type memoryRepo struct {
	lines    map[int64]Line
	expenses map[int64]Expense
	invoices map[int64]*fakeInvoice
	pos      map[int64]*fakePO
	audits   []audit.Entry
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lines:    make(map[int64]Line),
		expenses: make(map[int64]Expense),
		invoices: make(map[int64]*fakeInvoice),
		pos:      make(map[int64]*fakePO),
	}
}

func (r *memoryRepo) addExpense(id, orgID, lineID int64, amount float64, year int) {
	r.expenses[id] = Expense{ID: id, OrgID: orgID, LineID: lineID, Amount: amount, Year: year}
}

func (r *memoryRepo) GetLine(ctx context.Context, orgID, id int64) (Line, error) {
	l, ok := r.lines[id]
	if !ok || l.OrgID != orgID {
		return Line{}, shared.ErrNotFound
	}
	return l, nil
}

func (r *memoryRepo) ListLines(ctx context.Context, orgID int64, year int) ([]Line, error) {
	var out []Line
	for _, l := range r.lines {
		if l.OrgID == orgID && (year == 0 || l.Year == year) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateLine(ctx context.Context, orgID int64, in LineInput) (Line, error) {
	r.nextID++
	l := Line{ID: r.nextID, OrgID: orgID, Label: in.Label, Year: in.Year, Budget: in.Budget}
	r.lines[l.ID] = l
	return l, nil
}

func (r *memoryRepo) UpdateLine(ctx context.Context, orgID, id int64, in LineInput) (Line, error) {
	l, err := r.GetLine(ctx, orgID, id)
	if err != nil {
		return Line{}, err
	}
	l.Label, l.Year, l.Budget = in.Label, in.Year, in.Budget
	r.lines[id] = l
	return l, nil
}

func (r *memoryRepo) CountExpensesByLine(ctx context.Context, orgID, lineID int64) (int, error) {
	n := 0
	for _, e := range r.expenses {
		if e.OrgID == orgID && e.LineID == lineID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) DeleteLine(ctx context.Context, orgID, id int64) error {
	if _, err := r.GetLine(ctx, orgID, id); err != nil {
		return err
	}
	delete(r.lines, id)
	return nil
}

func (r *memoryRepo) GetExpense(ctx context.Context, orgID, id int64) (Expense, error) {
	e, ok := r.expenses[id]
	if !ok || e.OrgID != orgID {
		return Expense{}, shared.ErrNotFound
	}
	return e, nil
}

func (r *memoryRepo) ListExpenses(ctx context.Context, orgID, lineID int64) ([]Expense, error) {
	var out []Expense
	for _, e := range r.expenses {
		if e.OrgID == orgID && e.LineID == lineID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateExpense(ctx context.Context, orgID int64, in ExpenseInput) (Expense, error) {
	if _, err := r.GetLine(ctx, orgID, in.LineID); err != nil {
		return Expense{}, err
	}
	r.nextID++
	e := Expense{ID: r.nextID, OrgID: orgID, LineID: in.LineID, Label: in.Label, Amount: in.Amount, Year: in.Year}
	r.expenses[e.ID] = e
	return e, nil
}

func (r *memoryRepo) UpdateExpense(ctx context.Context, orgID, id int64, in ExpenseInput) (Expense, error) {
	e, err := r.GetExpense(ctx, orgID, id)
	if err != nil {
		return Expense{}, err
	}
	e.LineID, e.Label, e.Amount, e.Year = in.LineID, in.Label, in.Amount, in.Year
	r.expenses[id] = e
	return e, nil
}

func (r *memoryRepo) CountExpenseLinks(ctx context.Context, orgID, expenseID int64) (int, error) {
	n := 0
	for _, inv := range r.invoices {
		if inv.orgID == orgID && inv.expenseID != nil && *inv.expenseID == expenseID {
			n++
		}
	}
	for _, po := range r.pos {
		if po.orgID == orgID && po.expenseID != nil && *po.expenseID == expenseID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) DeleteExpense(ctx context.Context, orgID, id int64) error {
	if _, err := r.GetExpense(ctx, orgID, id); err != nil {
		return err
	}
	delete(r.expenses, id)
	return nil
}

func (r *memoryRepo) ListAvailable(ctx context.Context, orgID int64, f AvailabilityFilter) ([]Expense, error) {
	var out []Expense
	for _, e := range r.expenses {
		if e.OrgID != orgID || e.Year != f.Year {
			continue
		}
		switch {
		case f.ExcludeInvoiceID != 0:
			if r.invoiceLinksExcluding(e.ID, f.ExcludeInvoiceID) == 0 {
				out = append(out, e)
			}
		case f.ExcludePurchaseOrderID != 0:
			if r.poLinksExcluding(e.ID, f.ExcludePurchaseOrderID) == 0 {
				out = append(out, e)
			}
		default:
			if r.invoiceLinksExcluding(e.ID, 0) == 0 && r.poLinksExcluding(e.ID, 0) == 0 {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) invoiceLinksExcluding(expenseID, excludeID int64) int {
	n := 0
	for invID, inv := range r.invoices {
		if invID != excludeID && inv.expenseID != nil && *inv.expenseID == expenseID {
			n++
		}
	}
	return n
}

func (r *memoryRepo) poLinksExcluding(expenseID, excludeID int64) int {
	n := 0
	for poID, po := range r.pos {
		if poID != excludeID && po.expenseID != nil && *po.expenseID == expenseID {
			n++
		}
	}
	return n
}

func (r *memoryRepo) RealizedSum(ctx context.Context, orgID, expenseID int64) (float64, error) {
	var sum float64
	for _, inv := range r.invoices {
		if inv.orgID == orgID && inv.expenseID != nil && *inv.expenseID == expenseID {
			sum += inv.amount
		}
	}
	return sum, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InvoiceLinkForUpdate(ctx context.Context, orgID, invoiceID int64) (*int64, error) {
	inv, ok := t.repo.invoices[invoiceID]
	if !ok || inv.orgID != orgID {
		return nil, shared.ErrNotFound
	}
	return inv.expenseID, nil
}

func (t *memoryTx) PurchaseOrderLinkForUpdate(ctx context.Context, orgID, poID int64) (*int64, error) {
	po, ok := t.repo.pos[poID]
	if !ok || po.orgID != orgID {
		return nil, shared.ErrNotFound
	}
	return po.expenseID, nil
}

func (t *memoryTx) ExpenseExists(ctx context.Context, orgID, expenseID int64) (bool, error) {
	e, ok := t.repo.expenses[expenseID]
	return ok && e.OrgID == orgID, nil
}

func (t *memoryTx) CountInvoiceLinks(ctx context.Context, orgID, expenseID, excludeInvoiceID int64) (int, error) {
	return t.repo.invoiceLinksExcluding(expenseID, excludeInvoiceID), nil
}

func (t *memoryTx) CountPurchaseOrderLinks(ctx context.Context, orgID, expenseID, excludePOID int64) (int, error) {
	return t.repo.poLinksExcluding(expenseID, excludePOID), nil
}

func (t *memoryTx) SetInvoiceLink(ctx context.Context, orgID, invoiceID int64, expenseID *int64) error {
	inv, ok := t.repo.invoices[invoiceID]
	if !ok || inv.orgID != orgID {
		return shared.ErrNotFound
	}
	inv.expenseID = expenseID
	return nil
}

func (t *memoryTx) SetPurchaseOrderLink(ctx context.Context, orgID, poID int64, expenseID *int64) error {
	po, ok := t.repo.pos[poID]
	if !ok || po.orgID != orgID {
		return shared.ErrNotFound
	}
	po.expenseID = expenseID
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	t.repo.audits = append(t.repo.audits, e)
	return nil
}

var (
	writer = shared.Identity{ActorID: 1, OrgID: 10, Role: shared.RoleUser}
	viewer = shared.Identity{ActorID: 2, OrgID: 10, Role: shared.RoleViewer}
)

func TestAvailabilityExcludesConsumedExpenses(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))

	// Without exclusion the consumed expense disappears.
	available, err := svc.ListAvailable(ctx, writer, AvailabilityFilter{Year: 2025})
	require.NoError(t, err)
	require.Empty(t, available)

	// From the linking invoice's own edit form it stays visible.
	available, err = svc.ListAvailable(ctx, writer, AvailabilityFilter{Year: 2025, ExcludeInvoiceID: 7})
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, int64(1), available[0].ID)
}

func TestAvailabilityRejectsBothExclusions(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.ListAvailable(context.Background(), writer, AvailabilityFilter{Year: 2025, ExcludeInvoiceID: 1, ExcludePurchaseOrderID: 2})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLinkConflictWhenExpenseConsumed(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	repo.invoices[8] = &fakeInvoice{orgID: writer.OrgID, amount: 600}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	err := svc.LinkInvoice(ctx, writer, 8, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Nil(t, repo.invoices[8].expenseID)
}

func TestRelinkToSameExpenseIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	audits := len(repo.audits)
	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	require.Len(t, repo.audits, audits, "noop relink must not write an audit entry")
}

func TestUnlinkIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	require.NoError(t, svc.UnlinkInvoice(ctx, writer, 7))
	require.NoError(t, svc.UnlinkInvoice(ctx, writer, 7))
	require.NoError(t, svc.UnlinkInvoice(ctx, writer, 7))
	require.Nil(t, repo.invoices[7].expenseID)
}

func TestPurchaseOrderLinksCountSeparately(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	repo.pos[3] = &fakePO{orgID: writer.OrgID}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	require.NoError(t, svc.LinkPurchaseOrder(ctx, writer, 3, 1))

	// A PO editing itself still sees the expense despite the invoice link.
	available, err := svc.ListAvailable(ctx, writer, AvailabilityFilter{Year: 2025, ExcludePurchaseOrderID: 3})
	require.NoError(t, err)
	require.Len(t, available, 1)
}

func TestVarianceIgnoresCreditSign(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))

	v, err := svc.Variance(ctx, writer, 1)
	require.NoError(t, err)
	require.InDelta(t, 1000, v.Planned, 1e-9)
	require.InDelta(t, 400, v.Realized, 1e-9)
	require.InDelta(t, -600, v.Variance, 1e-9)
	require.InDelta(t, -60, v.VariancePercent, 1e-9)

	// A credit note counts at face value here. The budget line ledger would
	// subtract it from invoiced, realized fulfilment does not.
	repo.invoices[7].isCredit = true
	v, err = svc.Variance(ctx, writer, 1)
	require.NoError(t, err)
	require.InDelta(t, 400, v.Realized, 1e-9)
}

func TestDeleteExpenseBlockedByLinks(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, writer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LinkInvoice(ctx, writer, 7, 1))
	err := svc.DeleteExpense(ctx, writer, 1)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, svc.UnlinkInvoice(ctx, writer, 7))
	require.NoError(t, svc.DeleteExpense(ctx, writer, 1))
}

func TestViewerCannotLink(t *testing.T) {
	repo := newMemoryRepo()
	repo.addExpense(1, viewer.OrgID, 1, 1000, 2025)
	repo.invoices[7] = &fakeInvoice{orgID: viewer.OrgID, amount: 400}
	svc := NewService(repo)

	err := svc.LinkInvoice(context.Background(), viewer, 7, 1)
	require.ErrorIs(t, err, shared.ErrForbidden)
	err = svc.UnlinkInvoice(context.Background(), viewer, 7)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestLinkUnknownExpenseIsNotFound(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[7] = &fakeInvoice{orgID: writer.OrgID, amount: 400}
	svc := NewService(repo)

	err := svc.LinkInvoice(context.Background(), writer, 7, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
