package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/shared"
)

type fakeLine struct {
	orgID    int64
	engaged  float64
	invoiced float64
}

type yearKey struct {
	lineID int64
	year   int
}

type memoryState struct {
	lines     map[int64]*fakeLine
	years     map[yearKey]*fakeLine
	contracts map[int64]Contract
	invoices  map[int64]Invoice
	audits    []audit.Entry
}

type memoryRepo struct {
	state          memoryState
	nextContractID int64
	nextInvoiceID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		lines:     make(map[int64]*fakeLine),
		years:     make(map[yearKey]*fakeLine),
		contracts: make(map[int64]Contract),
		invoices:  make(map[int64]Invoice),
	}}
}

func (r *memoryRepo) addLine(id, orgID int64) {
	r.state.lines[id] = &fakeLine{orgID: orgID}
}

func (r *memoryRepo) snapshot() memoryState {
	copied := memoryState{
		lines:     make(map[int64]*fakeLine, len(r.state.lines)),
		years:     make(map[yearKey]*fakeLine, len(r.state.years)),
		contracts: make(map[int64]Contract, len(r.state.contracts)),
		invoices:  make(map[int64]Invoice, len(r.state.invoices)),
		audits:    append([]audit.Entry(nil), r.state.audits...),
	}
	for id, l := range r.state.lines {
		dup := *l
		copied.lines[id] = &dup
	}
	for k, l := range r.state.years {
		dup := *l
		copied.years[k] = &dup
	}
	for id, c := range r.state.contracts {
		copied.contracts[id] = c
	}
	for id, inv := range r.state.invoices {
		copied.invoices[id] = inv
	}
	return copied
}

// WithTx models transactional semantics: on error the whole mutation is
// rolled back by restoring the pre-transaction snapshot.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = before
		return err
	}
	return nil
}

func (r *memoryRepo) GetContract(ctx context.Context, orgID, id int64) (Contract, error) {
	c, ok := r.state.contracts[id]
	if !ok || c.OrgID != orgID {
		return Contract{}, shared.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListContracts(ctx context.Context, orgID int64) ([]Contract, error) {
	var out []Contract
	for _, c := range r.state.contracts {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, orgID, id int64) (Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok || inv.OrgID != orgID {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(ctx context.Context, orgID int64, filter InvoiceFilter) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.state.invoices {
		if inv.OrgID != orgID {
			continue
		}
		if filter.ContractID != 0 && (inv.ContractID == nil || *inv.ContractID != filter.ContractID) {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (t *memoryTx) GetContractForUpdate(ctx context.Context, orgID, id int64) (Contract, error) {
	return t.repo.GetContract(ctx, orgID, id)
}

func (t *memoryTx) InsertContract(ctx context.Context, c Contract) (int64, error) {
	t.repo.nextContractID++
	c.ID = t.repo.nextContractID
	t.repo.state.contracts[c.ID] = c
	return c.ID, nil
}

func (t *memoryTx) UpdateContract(ctx context.Context, c Contract) error {
	if _, ok := t.repo.state.contracts[c.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.state.contracts[c.ID] = c
	return nil
}

func (t *memoryTx) DeleteContract(ctx context.Context, orgID, id int64) error {
	if _, ok := t.repo.state.contracts[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.repo.state.contracts, id)
	return nil
}

func (t *memoryTx) ReplaceContractSplits(ctx context.Context, contractID int64, splits []YearlySplit) error {
	c, ok := t.repo.state.contracts[contractID]
	if !ok {
		return shared.ErrNotFound
	}
	c.YearlySplits = splits
	t.repo.state.contracts[contractID] = c
	return nil
}

func (t *memoryTx) CountInvoicesByContract(ctx context.Context, orgID, contractID int64) (int, error) {
	count := 0
	for _, inv := range t.repo.state.invoices {
		if inv.OrgID == orgID && inv.ContractID != nil && *inv.ContractID == contractID {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, orgID, id int64) (Invoice, error) {
	return t.repo.GetInvoice(ctx, orgID, id)
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	t.repo.nextInvoiceID++
	inv.ID = t.repo.nextInvoiceID
	t.repo.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, inv Invoice) error {
	if _, ok := t.repo.state.invoices[inv.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.state.invoices[inv.ID] = inv
	return nil
}

func (t *memoryTx) DeleteInvoice(ctx context.Context, orgID, id int64) error {
	if _, ok := t.repo.state.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.repo.state.invoices, id)
	return nil
}

func (t *memoryTx) LineExists(ctx context.Context, orgID, lineID int64) (bool, error) {
	l, ok := t.repo.state.lines[lineID]
	return ok && l.orgID == orgID, nil
}

func (t *memoryTx) ContractExists(ctx context.Context, orgID, contractID int64) (bool, error) {
	c, ok := t.repo.state.contracts[contractID]
	return ok && c.OrgID == orgID, nil
}

func (t *memoryTx) IncrementEngaged(ctx context.Context, orgID, lineID int64, delta float64) error {
	l, ok := t.repo.state.lines[lineID]
	if !ok || l.orgID != orgID {
		return shared.ErrNotFound
	}
	l.engaged += delta
	return nil
}

func (t *memoryTx) IncrementInvoiced(ctx context.Context, orgID, lineID int64, delta float64) error {
	l, ok := t.repo.state.lines[lineID]
	if !ok || l.orgID != orgID {
		return shared.ErrNotFound
	}
	l.invoiced += delta
	return nil
}

func (t *memoryTx) yearRow(lineID int64, year int) *fakeLine {
	key := yearKey{lineID: lineID, year: year}
	row, ok := t.repo.state.years[key]
	if !ok {
		row = &fakeLine{}
		t.repo.state.years[key] = row
	}
	return row
}

func (t *memoryTx) IncrementYearEngaged(ctx context.Context, orgID, lineID int64, year int, delta float64) error {
	t.yearRow(lineID, year).engaged += delta
	return nil
}

func (t *memoryTx) IncrementYearInvoiced(ctx context.Context, orgID, lineID int64, year int, delta float64) error {
	t.yearRow(lineID, year).invoiced += delta
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	t.repo.state.audits = append(t.repo.state.audits, e)
	return nil
}

var (
	writer = shared.Identity{ActorID: 1, OrgID: 10, Role: shared.RoleUser}
	viewer = shared.Identity{ActorID: 2, OrgID: 10, Role: shared.RoleViewer}
)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil)
}

// requireConsistent recomputes the invariant from the documents and compares
// it with the maintained counters.
func requireConsistent(t *testing.T, repo *memoryRepo) {
	t.Helper()
	for lineID, line := range repo.state.lines {
		var engaged, invoiced float64
		for _, c := range repo.state.contracts {
			if c.BudgetLineID != nil && *c.BudgetLineID == lineID {
				engaged += c.Amount
			}
		}
		for _, inv := range repo.state.invoices {
			if inv.BudgetLineID != nil && *inv.BudgetLineID == lineID {
				invoiced += inv.SignedAmount()
			}
		}
		require.InDelta(t, engaged, line.engaged, 1e-9, "engaged drifted on line %d", lineID)
		require.InDelta(t, invoiced, line.invoiced, 1e-9, "invoiced drifted on line %d", lineID)
	}
}

func ptr(v int64) *int64 { return &v }

func contractInput(amount float64, lineID *int64) ContractInput {
	return ContractInput{
		Vendor:       "ACME",
		Amount:       amount,
		StartDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		BudgetLineID: lineID,
	}
}

func invoiceInput(amount float64, isCredit bool, lineID *int64) InvoiceInput {
	return InvoiceInput{
		Vendor:       "ACME",
		Amount:       amount,
		IsCredit:     isCredit,
		BudgetLineID: lineID,
		InvoiceDate:  time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestContractCreateIncrementsEngaged(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(1000, ptr(1)))
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	require.InDelta(t, 1000, repo.state.lines[1].engaged, 1e-9)
	requireConsistent(t, repo)
}

func TestContractCreateWithoutLineIsAggregateNoop(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	_, err := svc.CreateContract(context.Background(), writer, contractInput(1000, nil))
	require.NoError(t, err)
	require.Zero(t, repo.state.lines[1].engaged)
}

func TestContractReassignmentMovesAmountBetweenLines(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	repo.addLine(2, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(750, ptr(1)))
	require.NoError(t, err)

	_, err = svc.UpdateContract(context.Background(), writer, c.ID, contractInput(750, ptr(2)))
	require.NoError(t, err)
	require.InDelta(t, 0, repo.state.lines[1].engaged, 1e-9)
	require.InDelta(t, 750, repo.state.lines[2].engaged, 1e-9)

	// Grand total across lines is unchanged by the move.
	total := repo.state.lines[1].engaged + repo.state.lines[2].engaged
	require.InDelta(t, 750, total, 1e-9)
	requireConsistent(t, repo)
}

func TestContractAmountChangeAppliesSingleDelta(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(1000, ptr(1)))
	require.NoError(t, err)

	_, err = svc.UpdateContract(context.Background(), writer, c.ID, contractInput(1400, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, 1400, repo.state.lines[1].engaged, 1e-9)
	requireConsistent(t, repo)
}

func TestContractUnassignReversesEngaged(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(500, ptr(1)))
	require.NoError(t, err)

	_, err = svc.UpdateContract(context.Background(), writer, c.ID, contractInput(500, nil))
	require.NoError(t, err)
	require.InDelta(t, 0, repo.state.lines[1].engaged, 1e-9)
	requireConsistent(t, repo)
}

func TestContractYearlySplitsFollowLine(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	repo.addLine(2, writer.OrgID)
	svc := newTestService(repo)

	in := contractInput(1000, ptr(1))
	in.YearlySplits = []YearlySplit{{Year: 2025, Amount: 400}, {Year: 2026, Amount: 600}}
	c, err := svc.CreateContract(context.Background(), writer, in)
	require.NoError(t, err)
	require.InDelta(t, 400, repo.state.years[yearKey{1, 2025}].engaged, 1e-9)
	require.InDelta(t, 600, repo.state.years[yearKey{1, 2026}].engaged, 1e-9)

	moved := contractInput(1000, ptr(2))
	moved.YearlySplits = in.YearlySplits
	_, err = svc.UpdateContract(context.Background(), writer, c.ID, moved)
	require.NoError(t, err)
	require.InDelta(t, 0, repo.state.years[yearKey{1, 2025}].engaged, 1e-9)
	require.InDelta(t, 0, repo.state.years[yearKey{1, 2026}].engaged, 1e-9)
	require.InDelta(t, 400, repo.state.years[yearKey{2, 2025}].engaged, 1e-9)
	require.InDelta(t, 600, repo.state.years[yearKey{2, 2026}].engaged, 1e-9)
}

func TestDeleteContractBlockedByLinkedInvoices(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(1000, ptr(1)))
	require.NoError(t, err)

	inv := invoiceInput(300, false, ptr(1))
	inv.ContractID = &c.ID
	_, err = svc.CreateInvoice(context.Background(), writer, inv)
	require.NoError(t, err)

	err = svc.DeleteContract(context.Background(), writer, c.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	// The failed delete must leave every aggregate untouched.
	require.InDelta(t, 1000, repo.state.lines[1].engaged, 1e-9)
	require.InDelta(t, 300, repo.state.lines[1].invoiced, 1e-9)
	requireConsistent(t, repo)
}

func TestCreditNoteSubtractsAndDeleteRestores(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	_, err := svc.CreateInvoice(context.Background(), writer, invoiceInput(500, false, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, 500, repo.state.lines[1].invoiced, 1e-9)

	credit, err := svc.CreateInvoice(context.Background(), writer, invoiceInput(100, true, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, 400, repo.state.lines[1].invoiced, 1e-9)

	require.NoError(t, svc.DeleteInvoice(context.Background(), writer, credit.ID))
	require.InDelta(t, 500, repo.state.lines[1].invoiced, 1e-9)
	requireConsistent(t, repo)
}

func TestInvoiceUpdateFlipsAllThreeAxesAtOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	repo.addLine(2, writer.OrgID)
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), writer, invoiceInput(300, false, ptr(1)))
	require.NoError(t, err)

	// amount 300→200, debit→credit, line 1→2 in one edit
	_, err = svc.UpdateInvoice(context.Background(), writer, inv.ID, invoiceInput(200, true, ptr(2)))
	require.NoError(t, err)
	require.InDelta(t, 0, repo.state.lines[1].invoiced, 1e-9)
	require.InDelta(t, -200, repo.state.lines[2].invoiced, 1e-9)
	requireConsistent(t, repo)
}

func TestInvoiceCreditFlipOnSameLine(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), writer, invoiceInput(300, false, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, 300, repo.state.lines[1].invoiced, 1e-9)

	_, err = svc.UpdateInvoice(context.Background(), writer, inv.ID, invoiceInput(300, true, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, -300, repo.state.lines[1].invoiced, 1e-9)
	requireConsistent(t, repo)
}

func TestInvoiceYearMoveRewritesYearlyRows(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	in := invoiceInput(250, false, ptr(1))
	inv, err := svc.CreateInvoice(context.Background(), writer, in)
	require.NoError(t, err)
	require.InDelta(t, 250, repo.state.years[yearKey{1, 2025}].invoiced, 1e-9)

	in.InvoiceDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.UpdateInvoice(context.Background(), writer, inv.ID, in)
	require.NoError(t, err)
	require.InDelta(t, 0, repo.state.years[yearKey{1, 2025}].invoiced, 1e-9)
	require.InDelta(t, 250, repo.state.years[yearKey{1, 2026}].invoiced, 1e-9)
	require.InDelta(t, 250, repo.state.lines[1].invoiced, 1e-9)
}

func TestEndToEndScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)
	ctx := context.Background()

	c1, err := svc.CreateContract(ctx, writer, contractInput(1000, ptr(1)))
	require.NoError(t, err)
	require.InDelta(t, 1000, repo.state.lines[1].engaged, 1e-9)

	in := invoiceInput(300, false, ptr(1))
	in.ContractID = &c1.ID
	i1, err := svc.CreateInvoice(ctx, writer, in)
	require.NoError(t, err)
	require.InDelta(t, 300, repo.state.lines[1].invoiced, 1e-9)

	in.IsCredit = true
	_, err = svc.UpdateInvoice(ctx, writer, i1.ID, in)
	require.NoError(t, err)
	require.InDelta(t, -300, repo.state.lines[1].invoiced, 1e-9)

	// The contract cannot go while its invoice lives.
	require.ErrorIs(t, svc.DeleteContract(ctx, writer, c1.ID), shared.ErrConflict)

	require.NoError(t, svc.DeleteInvoice(ctx, writer, i1.ID))
	require.InDelta(t, 0, repo.state.lines[1].invoiced, 1e-9)

	require.NoError(t, svc.DeleteContract(ctx, writer, c1.ID))
	require.InDelta(t, 0, repo.state.lines[1].engaged, 1e-9)
	requireConsistent(t, repo)
}

func TestViewerCannotMutate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, viewer.OrgID)
	svc := newTestService(repo)

	_, err := svc.CreateContract(context.Background(), viewer, contractInput(100, ptr(1)))
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.CreateInvoice(context.Background(), viewer, invoiceInput(100, false, ptr(1)))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(100, ptr(1)))
	require.NoError(t, err)

	intruder := shared.Identity{ActorID: 9, OrgID: 99, Role: shared.RoleUser}
	_, err = svc.UpdateContract(context.Background(), intruder, c.ID, contractInput(100, nil))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.InDelta(t, 100, repo.state.lines[1].engaged, 1e-9)
}

func TestMissingBudgetLineRejectedBeforeAnyWrite(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.CreateContract(context.Background(), writer, contractInput(100, ptr(42)))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.state.contracts)
}

func TestValidationRejectsNonPositiveAmounts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.CreateContract(context.Background(), writer, contractInput(0, nil))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateInvoice(context.Background(), writer, invoiceInput(-5, false, nil))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuditEntriesCommitWithMutation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine(1, writer.OrgID)
	svc := newTestService(repo)

	c, err := svc.CreateContract(context.Background(), writer, contractInput(100, ptr(1)))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteContract(context.Background(), writer, c.ID))

	require.Len(t, repo.state.audits, 2)
	require.Equal(t, audit.ActionCreate, repo.state.audits[0].Action)
	require.Equal(t, audit.ActionDelete, repo.state.audits[1].Action)
	require.Equal(t, "contract", repo.state.audits[0].Entity)

	// A rolled-back mutation must not leave an audit entry behind.
	intruder := shared.Identity{ActorID: 9, OrgID: 99, Role: shared.RoleUser}
	_, err = svc.UpdateContract(context.Background(), intruder, c.ID, contractInput(100, nil))
	require.Error(t, err)
	require.Len(t, repo.state.audits, 2)
}
