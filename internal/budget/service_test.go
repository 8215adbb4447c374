package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/budgeo/budgeo/internal/shared"
)

type memoryRepo struct {
	lines     map[int64]Line
	years     map[int64][]YearlyBudget
	contracts map[int64]int
	invoices  map[int64]int
	nextID    int64

	// restrictDelete mimics the FK constraint firing for a document that
	// appeared after the count was taken.
	restrictDelete bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lines:     make(map[int64]Line),
		years:     make(map[int64][]YearlyBudget),
		contracts: make(map[int64]int),
		invoices:  make(map[int64]int),
	}
}

func (r *memoryRepo) GetLine(ctx context.Context, orgID, id int64) (Line, error) {
	l, ok := r.lines[id]
	if !ok || l.OrgID != orgID {
		return Line{}, shared.ErrNotFound
	}
	return l, nil
}

func (r *memoryRepo) ListLines(ctx context.Context, orgID int64) ([]Line, error) {
	var out []Line
	for _, l := range r.lines {
		if l.OrgID == orgID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateLine(ctx context.Context, orgID int64, in CreateLineInput) (Line, error) {
	r.nextID++
	l := Line{
		ID:        r.nextID,
		OrgID:     orgID,
		Label:     in.Label,
		Nature:    in.Nature,
		TypeRef:   in.TypeRef,
		DomainRef: in.DomainRef,
		UnitRef:   in.UnitRef,
		Budget:    in.Budget,
	}
	r.lines[l.ID] = l
	for _, y := range in.Years {
		r.years[l.ID] = append(r.years[l.ID], YearlyBudget{
			OrgID: orgID, BudgetLineID: l.ID, Year: y.Year, Budget: y.Budget,
		})
	}
	return l, nil
}

func (r *memoryRepo) UpdateLine(ctx context.Context, orgID, id int64, in UpdateLineInput) (Line, error) {
	l, err := r.GetLine(ctx, orgID, id)
	if err != nil {
		return Line{}, err
	}
	l.Label, l.Nature, l.TypeRef, l.DomainRef, l.UnitRef, l.Budget = in.Label, in.Nature, in.TypeRef, in.DomainRef, in.UnitRef, in.Budget
	r.lines[id] = l
	return l, nil
}

func (r *memoryRepo) CountDocuments(ctx context.Context, orgID, lineID int64) (int, int, error) {
	return r.contracts[lineID], r.invoices[lineID], nil
}

func (r *memoryRepo) DeleteLine(ctx context.Context, orgID, id int64) error {
	if _, err := r.GetLine(ctx, orgID, id); err != nil {
		return err
	}
	if r.restrictDelete {
		return shared.Conflictf("budget line still has documents")
	}
	delete(r.lines, id)
	return nil
}

func (r *memoryRepo) ListYears(ctx context.Context, orgID, lineID int64) ([]YearlyBudget, error) {
	return r.years[lineID], nil
}

var (
	writer = shared.Identity{ActorID: 1, OrgID: 10, Role: shared.RoleUser}
	viewer = shared.Identity{ActorID: 2, OrgID: 10, Role: shared.RoleViewer}
)

func lineInput() CreateLineInput {
	return CreateLineInput{
		Label:     "Serveurs",
		Nature:    NatureInvestissement,
		DomainRef: "Infrastructure",
		Budget:    10000,
		Years:     []YearBudgetInput{{Year: 2025, Budget: 6000}, {Year: 2026, Budget: 4000}},
	}
}

func TestCreateLineStartsWithZeroCounters(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	line, err := svc.Create(context.Background(), writer, lineInput())
	require.NoError(t, err)
	require.Zero(t, line.Engaged)
	require.Zero(t, line.Invoiced)

	years, err := svc.Years(context.Background(), writer, line.ID)
	require.NoError(t, err)
	require.Len(t, years, 2)
}

func TestCreateLineValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())

	in := lineInput()
	in.Label = ""
	_, err := svc.Create(context.Background(), writer, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = lineInput()
	in.Nature = "Autre"
	_, err = svc.Create(context.Background(), writer, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteLineBlockedByDocuments(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	line, err := svc.Create(context.Background(), writer, lineInput())
	require.NoError(t, err)

	repo.contracts[line.ID] = 2
	repo.invoices[line.ID] = 1

	err = svc.Delete(context.Background(), writer, line.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, err.Error(), "2 contracts")

	repo.contracts[line.ID] = 0
	repo.invoices[line.ID] = 0
	require.NoError(t, svc.Delete(context.Background(), writer, line.ID))
}

func TestDeleteLineRacingDocumentIsConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	line, err := svc.Create(context.Background(), writer, lineInput())
	require.NoError(t, err)

	// counts say zero, but a contract landed before the delete committed
	repo.restrictDelete = true
	err = svc.Delete(context.Background(), writer, line.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestViewerCannotManageLines(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), viewer, lineInput())
	require.ErrorIs(t, err, shared.ErrForbidden)

	err = svc.Delete(context.Background(), viewer, 1)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCrossTenantLineIsNotFound(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	line, err := svc.Create(context.Background(), writer, lineInput())
	require.NoError(t, err)

	intruder := shared.Identity{ActorID: 9, OrgID: 99, Role: shared.RoleAdmin}
	_, err = svc.Get(context.Background(), intruder, line.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
