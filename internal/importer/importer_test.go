package importer

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/budgeo/budgeo/internal/ledger"
	"github.com/budgeo/budgeo/internal/shared"
)

type fakeMutator struct {
	contracts []ledger.ContractInput
	invoices  []ledger.InvoiceInput
}

func (m *fakeMutator) CreateContract(ctx context.Context, id shared.Identity, in ledger.ContractInput) (ledger.Contract, error) {
	if err := in.Validate(); err != nil {
		return ledger.Contract{}, err
	}
	m.contracts = append(m.contracts, in)
	return ledger.Contract{ID: int64(len(m.contracts))}, nil
}

func (m *fakeMutator) CreateInvoice(ctx context.Context, id shared.Identity, in ledger.InvoiceInput) (ledger.Invoice, error) {
	if err := in.Validate(); err != nil {
		return ledger.Invoice{}, err
	}
	m.invoices = append(m.invoices, in)
	return ledger.Invoice{ID: int64(len(m.invoices))}, nil
}

var admin = shared.Identity{ActorID: 1, OrgID: 10, Role: shared.RoleAdmin}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestRunCollectsRowErrorsWithoutAborting(t *testing.T) {
	mutator := &fakeMutator{}
	svc := NewService(mutator, nil, testLogger())

	batch := Batch{
		Contracts: []ledger.ContractInput{
			{Vendor: "ACME", Amount: 1000, StartDate: time.Now(), EndDate: time.Now().AddDate(1, 0, 0)},
			{Vendor: "", Amount: 500}, // invalid row
		},
		Invoices: []ledger.InvoiceInput{
			{Vendor: "ACME", Amount: 300, InvoiceDate: time.Now()},
		},
	}

	summary, err := svc.Run(context.Background(), admin, batch)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Created)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.RowErrors, 1)
	require.Equal(t, "contract", summary.RowErrors[0].Kind)
	require.Equal(t, 1, summary.RowErrors[0].Index)
	require.NotEqual(t, "", summary.BatchID.String())

	require.Len(t, mutator.contracts, 1)
	require.Len(t, mutator.invoices, 1)
}

func TestRunRequiresAdmin(t *testing.T) {
	svc := NewService(&fakeMutator{}, nil, testLogger())

	viewer := shared.Identity{ActorID: 2, OrgID: 10, Role: shared.RoleViewer}
	_, err := svc.Run(context.Background(), viewer, Batch{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	user := shared.Identity{ActorID: 3, OrgID: 10, Role: shared.RoleUser}
	_, err = svc.Run(context.Background(), user, Batch{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}
