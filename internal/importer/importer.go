// Package importer replays batches of already-parsed contract and invoice
// rows through the ledger mutator. Every row takes the exact same path as an
// interactive mutation, so the aggregate counters stay consistent no matter
// how the documents arrive.
package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/budgeo/budgeo/internal/ledger"
	"github.com/budgeo/budgeo/internal/shared"
)

// Batch is one import request. Key deduplicates retried submissions.
type Batch struct {
	Key       string
	Contracts []ledger.ContractInput
	Invoices  []ledger.InvoiceInput
}

// RowError reports one failed row.
type RowError struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Summary is the per-batch outcome.
type Summary struct {
	BatchID   uuid.UUID  `json:"batch_id"`
	Created   int        `json:"created"`
	Failed    int        `json:"failed"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

// Mutator is the slice of the ledger service the importer drives.
type Mutator interface {
	CreateContract(ctx context.Context, id shared.Identity, in ledger.ContractInput) (ledger.Contract, error)
	CreateInvoice(ctx context.Context, id shared.Identity, in ledger.InvoiceInput) (ledger.Invoice, error)
}

// Service runs import batches.
type Service struct {
	mutator Mutator
	keys    *shared.IdempotencyStore
	logger  *slog.Logger
}

// NewService constructs the importer.
func NewService(mutator Mutator, keys *shared.IdempotencyStore, logger *slog.Logger) *Service {
	return &Service{mutator: mutator, keys: keys, logger: logger}
}

// Run replays the batch row by row. Rows fail independently; a bad row never
// aborts the batch, it lands in the summary instead.
func (s *Service) Run(ctx context.Context, id shared.Identity, batch Batch) (Summary, error) {
	// batch replay can create hundreds of documents in one call; reserved
	// for organization admins.
	if !id.IsAdmin() {
		return Summary{}, shared.ErrForbidden
	}
	if batch.Key != "" && s.keys != nil {
		if err := s.keys.CheckAndInsert(ctx, id.OrgID, batch.Key, "importer"); err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{BatchID: uuid.New()}
	for i, in := range batch.Contracts {
		if _, err := s.mutator.CreateContract(ctx, id, in); err != nil {
			summary.Failed++
			summary.RowErrors = append(summary.RowErrors, RowError{Kind: "contract", Index: i, Error: err.Error()})
			continue
		}
		summary.Created++
	}
	for i, in := range batch.Invoices {
		if _, err := s.mutator.CreateInvoice(ctx, id, in); err != nil {
			summary.Failed++
			summary.RowErrors = append(summary.RowErrors, RowError{Kind: "invoice", Index: i, Error: err.Error()})
			continue
		}
		summary.Created++
	}

	s.logger.Info("import batch finished",
		slog.String("batch_id", summary.BatchID.String()),
		slog.Int64("org_id", id.OrgID),
		slog.Int("created", summary.Created),
		slog.Int("failed", summary.Failed))
	if summary.Failed > 0 && summary.Created == 0 && batch.Key != "" && s.keys != nil {
		// a fully failed batch may be retried under the same key
		if err := s.keys.Release(ctx, id.OrgID, batch.Key); err != nil {
			s.logger.Warn("release import key", slog.Any("error", err))
		}
	}
	return summary, nil
}

// String implements fmt.Stringer for log lines.
func (e RowError) String() string {
	return fmt.Sprintf("%s[%d]: %s", e.Kind, e.Index, e.Error)
}
