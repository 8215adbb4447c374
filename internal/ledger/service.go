package ledger

import (
	"context"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetContract(ctx context.Context, orgID, id int64) (Contract, error)
	ListContracts(ctx context.Context, orgID int64) ([]Contract, error)
	GetInvoice(ctx context.Context, orgID, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, orgID int64, filter InvoiceFilter) ([]Invoice, error)
}

// MutationObserver counts committed mutations, typically Prometheus backed.
type MutationObserver interface {
	ObserveLedgerMutation(entity, action string)
}

// CacheInvalidator is notified after every committed mutation so derived
// report caches can drop stale figures.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, orgID int64)
}

// Service is the ledger mutator. Every contract and invoice mutation goes
// through here: the document write, the aggregate delta and the audit entry
// are applied in one transaction. A direct write to amount, credit flag or
// line assignment anywhere else would silently corrupt the counters, which
// is why the repository exposes the increments only through TxRepository.
type Service struct {
	repo    RepositoryPort
	metrics MutationObserver
	cache   CacheInvalidator
}

// NewService constructs the mutator.
func NewService(repo RepositoryPort, metrics MutationObserver, cache CacheInvalidator) *Service {
	return &Service{repo: repo, metrics: metrics, cache: cache}
}

// GetContract returns one contract.
func (s *Service) GetContract(ctx context.Context, id shared.Identity, contractID int64) (Contract, error) {
	return s.repo.GetContract(ctx, id.OrgID, contractID)
}

// ListContracts returns the organization's contracts.
func (s *Service) ListContracts(ctx context.Context, id shared.Identity) ([]Contract, error) {
	return s.repo.ListContracts(ctx, id.OrgID)
}

// GetInvoice returns one invoice.
func (s *Service) GetInvoice(ctx context.Context, id shared.Identity, invoiceID int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id.OrgID, invoiceID)
}

// ListInvoices returns the organization's invoices.
func (s *Service) ListInvoices(ctx context.Context, id shared.Identity, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, id.OrgID, filter)
}

// CreateContract inserts a contract and adds its amount to the assigned
// line's engaged counter.
func (s *Service) CreateContract(ctx context.Context, id shared.Identity, in ContractInput) (Contract, error) {
	if !id.CanWrite() {
		return Contract{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Contract{}, err
	}
	contract := Contract{
		OrgID:        id.OrgID,
		Vendor:       in.Vendor,
		Reference:    in.Reference,
		Amount:       in.Amount,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		BudgetLineID: in.BudgetLineID,
		Note:         in.Note,
		YearlySplits: in.YearlySplits,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if contract.BudgetLineID != nil {
			ok, err := tx.LineExists(ctx, id.OrgID, *contract.BudgetLineID)
			if err != nil {
				return err
			}
			if !ok {
				return shared.ErrNotFound
			}
		}
		contractID, err := tx.InsertContract(ctx, contract)
		if err != nil {
			return err
		}
		contract.ID = contractID
		if err := tx.ReplaceContractSplits(ctx, contractID, contract.YearlySplits); err != nil {
			return err
		}
		if err := applyEngaged(ctx, tx, id.OrgID, nil, contract.BudgetLineID, 0, contract.Amount, nil, contract.YearlySplits); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionCreate,
			Entity:   "contract",
			EntityID: contractID,
			After:    contractMeta(contract),
		})
	})
	if err != nil {
		return Contract{}, err
	}
	s.observe(ctx, "contract", "create", id.OrgID)
	return contract, nil
}

// UpdateContract applies the edit and the resulting engaged deltas. When the
// line assignment changed, the old amount leaves the old line and the new
// amount lands on the new line, inside the same transaction.
func (s *Service) UpdateContract(ctx context.Context, id shared.Identity, contractID int64, in ContractInput) (Contract, error) {
	if !id.CanWrite() {
		return Contract{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Contract{}, err
	}
	var updated Contract
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetContractForUpdate(ctx, id.OrgID, contractID)
		if err != nil {
			return err
		}
		if in.BudgetLineID != nil {
			ok, err := tx.LineExists(ctx, id.OrgID, *in.BudgetLineID)
			if err != nil {
				return err
			}
			if !ok {
				return shared.ErrNotFound
			}
		}
		updated = Contract{
			ID:           old.ID,
			OrgID:        old.OrgID,
			Vendor:       in.Vendor,
			Reference:    in.Reference,
			Amount:       in.Amount,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			BudgetLineID: in.BudgetLineID,
			Note:         in.Note,
			YearlySplits: in.YearlySplits,
			CreatedAt:    old.CreatedAt,
		}
		if err := tx.UpdateContract(ctx, updated); err != nil {
			return err
		}
		if err := tx.ReplaceContractSplits(ctx, old.ID, updated.YearlySplits); err != nil {
			return err
		}
		if err := applyEngaged(ctx, tx, id.OrgID, old.BudgetLineID, updated.BudgetLineID, old.Amount, updated.Amount, old.YearlySplits, updated.YearlySplits); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionUpdate,
			Entity:   "contract",
			EntityID: old.ID,
			Before:   contractMeta(old),
			After:    contractMeta(updated),
		})
	})
	if err != nil {
		return Contract{}, err
	}
	s.observe(ctx, "contract", "update", id.OrgID)
	return updated, nil
}

// DeleteContract removes a contract after taking its amount back off the
// line. A contract still owning invoices cannot be deleted; that would
// orphan financial history.
func (s *Service) DeleteContract(ctx context.Context, id shared.Identity, contractID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetContractForUpdate(ctx, id.OrgID, contractID)
		if err != nil {
			return err
		}
		linked, err := tx.CountInvoicesByContract(ctx, id.OrgID, contractID)
		if err != nil {
			return err
		}
		if linked > 0 {
			return shared.Conflictf("contract has %d linked invoices", linked)
		}
		if err := applyEngaged(ctx, tx, id.OrgID, old.BudgetLineID, nil, old.Amount, 0, old.YearlySplits, nil); err != nil {
			return err
		}
		if err := tx.DeleteContract(ctx, id.OrgID, contractID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionDelete,
			Entity:   "contract",
			EntityID: contractID,
			Before:   contractMeta(old),
		})
	})
	if err != nil {
		return err
	}
	s.observe(ctx, "contract", "delete", id.OrgID)
	return nil
}

// CreateInvoice inserts an invoice and applies its signed amount to the
// assigned line's invoiced counter.
func (s *Service) CreateInvoice(ctx context.Context, id shared.Identity, in InvoiceInput) (Invoice, error) {
	if !id.CanWrite() {
		return Invoice{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	invoice := Invoice{
		OrgID:        id.OrgID,
		Vendor:       in.Vendor,
		Reference:    in.Reference,
		Amount:       in.Amount,
		IsCredit:     in.IsCredit,
		ContractID:   in.ContractID,
		BudgetLineID: in.BudgetLineID,
		InvoiceDate:  in.InvoiceDate,
		InvoiceYear:  in.InvoiceDate.Year(),
		Status:       in.Status,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.checkInvoiceRefs(ctx, tx, id.OrgID, invoice); err != nil {
			return err
		}
		invoiceID, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = invoiceID
		if err := applyInvoiced(ctx, tx, id.OrgID, nil, invoice.BudgetLineID, 0, invoice.SignedAmount(), 0, invoice.InvoiceYear); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionCreate,
			Entity:   "invoice",
			EntityID: invoiceID,
			After:    invoiceMeta(invoice),
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe(ctx, "invoice", "create", id.OrgID)
	return invoice, nil
}

// UpdateInvoice reverses the old signed contribution from the old line and
// applies the new signed contribution to the new line. Amount, credit flag
// and line assignment are three independent axes; going through signed
// amounts covers every combination.
func (s *Service) UpdateInvoice(ctx context.Context, id shared.Identity, invoiceID int64, in InvoiceInput) (Invoice, error) {
	if !id.CanWrite() {
		return Invoice{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetInvoiceForUpdate(ctx, id.OrgID, invoiceID)
		if err != nil {
			return err
		}
		updated = Invoice{
			ID:                old.ID,
			OrgID:             old.OrgID,
			Vendor:            in.Vendor,
			Reference:         in.Reference,
			Amount:            in.Amount,
			IsCredit:          in.IsCredit,
			ContractID:        in.ContractID,
			BudgetLineID:      in.BudgetLineID,
			InvoiceDate:       in.InvoiceDate,
			InvoiceYear:       in.InvoiceDate.Year(),
			Status:            in.Status,
			ForecastExpenseID: old.ForecastExpenseID,
			CreatedAt:         old.CreatedAt,
		}
		if err := s.checkInvoiceRefs(ctx, tx, id.OrgID, updated); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, updated); err != nil {
			return err
		}
		if err := applyInvoiced(ctx, tx, id.OrgID, old.BudgetLineID, updated.BudgetLineID, old.SignedAmount(), updated.SignedAmount(), old.InvoiceYear, updated.InvoiceYear); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionUpdate,
			Entity:   "invoice",
			EntityID: old.ID,
			Before:   invoiceMeta(old),
			After:    invoiceMeta(updated),
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	s.observe(ctx, "invoice", "update", id.OrgID)
	return updated, nil
}

// DeleteInvoice reverses the signed contribution and removes the document.
func (s *Service) DeleteInvoice(ctx context.Context, id shared.Identity, invoiceID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetInvoiceForUpdate(ctx, id.OrgID, invoiceID)
		if err != nil {
			return err
		}
		if err := applyInvoiced(ctx, tx, id.OrgID, old.BudgetLineID, nil, old.SignedAmount(), 0, old.InvoiceYear, 0); err != nil {
			return err
		}
		if err := tx.DeleteInvoice(ctx, id.OrgID, invoiceID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionDelete,
			Entity:   "invoice",
			EntityID: invoiceID,
			Before:   invoiceMeta(old),
		})
	})
	if err != nil {
		return err
	}
	s.observe(ctx, "invoice", "delete", id.OrgID)
	return nil
}

func (s *Service) checkInvoiceRefs(ctx context.Context, tx TxRepository, orgID int64, inv Invoice) error {
	if inv.BudgetLineID != nil {
		ok, err := tx.LineExists(ctx, orgID, *inv.BudgetLineID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrNotFound
		}
	}
	if inv.ContractID != nil {
		ok, err := tx.ContractExists(ctx, orgID, *inv.ContractID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrNotFound
		}
	}
	return nil
}

// applyEngaged moves a contract's contribution between lines. When old and
// new line coincide, a single net delta is written; otherwise the old amount
// is reversed on the old line and the new amount applied on the new line.
// Yearly splits follow as reverse-all/apply-all on the respective lines.
func applyEngaged(ctx context.Context, tx TxRepository, orgID int64, oldLine, newLine *int64, oldAmount, newAmount float64, oldSplits, newSplits []YearlySplit) error {
	if sameLine(oldLine, newLine) {
		if oldLine == nil {
			return nil
		}
		if delta := newAmount - oldAmount; delta != 0 {
			if err := tx.IncrementEngaged(ctx, orgID, *oldLine, delta); err != nil {
				return err
			}
		}
		for year, delta := range splitDeltas(oldSplits, newSplits) {
			if err := tx.IncrementYearEngaged(ctx, orgID, *oldLine, year, delta); err != nil {
				return err
			}
		}
		return nil
	}
	if oldLine != nil {
		if err := tx.IncrementEngaged(ctx, orgID, *oldLine, -oldAmount); err != nil {
			return err
		}
		for _, s := range oldSplits {
			if s.Amount == 0 {
				continue
			}
			if err := tx.IncrementYearEngaged(ctx, orgID, *oldLine, s.Year, -s.Amount); err != nil {
				return err
			}
		}
	}
	if newLine != nil {
		if err := tx.IncrementEngaged(ctx, orgID, *newLine, newAmount); err != nil {
			return err
		}
		for _, s := range newSplits {
			if s.Amount == 0 {
				continue
			}
			if err := tx.IncrementYearEngaged(ctx, orgID, *newLine, s.Year, s.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyInvoiced is the invoice counterpart of applyEngaged, on signed
// amounts and per-invoice-year rows.
func applyInvoiced(ctx context.Context, tx TxRepository, orgID int64, oldLine, newLine *int64, oldSigned, newSigned float64, oldYear, newYear int) error {
	if sameLine(oldLine, newLine) {
		if oldLine == nil {
			return nil
		}
		if oldYear == newYear {
			if delta := newSigned - oldSigned; delta != 0 {
				if err := tx.IncrementInvoiced(ctx, orgID, *oldLine, delta); err != nil {
					return err
				}
				if err := tx.IncrementYearInvoiced(ctx, orgID, *oldLine, newYear, delta); err != nil {
					return err
				}
			}
			return nil
		}
		// Same line, different effective year: net delta on the line, full
		// reversal and reapply on the yearly rows.
		if delta := newSigned - oldSigned; delta != 0 {
			if err := tx.IncrementInvoiced(ctx, orgID, *oldLine, delta); err != nil {
				return err
			}
		}
		if oldSigned != 0 {
			if err := tx.IncrementYearInvoiced(ctx, orgID, *oldLine, oldYear, -oldSigned); err != nil {
				return err
			}
		}
		if newSigned != 0 {
			if err := tx.IncrementYearInvoiced(ctx, orgID, *oldLine, newYear, newSigned); err != nil {
				return err
			}
		}
		return nil
	}
	if oldLine != nil && oldSigned != 0 {
		if err := tx.IncrementInvoiced(ctx, orgID, *oldLine, -oldSigned); err != nil {
			return err
		}
		if err := tx.IncrementYearInvoiced(ctx, orgID, *oldLine, oldYear, -oldSigned); err != nil {
			return err
		}
	}
	if newLine != nil && newSigned != 0 {
		if err := tx.IncrementInvoiced(ctx, orgID, *newLine, newSigned); err != nil {
			return err
		}
		if err := tx.IncrementYearInvoiced(ctx, orgID, *newLine, newYear, newSigned); err != nil {
			return err
		}
	}
	return nil
}

func sameLine(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// splitDeltas computes the per-year net change between two split sets.
func splitDeltas(oldSplits, newSplits []YearlySplit) map[int]float64 {
	deltas := make(map[int]float64)
	for _, s := range oldSplits {
		deltas[s.Year] -= s.Amount
	}
	for _, s := range newSplits {
		deltas[s.Year] += s.Amount
	}
	for year, delta := range deltas {
		if delta == 0 {
			delete(deltas, year)
		}
	}
	return deltas
}

func (s *Service) observe(ctx context.Context, entity, action string, orgID int64) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerMutation(entity, action)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, orgID)
	}
}

func contractMeta(c Contract) map[string]any {
	meta := map[string]any{
		"vendor":    c.Vendor,
		"reference": c.Reference,
		"amount":    c.Amount,
		"end_date":  c.EndDate.Format("2006-01-02"),
	}
	if c.BudgetLineID != nil {
		meta["budget_line_id"] = *c.BudgetLineID
	}
	return meta
}

func invoiceMeta(inv Invoice) map[string]any {
	meta := map[string]any{
		"vendor":       inv.Vendor,
		"reference":    inv.Reference,
		"amount":       inv.Amount,
		"is_credit":    inv.IsCredit,
		"invoice_year": inv.InvoiceYear,
	}
	if inv.BudgetLineID != nil {
		meta["budget_line_id"] = *inv.BudgetLineID
	}
	if inv.ContractID != nil {
		meta["contract_id"] = *inv.ContractID
	}
	return meta
}
