package orders

import (
	"context"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Get(ctx context.Context, orgID, id int64) (PurchaseOrder, error)
	List(ctx context.Context, orgID int64, status Status) ([]PurchaseOrder, error)
	Create(ctx context.Context, orgID int64, in Input) (PurchaseOrder, error)
	Update(ctx context.Context, orgID, id int64, in Input) (PurchaseOrder, error)
	Delete(ctx context.Context, orgID, id int64) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service manages purchase orders and their workflow.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns one purchase order.
func (s *Service) Get(ctx context.Context, id shared.Identity, poID int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id.OrgID, poID)
}

// List returns the purchase orders of the caller's organization.
func (s *Service) List(ctx context.Context, id shared.Identity, status Status) ([]PurchaseOrder, error) {
	if status != "" && !status.Valid() {
		return nil, shared.Validationf("unknown status %q", status)
	}
	return s.repo.List(ctx, id.OrgID, status)
}

// Create records a new purchase order. Every order starts in DRAFT.
func (s *Service) Create(ctx context.Context, id shared.Identity, in Input) (PurchaseOrder, error) {
	if !id.CanWrite() {
		return PurchaseOrder{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	return s.repo.Create(ctx, id.OrgID, in)
}

// Update rewrites the editable fields. Terminal orders are immutable.
func (s *Service) Update(ctx context.Context, id shared.Identity, poID int64, in Input) (PurchaseOrder, error) {
	if !id.CanWrite() {
		return PurchaseOrder{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	current, err := s.repo.Get(ctx, id.OrgID, poID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if current.Status.Terminal() {
		return PurchaseOrder{}, shared.Conflictf("purchase order is %s and can no longer be edited", current.Status)
	}
	return s.repo.Update(ctx, id.OrgID, poID, in)
}

// Delete removes a purchase order that never left DRAFT or was cancelled.
func (s *Service) Delete(ctx context.Context, id shared.Identity, poID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	current, err := s.repo.Get(ctx, id.OrgID, poID)
	if err != nil {
		return err
	}
	if current.Status != StatusDraft && current.Status != StatusCancelled {
		return shared.Conflictf("purchase order in status %s cannot be deleted", current.Status)
	}
	return s.repo.Delete(ctx, id.OrgID, poID)
}

// Transition advances the workflow. Forward skips are allowed, cancellation
// is allowed from any non-terminal state, and everything else conflicts.
func (s *Service) Transition(ctx context.Context, id shared.Identity, poID int64, to Status) (PurchaseOrder, error) {
	if !id.CanWrite() {
		return PurchaseOrder{}, shared.ErrForbidden
	}
	if !to.Valid() {
		return PurchaseOrder{}, shared.Validationf("unknown status %q", to)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id.OrgID, poID)
		if err != nil {
			return err
		}
		if current.Status == to {
			po = current
			return nil
		}
		if !CanTransition(current.Status, to) {
			return shared.Conflictf("cannot move purchase order from %s to %s", current.Status, to)
		}
		if err := tx.SetStatus(ctx, id.OrgID, poID, to); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, audit.Entry{
			OrgID:    id.OrgID,
			ActorID:  id.ActorID,
			Action:   audit.ActionUpdate,
			Entity:   "purchase_order",
			EntityID: poID,
			Before:   map[string]any{"status": string(current.Status)},
			After:    map[string]any{"status": string(to)},
		}); err != nil {
			return err
		}
		po = current
		po.Status = to
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}
