package budget

import (
	"context"

	"github.com/budgeo/budgeo/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	GetLine(ctx context.Context, orgID, id int64) (Line, error)
	ListLines(ctx context.Context, orgID int64) ([]Line, error)
	CreateLine(ctx context.Context, orgID int64, in CreateLineInput) (Line, error)
	UpdateLine(ctx context.Context, orgID, id int64, in UpdateLineInput) (Line, error)
	CountDocuments(ctx context.Context, orgID, lineID int64) (int, int, error)
	DeleteLine(ctx context.Context, orgID, id int64) error
	ListYears(ctx context.Context, orgID, lineID int64) ([]YearlyBudget, error)
}

// Service exposes budget line management.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the budget service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns one line.
func (s *Service) Get(ctx context.Context, id shared.Identity, lineID int64) (Line, error) {
	return s.repo.GetLine(ctx, id.OrgID, lineID)
}

// List returns all lines of the caller's organization.
func (s *Service) List(ctx context.Context, id shared.Identity) ([]Line, error) {
	return s.repo.ListLines(ctx, id.OrgID)
}

// Years returns the yearly breakdown of a line.
func (s *Service) Years(ctx context.Context, id shared.Identity, lineID int64) ([]YearlyBudget, error) {
	if _, err := s.repo.GetLine(ctx, id.OrgID, lineID); err != nil {
		return nil, err
	}
	return s.repo.ListYears(ctx, id.OrgID, lineID)
}

// Create inserts a new line with zeroed counters.
func (s *Service) Create(ctx context.Context, id shared.Identity, in CreateLineInput) (Line, error) {
	if !id.CanWrite() {
		return Line{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	return s.repo.CreateLine(ctx, id.OrgID, in)
}

// Update rewrites the editable fields; counters are untouchable here.
func (s *Service) Update(ctx context.Context, id shared.Identity, lineID int64, in UpdateLineInput) (Line, error) {
	if !id.CanWrite() {
		return Line{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Line{}, err
	}
	return s.repo.UpdateLine(ctx, id.OrgID, lineID, in)
}

// Delete removes a line once it owns no documents.
func (s *Service) Delete(ctx context.Context, id shared.Identity, lineID int64) error {
	if !id.CanWrite() {
		return shared.ErrForbidden
	}
	contracts, invoices, err := s.repo.CountDocuments(ctx, id.OrgID, lineID)
	if err != nil {
		return err
	}
	if contracts > 0 || invoices > 0 {
		return shared.Conflictf("budget line has %d contracts and %d invoices", contracts, invoices)
	}
	return s.repo.DeleteLine(ctx, id.OrgID, lineID)
}
