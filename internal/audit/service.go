package audit

import (
	"context"
	"fmt"

	"github.com/budgeo/budgeo/internal/shared"
)

// Repository describes the read side used by Service.
type Repository interface {
	Timeline(ctx context.Context, orgID int64, filters TimelineFilters) ([]Entry, int, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry           `json:"rows"`
	Paging shared.Pagination `json:"paging"`
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService builds a new audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches audit entries with paging.
func (s *Service) Timeline(ctx context.Context, id shared.Identity, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	if filters.PageSize > 50 {
		filters.PageSize = 50
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	rows, total, err := s.repo.Timeline(ctx, id.OrgID, filters)
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: rows, Paging: shared.NewPagination(filters.Page, filters.PageSize, total)}, nil
}

const exportPageSize = 500

// Export returns the whole filtered timeline, newest first. The timeline
// page clamp does not apply; pages are pulled until the repository runs dry.
func (s *Service) Export(ctx context.Context, id shared.Identity, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	filters.Page = 1
	filters.PageSize = exportPageSize
	var all []Entry
	for {
		rows, total, err := s.repo.Timeline(ctx, id.OrgID, filters)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < filters.PageSize || len(all) >= total {
			return all, nil
		}
		filters.Page++
	}
}
