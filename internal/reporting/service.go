package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/budgeo/budgeo/internal/shared"
)

// RepositoryPort is the aggregation surface the service depends on.
type RepositoryPort interface {
	TotalsByYear(ctx context.Context, orgID int64) ([]YearTotals, error)
	TotalsByNature(ctx context.Context, orgID int64) ([]Totals, error)
	TotalsByDomain(ctx context.Context, orgID int64) ([]Totals, error)
	ForecastByYear(ctx context.Context, orgID int64) ([]ForecastOverview, error)
}

// Service serves the reports through a short-lived redis cache. Keys carry a
// per-organization version; every committed ledger mutation bumps it, so a
// stale report is never served past the mutation that made it stale. The
// singleflight group collapses concurrent rebuilds of the same report.
type Service struct {
	repo   RepositoryPort
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs the reporting service.
func NewService(repo RepositoryPort, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{repo: repo, rdb: rdb, ttl: ttl, logger: logger}
}

// Invalidate bumps the organization's report version. Implements the cache
// invalidator the ledger mutator notifies after each commit.
func (s *Service) Invalidate(ctx context.Context, orgID int64) {
	if err := s.rdb.Incr(ctx, fmt.Sprintf("report:ver:%d", orgID)).Err(); err != nil {
		s.logger.Warn("bump report version", slog.Any("error", err))
	}
}

// ByYear returns the per-year totals of the caller's organization.
func (s *Service) ByYear(ctx context.Context, id shared.Identity) ([]YearTotals, error) {
	return cached(ctx, s, id.OrgID, "years", func() ([]YearTotals, error) {
		return s.repo.TotalsByYear(ctx, id.OrgID)
	})
}

// ByNature returns totals grouped by nature.
func (s *Service) ByNature(ctx context.Context, id shared.Identity) ([]Totals, error) {
	return cached(ctx, s, id.OrgID, "natures", func() ([]Totals, error) {
		return s.repo.TotalsByNature(ctx, id.OrgID)
	})
}

// ByDomain returns totals grouped by domain reference.
func (s *Service) ByDomain(ctx context.Context, id shared.Identity) ([]Totals, error) {
	return cached(ctx, s, id.OrgID, "domains", func() ([]Totals, error) {
		return s.repo.TotalsByDomain(ctx, id.OrgID)
	})
}

// Forecast returns the planned-vs-realized overview per year.
func (s *Service) Forecast(ctx context.Context, id shared.Identity) ([]ForecastOverview, error) {
	return cached(ctx, s, id.OrgID, "forecast", func() ([]ForecastOverview, error) {
		return s.repo.ForecastByYear(ctx, id.OrgID)
	})
}

func cached[T any](ctx context.Context, s *Service, orgID int64, name string, load func() (T, error)) (T, error) {
	var zero T
	ver, err := s.rdb.Get(ctx, fmt.Sprintf("report:ver:%d", orgID)).Int64()
	if err != nil && err != redis.Nil {
		// cache down, fall back to the database
		s.logger.Warn("report cache read", slog.Any("error", err))
		return load()
	}
	key := fmt.Sprintf("report:%d:v%d:%s", orgID, ver, name)

	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		out, err := load()
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(out); err == nil {
			if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
				s.logger.Warn("report cache write", slog.Any("error", err))
			}
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
