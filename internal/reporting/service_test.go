package reporting

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/budgeo/budgeo/internal/shared"
)

type fakeRepo struct {
	years []YearTotals
	calls int
}

func (r *fakeRepo) TotalsByYear(ctx context.Context, orgID int64) ([]YearTotals, error) {
	r.calls++
	return r.years, nil
}

func (r *fakeRepo) TotalsByNature(ctx context.Context, orgID int64) ([]Totals, error) {
	return nil, nil
}

func (r *fakeRepo) TotalsByDomain(ctx context.Context, orgID int64) ([]Totals, error) {
	return nil, nil
}

func (r *fakeRepo) ForecastByYear(ctx context.Context, orgID int64) ([]ForecastOverview, error) {
	return nil, nil
}

func newTestService(t *testing.T, repo *fakeRepo) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, client, time.Minute, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
}

var reader = shared.Identity{ActorID: 1, OrgID: 10, Role: shared.RoleViewer}

func TestByYearIsCached(t *testing.T) {
	repo := &fakeRepo{years: []YearTotals{{Year: 2025, Budget: 1000, Engaged: 400, Invoiced: 250, Available: 600}}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.ByYear(ctx, reader)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, repo.calls)

	second, err := svc.ByYear(ctx, reader)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.calls, "second read must come from the cache")
}

func TestInvalidateBustsTheCache(t *testing.T) {
	repo := &fakeRepo{years: []YearTotals{{Year: 2025, Budget: 1000}}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.ByYear(ctx, reader)
	require.NoError(t, err)

	repo.years = []YearTotals{{Year: 2025, Budget: 1500}}
	svc.Invalidate(ctx, reader.OrgID)

	totals, err := svc.ByYear(ctx, reader)
	require.NoError(t, err)
	require.InDelta(t, 1500, totals[0].Budget, 1e-9)
	require.Equal(t, 2, repo.calls)
}

func TestInvalidateIsOrgScoped(t *testing.T) {
	repo := &fakeRepo{years: []YearTotals{{Year: 2025, Budget: 1000}}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.ByYear(ctx, reader)
	require.NoError(t, err)

	svc.Invalidate(ctx, 999)

	_, err = svc.ByYear(ctx, reader)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls, "another org's mutation must not evict this org's reports")
}

func TestCSVUsesFrenchEURFormat(t *testing.T) {
	var sb strings.Builder
	err := WriteYearTotalsCSV(&sb, []YearTotals{{Year: 2025, Budget: 1234.5, Engaged: 400, Invoiced: 250, Available: 834.5}})
	require.NoError(t, err)
	out := sb.String()
	require.Contains(t, out, "year;budget;engaged;invoiced;available")
	require.Contains(t, out, "2025")
	require.Contains(t, out, "€")
	require.Contains(t, out, ",50", "decimal comma expected")
}

func TestGroupedCSVCarriesTheGroupHeader(t *testing.T) {
	var sb strings.Builder
	err := WriteTotalsCSV(&sb, "nature", []Totals{
		{Key: "Fonctionnement", Budget: 2000, Engaged: 1500, Invoiced: 900, Available: 500},
	})
	require.NoError(t, err)
	out := sb.String()
	require.Contains(t, out, "nature;budget;engaged;invoiced;available")
	require.Contains(t, out, "Fonctionnement")
	require.Contains(t, out, "€")
}
