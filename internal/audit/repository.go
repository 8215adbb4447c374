package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budgeo/budgeo/internal/shared"
)

// PGRepository reads audit entries from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the read repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Timeline returns a page of entries plus the unpaged total, newest first.
func (r *PGRepository) Timeline(ctx context.Context, orgID int64, filters TimelineFilters) ([]Entry, int, error) {
	var (
		conds = []string{"org_id = $1"}
		args  = []any{orgID}
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}
	if filters.Entity != "" {
		add("entity = ?", filters.Entity)
	}
	if filters.Action != "" {
		add("action = ?", string(filters.Action))
	}
	if filters.ActorID != 0 {
		add("actor_id = ?", filters.ActorID)
	}
	if !filters.From.IsZero() {
		add("occurred_at >= ?", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < ?", filters.To)
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.Pagination{Page: filters.Page, PerPage: filters.PageSize}
	limitArgs := append(append([]any{}, args...), filters.PageSize, page.Offset())
	query := `SELECT id, org_id, actor_id, action, entity, entity_id, before, after, occurred_at
		FROM audit_entries WHERE ` + where + ` ORDER BY occurred_at DESC, id DESC LIMIT ` +
		placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	rows, err := r.pool.Query(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			beforeRaw, afterRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &beforeRaw, &afterRaw, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		if len(beforeRaw) > 0 {
			_ = json.Unmarshal(beforeRaw, &e.Before)
		}
		if len(afterRaw) > 0 {
			_ = json.Unmarshal(afterRaw, &e.After)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
