package audit

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes the audit timeline endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.timeline)
	r.Get("/export", h.exportCSV)
}

func parseFilters(r *http.Request) TimelineFilters {
	q := r.URL.Query()
	filters := TimelineFilters{
		Entity: q.Get("entity"),
		Action: Action(q.Get("action")),
	}
	filters.ActorID, _ = strconv.ParseInt(q.Get("actor_id"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if from := q.Get("from"); from != "" {
		filters.From, _ = time.Parse("2006-01-02", from)
	}
	if to := q.Get("to"); to != "" {
		filters.To, _ = time.Parse("2006-01-02", to)
	}
	return filters
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	result, err := h.svc.Timeline(r.Context(), id, parseFilters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	entries, err := h.svc.Export(r.Context(), id, parseFilters(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"occurred_at", "actor_id", "action", "entity", "entity_id"})
	for _, e := range entries {
		_ = writer.Write([]string{
			e.OccurredAt.Format(time.RFC3339),
			strconv.FormatInt(e.ActorID, 10),
			string(e.Action),
			e.Entity,
			strconv.FormatInt(e.EntityID, 10),
		})
	}
	writer.Flush()
}
