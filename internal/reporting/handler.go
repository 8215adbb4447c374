package reporting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes the reporting endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the reporting endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/years", h.byYear)
	r.Get("/natures", h.byNature)
	r.Get("/domains", h.byDomain)
	r.Get("/forecast", h.forecast)
	r.Get("/years/export", h.exportYears)
	r.Get("/natures/export", h.exportNatures)
	r.Get("/domains/export", h.exportDomains)
}

func (h *Handler) byYear(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByYear(r.Context(), id)
	if err != nil {
		h.logger.Error("report by year", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) byNature(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByNature(r.Context(), id)
	if err != nil {
		h.logger.Error("report by nature", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) byDomain(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByDomain(r.Context(), id)
	if err != nil {
		h.logger.Error("report by domain", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	overview, err := h.svc.Forecast(r.Context(), id)
	if err != nil {
		h.logger.Error("report forecast", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) exportYears(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByYear(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="budget-years.csv"`)
	if err := WriteYearTotalsCSV(w, totals); err != nil {
		h.logger.Error("export years csv", slog.Any("error", err))
	}
}

func (h *Handler) exportNatures(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByNature(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="budget-natures.csv"`)
	if err := WriteTotalsCSV(w, "nature", totals); err != nil {
		h.logger.Error("export natures csv", slog.Any("error", err))
	}
}

func (h *Handler) exportDomains(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	totals, err := h.svc.ByDomain(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="budget-domains.csv"`)
	if err := WriteTotalsCSV(w, "domain", totals); err != nil {
		h.logger.Error("export domains csv", slog.Any("error", err))
	}
}
