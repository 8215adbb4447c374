package budget

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes budget line endpoints.
type Handler struct {
	svc      *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// Routes mounts the endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/years", h.years)
}

type lineRequest struct {
	Label     string  `json:"label" validate:"required"`
	Nature    string  `json:"nature" validate:"required,oneof=Investissement Fonctionnement"`
	TypeRef   string  `json:"type_ref"`
	DomainRef string  `json:"domain_ref"`
	UnitRef   *string `json:"unit_ref"`
	Budget    float64 `json:"budget" validate:"gte=0"`
	Years     []struct {
		Year   int     `json:"year" validate:"required"`
		Budget float64 `json:"budget" validate:"gte=0"`
	} `json:"years" validate:"dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lines, err := h.svc.List(r.Context(), id)
	if err != nil {
		h.logger.Error("list budget lines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid id"))
		return
	}
	line, err := h.svc.Get(r.Context(), id, lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) years(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid id"))
		return
	}
	years, err := h.svc.Years(r.Context(), id, lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, years)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	in := CreateLineInput{
		Label:     req.Label,
		Nature:    Nature(req.Nature),
		TypeRef:   req.TypeRef,
		DomainRef: req.DomainRef,
		UnitRef:   req.UnitRef,
		Budget:    req.Budget,
	}
	for _, y := range req.Years {
		in.Years = append(in.Years, YearBudgetInput{Year: y.Year, Budget: y.Budget})
	}
	line, err := h.svc.Create(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid id"))
		return
	}
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	line, err := h.svc.Update(r.Context(), id, lineID, UpdateLineInput{
		Label:     req.Label,
		Nature:    Nature(req.Nature),
		TypeRef:   req.TypeRef,
		DomainRef: req.DomainRef,
		UnitRef:   req.UnitRef,
		Budget:    req.Budget,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validationf("invalid id"))
		return
	}
	if err := h.svc.Delete(r.Context(), id, lineID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
