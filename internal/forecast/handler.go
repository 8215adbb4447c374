package forecast

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes the forecast hierarchy and linking endpoints.
type Handler struct {
	svc      *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// Routes mounts the forecast endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/lines", func(r chi.Router) {
		r.Get("/", h.listLines)
		r.Post("/", h.createLine)
		r.Get("/{id}", h.getLine)
		r.Put("/{id}", h.updateLine)
		r.Delete("/{id}", h.deleteLine)
		r.Get("/{id}/expenses", h.listExpenses)
	})
	r.Route("/expenses", func(r chi.Router) {
		r.Get("/available", h.listAvailable)
		r.Post("/", h.createExpense)
		r.Get("/{id}", h.getExpense)
		r.Put("/{id}", h.updateExpense)
		r.Delete("/{id}", h.deleteExpense)
		r.Get("/{id}/variance", h.variance)
	})
}

// LinkRoutes mounts the link/unlink endpoints for one document kind. They
// are mounted under the document's own resource path.
func (h *Handler) LinkRoutes(kind string) func(chi.Router) {
	return func(r chi.Router) {
		r.Put("/", h.link(kind))
		r.Delete("/", h.unlink(kind))
	}
}

type lineRequest struct {
	Label  string  `json:"label" validate:"required"`
	Year   int     `json:"year" validate:"required"`
	Budget float64 `json:"budget" validate:"gte=0"`
}

type expenseRequest struct {
	LineID int64   `json:"forecast_budget_line_id" validate:"required"`
	Label  string  `json:"label" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Year   int     `json:"year" validate:"required"`
}

type linkRequest struct {
	ForecastExpenseID int64 `json:"forecast_expense_id" validate:"required"`
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, shared.Validationf("invalid id")
	}
	return id, nil
}

func (h *Handler) listLines(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	lines, err := h.svc.Lines(r.Context(), id, year)
	if err != nil {
		h.logger.Error("list forecast lines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) getLine(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.svc.Line(r.Context(), id, lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) createLine(w http.ResponseWriter, r *http.Request) {
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
	line, err := h.svc.CreateLine(r.Context(), id, LineInput{Label: req.Label, Year: req.Year, Budget: req.Budget})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
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
	line, err := h.svc.UpdateLine(r.Context(), id, lineID, LineInput{Label: req.Label, Year: req.Year, Budget: req.Budget})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.DeleteLine(r.Context(), id, lineID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	lineID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	expenses, err := h.svc.Expenses(r.Context(), id, lineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expenses)
}

func (h *Handler) getExpense(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	expenseID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	expense, err := h.svc.Expense(r.Context(), id, expenseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	expense, err := h.svc.CreateExpense(r.Context(), id, ExpenseInput{LineID: req.LineID, Label: req.Label, Amount: req.Amount, Year: req.Year})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

func (h *Handler) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	expenseID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	expense, err := h.svc.UpdateExpense(r.Context(), id, expenseID, ExpenseInput{LineID: req.LineID, Label: req.Label, Amount: req.Amount, Year: req.Year})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	expenseID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.DeleteExpense(r.Context(), id, expenseID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		httpx.RespondError(w, shared.Validationf("year is required"))
		return
	}
	filter := AvailabilityFilter{Year: year}
	if v := q.Get("exclude_invoice_id"); v != "" {
		filter.ExcludeInvoiceID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("exclude_purchase_order_id"); v != "" {
		filter.ExcludePurchaseOrderID, _ = strconv.ParseInt(v, 10, 64)
	}
	expenses, err := h.svc.ListAvailable(r.Context(), id, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expenses)
}

func (h *Handler) variance(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	expenseID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.svc.Variance(r.Context(), id, expenseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) link(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := shared.IdentityFromContext(r.Context())
		docID, err := pathID(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req linkRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.Validationf("invalid payload"))
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.RespondError(w, shared.Validationf("%s", err.Error()))
			return
		}
		switch kind {
		case "invoice":
			err = h.svc.LinkInvoice(r.Context(), id, docID, req.ForecastExpenseID)
		default:
			err = h.svc.LinkPurchaseOrder(r.Context(), id, docID, req.ForecastExpenseID)
		}
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) unlink(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := shared.IdentityFromContext(r.Context())
		docID, err := pathID(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		switch kind {
		case "invoice":
			err = h.svc.UnlinkInvoice(r.Context(), id, docID)
		default:
			err = h.svc.UnlinkPurchaseOrder(r.Context(), id, docID)
		}
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
