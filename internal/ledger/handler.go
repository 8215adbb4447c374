package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes contract and invoice endpoints.
type Handler struct {
	svc      *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// ContractRoutes mounts contract endpoints.
func (h *Handler) ContractRoutes(r chi.Router) {
	r.Get("/", h.listContracts)
	r.Post("/", h.createContract)
	r.Get("/{id}", h.getContract)
	r.Put("/{id}", h.updateContract)
	r.Delete("/{id}", h.deleteContract)
}

// InvoiceRoutes mounts invoice endpoints.
func (h *Handler) InvoiceRoutes(r chi.Router) {
	r.Get("/", h.listInvoices)
	r.Post("/", h.createInvoice)
	r.Get("/{id}", h.getInvoice)
	r.Put("/{id}", h.updateInvoice)
	r.Delete("/{id}", h.deleteInvoice)
}

type contractRequest struct {
	Vendor       string  `json:"vendor" validate:"required"`
	Reference    string  `json:"reference"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	StartDate    string  `json:"start_date" validate:"required"`
	EndDate      string  `json:"end_date" validate:"required"`
	BudgetLineID *int64  `json:"budget_line_id"`
	Note         string  `json:"note"`
	YearlySplits []struct {
		Year   int     `json:"year" validate:"required"`
		Amount float64 `json:"amount" validate:"gte=0"`
	} `json:"yearly_splits" validate:"dive"`
}

func (req contractRequest) toInput() (ContractInput, error) {
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return ContractInput{}, shared.Validationf("invalid start_date")
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return ContractInput{}, shared.Validationf("invalid end_date")
	}
	in := ContractInput{
		Vendor:       req.Vendor,
		Reference:    req.Reference,
		Amount:       req.Amount,
		StartDate:    start,
		EndDate:      end,
		BudgetLineID: req.BudgetLineID,
		Note:         req.Note,
	}
	for _, s := range req.YearlySplits {
		in.YearlySplits = append(in.YearlySplits, YearlySplit{Year: s.Year, Amount: s.Amount})
	}
	return in, nil
}

type invoiceRequest struct {
	Vendor       string  `json:"vendor" validate:"required"`
	Reference    string  `json:"reference"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	IsCredit     bool    `json:"is_credit"`
	ContractID   *int64  `json:"contract_id"`
	BudgetLineID *int64  `json:"budget_line_id"`
	InvoiceDate  string  `json:"invoice_date" validate:"required"`
	Status       string  `json:"status"`
}

func (req invoiceRequest) toInput() (InvoiceInput, error) {
	date, err := time.Parse("2006-01-02", req.InvoiceDate)
	if err != nil {
		return InvoiceInput{}, shared.Validationf("invalid invoice_date")
	}
	return InvoiceInput{
		Vendor:       req.Vendor,
		Reference:    req.Reference,
		Amount:       req.Amount,
		IsCredit:     req.IsCredit,
		ContractID:   req.ContractID,
		BudgetLineID: req.BudgetLineID,
		InvoiceDate:  date,
		Status:       req.Status,
	}, nil
}

// contractView augments the stored contract with its derived status.
type contractView struct {
	Contract
	Status   ContractStatus `json:"status"`
	Critical bool           `json:"critical"`
}

func toContractView(c Contract) contractView {
	now := time.Now()
	return contractView{
		Contract: c,
		Status:   StatusAt(c.EndDate, now),
		Critical: IsCritical(c.EndDate, now),
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, shared.Validationf("invalid id")
	}
	return id, nil
}

func (h *Handler) listContracts(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	contracts, err := h.svc.ListContracts(r.Context(), id)
	if err != nil {
		h.logger.Error("list contracts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]contractView, 0, len(contracts))
	for _, c := range contracts {
		views = append(views, toContractView(c))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	contractID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.svc.GetContract(r.Context(), id, contractID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toContractView(contract))
}

func (h *Handler) createContract(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req contractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.svc.CreateContract(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toContractView(contract))
}

func (h *Handler) updateContract(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	contractID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req contractRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	contract, err := h.svc.UpdateContract(r.Context(), id, contractID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toContractView(contract))
}

func (h *Handler) deleteContract(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	contractID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.DeleteContract(r.Context(), id, contractID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	q := r.URL.Query()
	var filter InvoiceFilter
	filter.ContractID, _ = strconv.ParseInt(q.Get("contract_id"), 10, 64)
	filter.BudgetLineID, _ = strconv.ParseInt(q.Get("budget_line_id"), 10, 64)
	filter.Year, _ = strconv.Atoi(q.Get("year"))
	invoices, err := h.svc.ListInvoices(r.Context(), id, filter)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	invoiceID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.svc.GetInvoice(r.Context(), id, invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.svc.CreateInvoice(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	invoiceID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.svc.UpdateInvoice(r.Context(), id, invoiceID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	invoiceID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.svc.DeleteInvoice(r.Context(), id, invoiceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
