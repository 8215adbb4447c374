package importer

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/budgeo/budgeo/internal/ledger"
	"github.com/budgeo/budgeo/internal/platform/httpx"
	"github.com/budgeo/budgeo/internal/shared"
)

// Handler exposes the import endpoint.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the import endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.run)
}

type contractRow struct {
	Vendor       string  `json:"vendor"`
	Reference    string  `json:"reference"`
	Amount       float64 `json:"amount"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	BudgetLineID *int64  `json:"budget_line_id"`
}

type invoiceRow struct {
	Vendor       string  `json:"vendor"`
	Reference    string  `json:"reference"`
	Amount       float64 `json:"amount"`
	IsCredit     bool    `json:"is_credit"`
	ContractID   *int64  `json:"contract_id"`
	BudgetLineID *int64  `json:"budget_line_id"`
	InvoiceDate  string  `json:"invoice_date"`
}

type batchRequest struct {
	Contracts []contractRow `json:"contracts"`
	Invoices  []invoiceRow  `json:"invoices"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid payload"))
		return
	}

	batch := Batch{Key: r.Header.Get("Idempotency-Key")}
	for _, row := range req.Contracts {
		in := ledger.ContractInput{
			Vendor:       row.Vendor,
			Reference:    row.Reference,
			Amount:       row.Amount,
			BudgetLineID: row.BudgetLineID,
		}
		in.StartDate, _ = time.Parse("2006-01-02", row.StartDate)
		in.EndDate, _ = time.Parse("2006-01-02", row.EndDate)
		batch.Contracts = append(batch.Contracts, in)
	}
	for _, row := range req.Invoices {
		in := ledger.InvoiceInput{
			Vendor:       row.Vendor,
			Reference:    row.Reference,
			Amount:       row.Amount,
			IsCredit:     row.IsCredit,
			ContractID:   row.ContractID,
			BudgetLineID: row.BudgetLineID,
		}
		in.InvoiceDate, _ = time.Parse("2006-01-02", row.InvoiceDate)
		batch.Invoices = append(batch.Invoices, in)
	}

	summary, err := h.svc.Run(r.Context(), id, batch)
	if err != nil {
		h.logger.Error("run import", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
