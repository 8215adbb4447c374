package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/budgeo/budgeo/internal/audit"
	"github.com/budgeo/budgeo/internal/auth"
	"github.com/budgeo/budgeo/internal/budget"
	"github.com/budgeo/budgeo/internal/forecast"
	"github.com/budgeo/budgeo/internal/importer"
	"github.com/budgeo/budgeo/internal/ledger"
	"github.com/budgeo/budgeo/internal/observability"
	"github.com/budgeo/budgeo/internal/orders"
	"github.com/budgeo/budgeo/internal/reporting"
)

// Handlers collects every mounted handler.
type Handlers struct {
	Auth      *auth.Handler
	Budget    *budget.Handler
	Ledger    *ledger.Handler
	Forecast  *forecast.Handler
	Orders    *orders.Handler
	Audit     *audit.Handler
	Reporting *reporting.Handler
	Importer  *importer.Handler
}

// NewRouter assembles the Budgeo HTTP surface.
func NewRouter(cfg MiddlewareConfig, metrics *observability.Metrics, h Handlers) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(cfg) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h.Auth.MountRoutes(r)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Route("/budget-lines", h.Budget.Routes)
		r.Route("/contracts", h.Ledger.ContractRoutes)
		r.Route("/invoices", func(r chi.Router) {
			h.Ledger.InvoiceRoutes(r)
			r.Route("/{id}/forecast", h.Forecast.LinkRoutes("invoice"))
		})
		r.Route("/forecast", h.Forecast.Routes)
		r.Route("/purchase-orders", func(r chi.Router) {
			h.Orders.Routes(r)
			r.Route("/{id}/forecast", h.Forecast.LinkRoutes("purchase_order"))
		})
		r.Route("/reports", h.Reporting.Routes)
		r.Route("/audit", h.Audit.Routes)
		r.Route("/imports", h.Importer.Routes)
	})

	return r
}
