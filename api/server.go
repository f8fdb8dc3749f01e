/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the branch admin UI

ROUTE GROUPS:
  /api/calculations/*   Stateless quotes
  /api/tickets/*        Ticket origination and chain operations
  /api/config/*         Parameter administration
  /api/calculation-logs Audit trail
  /healthz              Liveness + database ping
  /metrics              Prometheus (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/pawn-engine/pawn"
)

// RouterOptions carries the process-level knobs of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler // nil disables /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/calculations", func(r chi.Router) {
			r.Post("/penalty", h.CalculatePenalty)
			r.Post("/service-charge", h.CalculateServiceCharge)
			r.Post("/all", h.CalculateAll)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", h.CreateTicket)
			r.Get("/{id}", h.GetTicket)

			r.Route("/{id}/transactions/{txid}", func(r chi.Router) {
				r.Post("/additional-loan", h.Operation(pawn.TxAdditionalLoan))
				r.Post("/partial-payment", h.Operation(pawn.TxPartialPayment))
				r.Post("/renewal", h.Operation(pawn.TxRenewal))
				r.Post("/redemption", h.Operation(pawn.TxRedemption))
				r.Post("/default", h.DefaultTicket)
			})
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.Get("/export", h.ExportConfig)
			r.Put("/brackets", h.UpdateBrackets)
			r.Post("/cache/clear", h.ClearCache)
			r.Put("/{key}", h.UpdateConfig)
			r.Get("/{key}/history", h.ConfigHistory)
		})

		r.Get("/calculation-logs", h.ListCalculationLogs)
	})

	return r
}
