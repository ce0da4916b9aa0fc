/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend
  5. RateLimit:  ulule/limiter, per client IP, in-memory counters

ROUTE GROUPS:
  /api/catalog, /api/items/*, /api/fulfillers/*   Pricing and directory
  /api/orders/*                                   Lifecycle and allocation
  /api/confirmations                              Two-phase execution
  /api/wallets/*, /api/commissions/*              Settlement ledger
  /api/reports/*                                  Read-only rollups
  /api/admin/*                                    Sweeps
  /api/scenarios/*                                Demo data

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is a limiter rate such as "300-M". Empty disables limiting.
	RateLimit string
}

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) (*chi.Mux, error) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if opts.RateLimit != "" {
		limit, err := rateLimit(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Catalog routes
		r.Post("/catalog", h.ImportCatalog)
		r.Get("/items/{id}/quote", h.GetQuote)
		r.Route("/fulfillers", func(r chi.Router) {
			r.Get("/", h.ListFulfillers)
			r.Put("/{id}/overrides/{itemID}", h.SetOverride)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/status", h.UpdateOrderStatus)
			r.Get("/{id}/history", h.GetOrderHistory)
			r.Post("/{id}/complete", h.CompleteDelivery)
			r.Post("/{id}/cancel", h.PlanCancelOrder)

			// Slot routes
			r.Route("/{id}/slots/{role}", func(r chi.Router) {
				r.Get("/eligible", h.ListEligible)
				r.Post("/assign", h.AssignSlot)
				r.Post("/respond", h.RespondSlot)
				r.Post("/cancel", h.PlanCancelAssignment)
				r.Post("/reassign", h.PlanReassign)
			})
		})

		r.Post("/confirmations", h.ExecuteConfirmation)

		// Wallet routes
		r.Route("/wallets/{staffID}", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/entries", h.ListWalletEntries)
			r.Get("/verify", h.VerifyWallet)
			r.Post("/collections", h.PostCollection)
			r.Post("/settlements", h.Settle)
		})

		// Commission routes
		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Post("/", h.CreateCommission)
			r.Post("/{id}/status", h.TransitionCommission)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/sales", h.SalesReport)
			r.Get("/cooks", h.CookReport)
			r.Get("/delivery", h.DeliveryReport)
			r.Get("/referrals", h.ReferralReport)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Fulfillment Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Fulfillment Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/orders">/api/orders</a> - List orders</li>
<li><a href="/api/fulfillers">/api/fulfillers</a> - List cooks and delivery staff</li>
<li><a href="/api/reports/sales">/api/reports/sales</a> - Sales report</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
	})

	return r, nil
}

// rateLimit builds the per-IP limiter middleware from a formatted rate.
func rateLimit(formatted string) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}
	instance := limiter.New(memory.NewStore(), rate)
	return stdlib.NewMiddleware(instance).Handler, nil
}
