/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/invoices/*   Invoice preview and reads
  /api/users/*      Per-user recalculation, ledgers, runs
  /api/profiles/*   Fiscal profile management
  /api/admin/*      Maternity-table seeding
  /api/scenarios/*  Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/preview", h.PreviewInvoice)
			r.Get("/{id}", h.GetInvoice)
		})

		// Per-user routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/invoices", h.ListUserInvoices)
			r.Get("/runs", h.ListRuns)

			r.Route("/years/{year}", func(r chi.Router) {
				r.Post("/recalculate", h.RecalculateYear)
				r.Post("/rollover", h.RolloverYear)
				r.Get("/ledger", h.GetLedger)
			})
		})

		// Ledger routes
		r.Route("/ledgers", func(r chi.Router) {
			r.Get("/dirty", h.ListDirtyLedgers)
		})

		// Profile routes
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.ListProfiles)
			r.Post("/", h.SaveProfile)
			r.Get("/{id}", h.GetProfile)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/maternity", h.SetMaternityTax)
		})

		r.Get("/funds", h.ListFunds)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Landing page with a short API index.
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Fiscal Calculation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Fiscal Calculation Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/funds">/api/funds</a> - Supported funds</li>
<li><a href="/api/profiles">/api/profiles</a> - Fiscal profiles</li>
<li><a href="/api/ledgers/dirty">/api/ledgers/dirty</a> - Ledgers needing recalculation</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
