/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication and role middleware each route group requires.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the pieces of service configuration the router needs.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// Account registry endpoints. Creation and deactivation are admin-only;
		// lookups are available to back-office staff as well.
		r.Route("/accounts", func(r chi.Router) {
			r.With(RequireRole(RoleAdmin)).Post("/", h.CreateAccountHandler)
			r.With(RequireRole(RoleAdmin)).Post("/{id}/deactivate", h.DeactivateAccountHandler)
			r.With(RequireRole(RoleAdmin, RoleStaff)).Get("/{id}", h.GetAccountHandler)
			r.With(RequireRole(RoleAdmin, RoleStaff)).Get("/{id}/payments", h.ListAccountPaymentsHandler)
		})

		// Bank reserve register endpoints.
		r.Route("/reserve", func(r chi.Router) {
			r.With(RequireRole(RoleAdmin, RoleStaff)).Get("/", h.GetReserveHandler)
			r.With(RequireRole(RoleAdmin)).Post("/initialize", h.InitializeReserveHandler)
		})

		// Payment endpoints. Customers act on their own accounts; handlers
		// enforce the ownership check from the token claims.
		r.Post("/transfers", h.TransferHandler)
		r.Post("/withdrawals", h.WithdrawalHandler)

		// Deposit request workflow endpoints.
		r.Route("/deposit-requests", func(r chi.Router) {
			r.With(RequireRole(RoleCustomer)).Post("/", h.CreateDepositRequestHandler)
			r.Get("/", h.ListDepositRequestsHandler)
			r.Get("/{id}", h.GetDepositRequestHandler)
			r.With(RequireRole(RoleAdmin, RoleStaff)).Post("/{id}/approve", h.ApproveDepositRequestHandler)
			r.With(RequireRole(RoleAdmin, RoleStaff)).Post("/{id}/reject", h.RejectDepositRequestHandler)
		})
	})

	return r
}
