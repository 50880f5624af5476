/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 * - github.com/prometheus/client_golang/prometheus/promhttp: Metrics exposition.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the auth and CORS settings the router wires in.
type RouterOptions struct {
	JWKSURL            string
	ClerkAudience      string
	ClerkIssuer        string
	InternalAPIKey     string
	CORSAllowedOrigins string
}

// BillingRoutes creates and returns a new router for the billing service.
func BillingRoutes(h *BillingHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := []string{"*"}
	if trimmed := strings.TrimSpace(opts.CORSAllowedOrigins); trimmed != "" {
		allowedOrigins = strings.Split(trimmed, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Stripe authenticates by signature, not by bearer token.
	r.Post("/webhooks/stripe", h.StripeWebhookHandler)

	// Consumer endpoints require a valid Clerk JWT.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(opts.JWKSURL, opts.ClerkAudience, opts.ClerkIssuer))

		r.Get("/credits/balance", h.GetBalanceHandler)
		r.Get("/credits/ledger", h.ListLedgerHandler)
		r.Get("/credits/receipts", h.ListReceiptsHandler)
		r.Get("/credits/receipts/{id}", h.GetReceiptHandler)
	})

	// Admin reconciliation endpoints additionally require the admin role.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(opts.JWKSURL, opts.ClerkAudience, opts.ClerkIssuer))
		r.Use(AdminOnlyMiddleware)

		r.Post("/admin/credits/grant", h.AdminGrantHandler)
		r.Get("/admin/refunds", h.ListRefundsHandler)
		r.Post("/admin/refunds/{id}/process", h.ProcessRefundHandler)
		r.Post("/admin/refunds/{id}/ignore", h.IgnoreRefundHandler)
		r.Get("/admin/stripe-events", h.ListStripeEventsHandler)
	})

	// Service-to-service endpoints authenticate with the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))

		r.Post("/internal/credits/spend", h.SpendCreditsHandler)
		r.Post("/internal/credits/signup-bonus", h.SignupBonusHandler)
	})

	return r
}
