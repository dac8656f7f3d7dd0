/**
 * @description
 * This file sets up the HTTP router using the go-chi/chi router. It defines the
 * public routes, applies middleware for request ids, logging, recovery, timeouts
 * and CORS, and maps the routes to their handler functions.
 *
 * The function endpoints are mounted twice: at the root and under
 * /.netlify/functions, so existing front-end and payment-dashboard settings that
 * point at the old function URLs keep working.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/logger"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", signatureHeader, fallbackSignatureHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Apps on Purpose service is healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	mountFunctions(r, h, "/login", "/set-password", "/purchase-webhook")
	r.Post("/webhooks/stripe", h.handleWebhook)
	r.Options("/webhooks/stripe", handlePreflight)

	r.Route("/.netlify/functions", func(r chi.Router) {
		mountFunctions(r, h, "/login", "/set-password", "/stripe-webhook")
	})

	return r
}

func mountFunctions(r chi.Router, h *Handler, loginPath, setPasswordPath, webhookPath string) {
	r.Post(loginPath, h.handleLogin)
	r.Options(loginPath, handlePreflight)

	r.Post(setPasswordPath, h.handleSetPassword)
	r.Options(setPasswordPath, handlePreflight)

	r.Post(webhookPath, h.handleWebhook)
	r.Options(webhookPath, handlePreflight)
}

// handlePreflight answers OPTIONS requests that the CORS middleware did not
// treat as a preflight (no Origin or request-method header).
func handlePreflight(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
}
