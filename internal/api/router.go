// Package api serves the qualifier's read-only status endpoints and the
// token-protected wake endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/sdkqual/internal/api/middleware"
	"github.com/kiranshivaraju/sdkqual/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	// Auth is nil when no token hash is configured; the wake route is then
	// not mounted.
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	StatusHandler http.HandlerFunc
	RunsHandler   http.HandlerFunc
	WakeHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/status", orNotImplemented(deps.StatusHandler))
	r.Get("/api/v1/runs", orNotImplemented(deps.RunsHandler))

	if deps.Auth != nil {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)
			r.Use(deps.Auth.Authenticate)

			r.Post("/api/v1/wake", orNotImplemented(deps.WakeHandler))
		})
	}

	return r
}

// NewServer wraps handler in an http.Server with the API's timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
