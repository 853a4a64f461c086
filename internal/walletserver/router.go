// Package walletserver exposes the callback engine over HTTP.
package walletserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/guard"
	"github.com/attaboy/gamecallback/internal/orchestrator"
	"github.com/attaboy/gamecallback/internal/provider"
	"github.com/go-chi/chi/v5"
)

// Callbacks runs provider deliveries.
type Callbacks interface {
	Handle(ctx context.Context, p domain.Provider, raw *provider.RawRequest) (*orchestrator.Outcome, error)
	Refuse(p domain.Provider, raw *provider.RawRequest, reason string) (*orchestrator.Outcome, error)
}

// HealthFunc reports whether the server's dependencies are reachable.
type HealthFunc func(ctx context.Context) error

// NewRouter builds the callback server chi.Router.
func NewRouter(callbacks Callbacks, limiter *guard.RateLimiter, health HealthFunc, metrics http.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))

	r.Get("/health", HealthHandler(health))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Post("/callbacks/{provider}/{clientID}/{action}", CallbackHandler(callbacks, limiter, logger))
	return r
}

// HealthHandler returns a health check endpoint.
func HealthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
