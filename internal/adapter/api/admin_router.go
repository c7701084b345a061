package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/inboxguard/internal/adapter/api/handler"
	"github.com/V4T54L/inboxguard/internal/adapter/api/middleware"
	"github.com/V4T54L/inboxguard/internal/usecase"
)

// NewAdminRouter creates the router of the admin and metrics server. It is
// meant for an internal listener only and carries no authentication.
func NewAdminRouter(adminUseCase *usecase.AdminUseCase, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	adminHandler := handler.NewAdminHandler(adminUseCase, logger)

	r.Get("/health", adminHandler.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Get("/streams", adminHandler.StreamStatus)
		r.Get("/streams/pending", adminHandler.PendingMessages)
		r.Post("/streams/dlq/trim", adminHandler.TrimDLQ)
		r.Get("/locks", adminHandler.LockStatus)
		r.Delete("/in-flight/{externalID}", adminHandler.ClearInFlight)
		r.Post("/auth-cache/clear", adminHandler.ClearAuthCache)
	})

	return r
}
