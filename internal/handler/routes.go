package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the middleware stack and every route.
func NewRouter(logger *zap.Logger, health *HealthHandler, stream *StreamHandler, alerts *AlertHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logging(logger))
	r.Use(Recovery(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", health.Health)
	stream.RegisterRoutes(r)
	alerts.RegisterRoutes(r)
	return r
}
