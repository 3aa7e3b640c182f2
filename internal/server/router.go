// Package server assembles the HTTP surface of the service.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/middleware"
)

// Routable mounts a group of routes under /api.
type Routable interface {
	Routes(r chi.Router)
}

// Options configures NewRouter.
type Options struct {
	API            Routable
	Health         *Checker
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires middleware, the API, health and metrics endpoints.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", chimiddleware.RequestIDHeader},
		MaxAge:           int((10 * time.Minute).Seconds()),
	}).Handler)
	r.Use(middleware.IdentityMiddleware)

	if opts.Health != nil {
		r.Get("/livez", opts.Health.Live)
		r.Get("/healthz", opts.Health.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())
	if opts.API != nil {
		r.Route("/api", opts.API.Routes)
	}
	return r
}
