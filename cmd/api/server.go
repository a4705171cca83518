package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/FACorreiaa/statement-recon/pkg/middleware"
	"github.com/FACorreiaa/statement-recon/pkg/response"
)

// NewRouter builds the API router
func NewRouter(d *Dependencies) http.Handler {
	cfg := d.Config.Server
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(d.Logger, d.Metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Health(ctx); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Handler)
		d.ImportHandler.Routes(r)
		d.ReconciliationHandler.Routes(r)
		d.CategorizationHandler.Routes(r)
	})

	return r
}

// NewMetricsServer serves /metrics on its own port
func NewMetricsServer(d *Dependencies) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Metrics.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// NewServer wraps the router in an http.Server with conservative timeouts.
// WriteTimeout leaves room for pdftotext on large statements.
func NewServer(d *Dependencies) *http.Server {
	return &http.Server{
		Addr:              d.Config.Server.Addr(),
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
