// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/shapetiles/internal/core/config"
	"github.com/mohammed-shakir/shapetiles/internal/core/health"
	middleware "github.com/mohammed-shakir/shapetiles/internal/core/middleware"
	"github.com/mohammed-shakir/shapetiles/internal/core/router"
)

type Deps struct {
	Dispatcher router.CommandDispatcher
	Tiles      *router.Tiles
	Proxy      http.Handler
	Ready      health.ReadinessReporter

	// Metrics defaults to the global Prometheus handler.
	Metrics http.Handler
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Get("/readyz", health.Readiness(d.Ready))
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Get("/metrics", metrics.ServeHTTP)

	r.Get("/commands", router.HandleVerbs())
	r.Post("/commands/{verb}", router.HandleCommand(logger, d.Dispatcher))
	if d.Tiles != nil {
		r.Get("/tiles/{name}", d.Tiles.ServeTileJSON)
		r.Get("/tiles/{name}/{z}/{x}/{y}", d.Tiles.ServeTile)
	}
	if d.Proxy != nil {
		r.Handle("/sidecar", d.Proxy)
		r.Handle("/sidecar/*", d.Proxy)
	}
	return r
}

// Run serves handler on cfg.Addr until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,

		// create_server blocks for the whole ogr2ogr build.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
