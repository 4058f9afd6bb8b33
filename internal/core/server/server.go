package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/tiled-subset/internal/core/config"
	"github.com/mohammed-shakir/tiled-subset/internal/core/health"
	middleware "github.com/mohammed-shakir/tiled-subset/internal/core/middleware"
	"github.com/mohammed-shakir/tiled-subset/internal/core/router"
)

// Deps are the handlers' collaborators. Events and Metrics may be nil.
type Deps struct {
	Subset  router.Subsetter
	Search  router.Searcher
	Catalog health.CatalogReporter
	Events  health.ReadinessReporter
	Metrics http.Handler
}

func NewRouter(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Catalog, d.Events))
	if cfg.MetricsEnabled {
		m := d.Metrics
		if m == nil {
			m = promhttp.Handler()
		}
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, m)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow, logger))
		r.Get("/subset", router.HandleSubset(logger, d.Subset))
		r.Get("/catalog/search", router.HandleSearch(logger, d.Search))
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PipelineTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
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
