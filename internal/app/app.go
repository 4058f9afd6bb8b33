// Package app wires the catalog, readers, cache, pipeline and event
// adapters from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tiled-subset/internal/cache"
	"github.com/mohammed-shakir/tiled-subset/internal/cache/redisstore"
	"github.com/mohammed-shakir/tiled-subset/internal/catalog"
	"github.com/mohammed-shakir/tiled-subset/internal/catalog/catalogevents"
	"github.com/mohammed-shakir/tiled-subset/internal/core/config"
	"github.com/mohammed-shakir/tiled-subset/internal/core/httpclient"
	"github.com/mohammed-shakir/tiled-subset/internal/fetcher"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
	"github.com/mohammed-shakir/tiled-subset/internal/hotness/expdecay"
	"github.com/mohammed-shakir/tiled-subset/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/tiled-subset/internal/planner"
	"github.com/mohammed-shakir/tiled-subset/internal/rangeread"
	"github.com/mohammed-shakir/tiled-subset/internal/subset"
	"github.com/mohammed-shakir/tiled-subset/internal/subsetevents"
)

type App struct {
	Catalog   *catalog.Catalog
	Refresher *catalog.Refresher
	Projector *geo.Projector
	Reader    rangeread.SizedReader
	Cache     *cache.Reader
	Service   *subset.Service
	Events    *catalogevents.Runner

	cfg    config.Config
	logger *slog.Logger
	redis  *redisstore.Client
	hot    *expdecay.Tracker
	pub    *subsetevents.Publisher
}

// Options override pieces of the wiring, mainly for tests.
type Options struct {
	Register prometheus.Registerer
	// Source replaces the catalog source chosen from configuration.
	Source catalog.Source
	// Mux replaces the default scheme mux.
	Mux *rangeread.Mux
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, Projector: geo.NewProjector()}

	src := opts.Source
	if src == nil {
		s, err := sourceFor(cfg)
		if err != nil {
			return nil, err
		}
		src = s
	}
	a.Catalog = catalog.New(logger)
	a.Refresher = catalog.NewRefresher(src, a.Catalog, cfg.CatalogRefresh, logger)

	mux := opts.Mux
	if mux == nil {
		mux = rangeread.NewMux(rangeread.Deps{Client: httpclient.NewOutbound(httpclient.WithTimeout(0))})
	}
	a.Reader = mux

	if cfg.TileCache.Enabled {
		if err := a.buildCache(ctx, mux); err != nil {
			return nil, err
		}
		a.Reader = a.Cache
	}

	svcOpts := []subset.Option{subset.WithTimeout(cfg.PipelineTimeout), subset.WithLogger(logger)}
	if cfg.SubsetEvents.Enabled {
		pub, err := subsetevents.NewPublisher(cfg.SubsetEvents.Brokers, cfg.SubsetEvents.Topic, 0, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.pub = pub
		svcOpts = append(svcOpts, subset.WithEvents(pub))
	}

	fcfg := fetcher.Config{
		Concurrency:    cfg.Fetch.Concurrency,
		TileTimeout:    cfg.Fetch.TileTimeout,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffInitial: cfg.Fetch.BackoffInitial,
		BackoffMax:     cfg.Fetch.BackoffMax,
	}
	f := fetcher.New(a.Reader, fcfg, a.Projector, logger)
	a.Service = subset.New(a.Catalog, planner.New(a.Projector), f, svcOpts...)

	if cfg.CatalogEvents.Enabled {
		ec := catalogevents.DefaultConfig()
		ec.Enabled = true
		ec.Brokers = cfg.CatalogEvents.Brokers
		ec.Topic = cfg.CatalogEvents.Topic
		ec.GroupID = cfg.CatalogEvents.GroupID
		eo := catalogevents.Options{Logger: logger, Register: opts.Register}
		if a.Cache != nil {
			eo.Invalidator = a.Cache
		}
		a.Events = catalogevents.New(ec, a.Catalog, eo)
	}
	return a, nil
}

func (a *App) buildCache(ctx context.Context, inner rangeread.SizedReader) error {
	tc := a.cfg.TileCache
	cc := cache.Config{
		L1Entries:    tc.L1Entries,
		TTL:          tc.TTL,
		OpTimeout:    tc.OpTimeout,
		HotThreshold: tc.HotThreshold,
	}

	var (
		l2  cache.Store
		hot cache.Hotness
	)
	if tc.RedisAddr != "" {
		rc, err := redisstore.New(ctx, tc.RedisAddr)
		if err != nil {
			return fmt.Errorf("tile cache: %w", err)
		}
		a.redis = rc
		l2 = rc
		a.hot = expdecay.New(tc.HotHalfLife)
		hot = metricswrap.New(a.hot, a.logger, tc.HotThreshold, 0.01)
	}
	c, err := cache.New(inner, l2, hot, cc, a.logger)
	if err != nil {
		return err
	}
	a.Cache = c
	return nil
}

func sourceFor(cfg config.Config) (catalog.Source, error) {
	switch {
	case cfg.CatalogURL != "":
		return catalog.HTTPSource{URL: cfg.CatalogURL, Client: httpclient.NewOutbound(httpclient.WithCompression(true))}, nil
	case cfg.CatalogPath != "":
		return catalog.FileSource{Path: cfg.CatalogPath}, nil
	default:
		return nil, errors.New("CATALOG_PATH or CATALOG_URL is required")
	}
}

// Start loads the catalog once and starts the background loops. It fails
// only when the first catalog load fails.
func (a *App) Start(ctx context.Context) error {
	if err := a.Refresher.LoadOnce(ctx); err != nil {
		return err
	}
	go a.Refresher.Run(ctx)

	if a.Events != nil {
		if err := a.Events.Start(ctx); err != nil {
			return err
		}
	}
	if a.hot != nil {
		go a.pruneHotness(ctx)
	}
	return nil
}

// pruneHotness forgets ranges that decayed below a twentieth of a hit.
func (a *App) pruneHotness(ctx context.Context) {
	t := time.NewTicker(a.hot.HalfLife)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.hot.Prune(0.05); n > 0 {
				a.logger.Debug("hotness pruned", "keys", n, "remaining", a.hot.Size())
			}
		}
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		a.Events.Stop()
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
