package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/mohammed-shakir/tiled-subset/internal/app"
	"github.com/mohammed-shakir/tiled-subset/internal/core/config"
	"github.com/mohammed-shakir/tiled-subset/internal/core/server"
	"github.com/mohammed-shakir/tiled-subset/internal/logger"
	"github.com/mohammed-shakir/tiled-subset/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "tiled-subset",
		Component: "subsetd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Service: "tiled-subset",
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	appLog.Info("starting subsetd",
		"addr", cfg.Addr,
		"version", Version,
		"catalog_path", cfg.CatalogPath,
		"catalog_url", cfg.CatalogURL,
		"tile_cache", cfg.TileCache.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog, app.Options{Register: p.Registerer()})
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}

	deps := server.Deps{
		Subset:  a.Service,
		Search:  a.Service,
		Catalog: a.Catalog,
		Metrics: p.Handler(),
	}
	if a.Events != nil {
		deps.Events = a.Events
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
