package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Refresher reloads a Catalog from a Source on an interval. A failed
// reload keeps the previous snapshot.
type Refresher struct {
	src    Source
	cat    *Catalog
	every  time.Duration
	logger *slog.Logger
}

func NewRefresher(src Source, cat *Catalog, every time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{src: src, cat: cat, every: every, logger: logger}
}

func (r *Refresher) LoadOnce(ctx context.Context) error {
	start := time.Now()
	ds, err := r.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("catalog source %s: %w", r.src.Name(), err)
	}
	if err := r.cat.Replace(ds); err != nil {
		return err
	}
	r.logger.Debug("catalog loaded", "source", r.src.Name(), "datasets", len(ds), "dur", time.Since(start).String())
	return nil
}

// Run blocks until ctx is done. every <= 0 disables periodic reloads.
func (r *Refresher) Run(ctx context.Context) {
	if r.every <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.LoadOnce(ctx); err != nil {
				r.logger.Warn("catalog refresh failed, keeping previous snapshot", "source", r.src.Name(), "err", err)
			}
		}
	}
}
