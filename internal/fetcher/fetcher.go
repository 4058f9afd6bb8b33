// Package fetcher reads the byte ranges of a tile plan concurrently and
// merges them into one subset.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
	"github.com/mohammed-shakir/tiled-subset/internal/rangeread"
)

type Config struct {
	Concurrency    int
	TileTimeout    time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    8,
		TileTimeout:    30 * time.Second,
		MaxRetries:     3,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

type Fetcher struct {
	r      rangeread.Reader
	cfg    Config
	proj   *geo.Projector
	logger *slog.Logger
}

func New(r rangeread.Reader, cfg Config, proj *geo.Projector, logger *slog.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if proj == nil {
		proj = geo.NewProjector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{r: r, cfg: cfg, proj: proj, logger: logger}
}

// slot is written by exactly one worker.
type slot struct {
	values []float64
	err    error
}

// Fetch reads every tile of plan and merges them. It never returns a
// partial result: any missing tile yields an *model.IncompleteSubsetError,
// and cancellation yields the context error.
func (f *Fetcher) Fetch(ctx context.Context, plan model.TilePlan) (model.SubsetResult, error) {
	if len(plan.Tiles) == 0 {
		return model.SubsetResult{}, fmt.Errorf("dataset %s: plan has no tiles", plan.Dataset.ID)
	}
	slots := make([]slot, len(plan.Tiles))

	jobs := make(chan int)
	workerN := min(f.cfg.Concurrency, len(plan.Tiles))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				slots[i] = f.fetchTile(ctx, plan.Dataset, plan.Tiles[i])
			}
		}()
	}

feed:
	for i := range plan.Tiles {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return model.SubsetResult{}, fmt.Errorf("dataset %s: subset cancelled: %w", plan.Dataset.ID, err)
	}

	var missing []model.TileRef
	var causes []error
	for i, s := range slots {
		if s.err == nil {
			continue
		}
		t := plan.Tiles[i]
		missing = append(missing, t)
		if model.IsPermanent(s.err) {
			causes = append(causes, fmt.Errorf("%s: %w", t.String(), s.err))
		} else {
			causes = append(causes, &model.TransientFetchError{DatasetID: plan.Dataset.ID, Tile: t, URI: t.URI, Err: s.err})
		}
	}
	if len(missing) > 0 {
		return model.SubsetResult{}, &model.IncompleteSubsetError{
			DatasetID: plan.Dataset.ID,
			Window:    plan.Window2D,
			Missing:   missing,
			Err:       errors.Join(causes...),
		}
	}

	return f.merge(plan, slots)
}

func (f *Fetcher) fetchTile(ctx context.Context, ds model.DatasetDescriptor, t model.TileRef) slot {
	if err := ctx.Err(); err != nil {
		return slot{err: err}
	}
	start := time.Now()
	var raw []byte
	op := func() error {
		tctx, cancel := ctx, context.CancelFunc(func() {})
		if f.cfg.TileTimeout > 0 {
			tctx, cancel = context.WithTimeout(ctx, f.cfg.TileTimeout)
		}
		defer cancel()
		b, err := f.r.ReadRange(tctx, t.URI, t.ByteOffset, t.ByteLength)
		switch {
		case err == nil:
			raw = b
			return nil
		case model.IsPermanent(err):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		observability.IncRetry()
		f.logger.Debug("tile read retry",
			"dataset", ds.ID, "tile", t.Index, "uri", t.URI, "wait", wait.String(), "err", err)
	}

	err := backoff.RetryNotify(op, f.retryPolicy(ctx), notify)
	if err != nil {
		outcome := "failed"
		switch {
		case ctx.Err() != nil:
			outcome = "cancelled"
		case errors.Is(err, model.ErrNotExist):
			outcome = "not_found"
		}
		observability.ObserveTile(outcome)
		if outcome != "cancelled" {
			f.logger.Warn("tile read failed",
				"dataset", ds.ID, "tile", t.Index, "uri", t.URI,
				"dur", time.Since(start).String(), "err", err)
		}
		return slot{err: err}
	}

	vals, err := decodeTile(t, ds.Encoding, ds.NoData, raw)
	if err != nil {
		observability.ObserveTile("failed")
		return slot{err: fmt.Errorf("%w: decode: %v", model.ErrPermanent, err)}
	}
	observability.ObserveTile("ok")
	return slot{values: vals}
}

func (f *Fetcher) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if f.cfg.BackoffInitial > 0 {
		exp.InitialInterval = f.cfg.BackoffInitial
	}
	if f.cfg.BackoffMax > 0 {
		exp.MaxInterval = f.cfg.BackoffMax
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.cfg.MaxRetries)), ctx)
}
