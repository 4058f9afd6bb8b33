// Package subset runs the resolve, plan and fetch stages for one request.
package subset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/catalog"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/logger"
	"github.com/mohammed-shakir/tiled-subset/internal/subsetevents"
)

// ErrInvalidRequest marks requests that name no dataset or no area.
var ErrInvalidRequest = errors.New("invalid subset request")

// Catalog is the part of *catalog.Catalog the pipeline needs.
type Catalog interface {
	catalog.Resolver
	Lookup(id string) (model.DatasetDescriptor, error)
	Search(query string, limit int) []catalog.Match
}

type Planner interface {
	Plan(ds model.DatasetDescriptor, aoi model.AreaOfInterest, tw model.TimeWindow) (model.TilePlan, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, plan model.TilePlan) (model.SubsetResult, error)
}

type Publisher interface {
	Publish(ev subsetevents.Event)
}

// Request names the dataset either by exact id or by free-text query. With
// a query the best-ranked dataset is used.
type Request struct {
	DatasetID string
	Query     string
	AOI       model.AreaOfInterest
	Window    model.TimeWindow
}

type Service struct {
	cat     Catalog
	planner Planner
	fetcher Fetcher
	timeout time.Duration
	events  Publisher
	logger  *slog.Logger
}

type Option func(*Service)

// WithTimeout bounds the whole pipeline; 0 means only the caller's deadline.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithEvents(p Publisher) Option { return func(s *Service) { s.events = p } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(cat Catalog, p Planner, f Fetcher, opts ...Option) *Service {
	s := &Service{cat: cat, planner: p, fetcher: f}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Search ranks catalog entries for query.
func (s *Service) Search(query string, limit int) []catalog.Match {
	return s.cat.Search(query, limit)
}

// Subset resolves the dataset, plans the tiles and fetches the merged
// result. It either returns a complete result or an error.
func (s *Service) Subset(ctx context.Context, req Request) (model.SubsetResult, error) {
	start := time.Now()
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, "")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var (
		res  model.SubsetResult
		plan model.TilePlan
		ds   model.DatasetDescriptor
		err  error
	)
	defer func() {
		s.finish(ctx, ds.ID, plan, start, err)
	}()

	if req.AOI.BBox == nil && req.AOI.Polygon == nil {
		err = fmt.Errorf("%w: an area of interest is required", ErrInvalidRequest)
		return res, err
	}
	ds, err = s.resolve(ctx, req)
	if err != nil {
		return res, err
	}
	ctx = logger.WithDataset(ctx, ds.ID)

	plan, err = s.planner.Plan(ds, req.AOI, req.Window)
	if err != nil {
		return res, err
	}
	s.logger.DebugContext(ctx, "subset planned",
		"tiles", len(plan.Tiles), "rows", plan.Rows, "cols", plan.Cols, "steps", plan.Steps())

	res, err = s.fetcher.Fetch(ctx, plan)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("subset %s: pipeline deadline exceeded: %w", ds.ID, err)
	}
	return res, err
}

func (s *Service) resolve(ctx context.Context, req Request) (model.DatasetDescriptor, error) {
	if id := strings.TrimSpace(req.DatasetID); id != "" {
		return s.cat.Lookup(id)
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return model.DatasetDescriptor{}, fmt.Errorf("%w: dataset id or query is required", ErrInvalidRequest)
	}
	ds, err := s.cat.Resolve(ctx, q)
	if err != nil {
		return model.DatasetDescriptor{}, err
	}
	return ds[0], nil
}

func (s *Service) finish(ctx context.Context, dataset string, plan model.TilePlan, start time.Time, err error) {
	d := time.Since(start)
	outcome := Outcome(err)
	observability.ObserveSubset(outcome, d.Seconds())

	var total int64
	for _, t := range plan.Tiles {
		total += t.ByteLength
	}
	ctx = logger.WithDataset(ctx, dataset)
	if err != nil {
		s.logger.WarnContext(ctx, "subset failed", "outcome", outcome, "tiles", len(plan.Tiles), "dur", d.String(), "err", err)
	} else {
		s.logger.InfoContext(ctx, "subset done", "tiles", len(plan.Tiles), "bytes", total, "dur", d.String())
	}

	if s.events != nil {
		s.events.Publish(subsetevents.Event{
			Dataset:    dataset,
			RequestID:  logger.RequestID(ctx),
			Outcome:    outcome,
			Tiles:      len(plan.Tiles),
			Bytes:      total,
			DurationMS: d.Milliseconds(),
		})
	}
}

// Outcome is the metric and event label for err.
func Outcome(err error) string {
	var (
		nf  *model.NotFoundError
		oob *model.OutOfBoundsError
		oor *model.OutOfRangeError
		inc *model.IncompleteSubsetError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &oob):
		return "out_of_bounds"
	case errors.As(err, &oor):
		return "out_of_range"
	case errors.As(err, &inc):
		return "incomplete"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
