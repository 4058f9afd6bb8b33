// Package cache keeps recently read tile byte ranges so repeated and
// overlapping subset requests skip the remote store.
//
// Reads go through a process-local LRU first, then an optional shared Redis
// layer. Ranges are admitted to Redis once their hotness score reaches the
// configured threshold.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/tiled-subset/internal/cache/keys"
	"github.com/mohammed-shakir/tiled-subset/internal/cache/redisstore"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/logger"
	"github.com/mohammed-shakir/tiled-subset/internal/rangeread"
)

// Store is the shared second layer. Get returns redisstore.ErrMiss for
// absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DelMatch(ctx context.Context, pattern string, batch int64) (int, error)
}

// Hotness scores a key on every read.
type Hotness interface {
	Observe(key string) float64
}

type Config struct {
	L1Entries    int
	TTL          time.Duration
	OpTimeout    time.Duration
	HotThreshold float64
}

func DefaultConfig() Config {
	return Config{
		L1Entries:    1024,
		TTL:          10 * time.Minute,
		OpTimeout:    150 * time.Millisecond,
		HotThreshold: 2,
	}
}

type Reader struct {
	inner  rangeread.SizedReader
	l1     *lru.Cache[string, []byte]
	l2     Store
	hot    Hotness
	cfg    Config
	logger *slog.Logger
}

var _ rangeread.SizedReader = (*Reader)(nil)

// New wraps inner. l2 and hot may be nil; without hot every range read from
// the remote store is written to l2.
func New(inner rangeread.SizedReader, l2 Store, hot Hotness, cfg Config, log *slog.Logger) (*Reader, error) {
	if inner == nil {
		return nil, errors.New("cache: inner reader is required")
	}
	if cfg.L1Entries <= 0 {
		cfg.L1Entries = DefaultConfig().L1Entries
	}
	if log == nil {
		log = slog.Default()
	}
	l1, err := lru.New[string, []byte](cfg.L1Entries)
	if err != nil {
		return nil, fmt.Errorf("cache: l1: %w", err)
	}
	return &Reader{inner: inner, l1: l1, l2: l2, hot: hot, cfg: cfg, logger: log}, nil
}

// ReadRange serves [off, off+n) of uri. Errors from the inner reader are
// returned unchanged and never cached.
func (r *Reader) ReadRange(ctx context.Context, uri string, off, n int64) ([]byte, error) {
	key := keys.Key(logger.Dataset(ctx), uri, off, n)
	score := r.observe(key)

	if b, ok := r.l1.Get(key); ok {
		observability.IncCacheHit("l1")
		return bytes.Clone(b), nil
	}
	observability.IncCacheMiss("l1")

	if b, ok := r.fromL2(ctx, key, n); ok {
		r.l1.Add(key, b)
		return bytes.Clone(b), nil
	}

	b, err := r.inner.ReadRange(ctx, uri, off, n)
	if err != nil {
		return nil, err
	}
	r.l1.Add(key, b)
	if r.admit(score) {
		r.toL2(ctx, key, b)
	}
	return bytes.Clone(b), nil
}

func (r *Reader) Size(ctx context.Context, uri string) (int64, error) {
	return r.inner.Size(ctx, uri)
}

// InvalidateDataset drops every cached range of dataset from both layers.
func (r *Reader) InvalidateDataset(ctx context.Context, dataset string) (int, error) {
	pattern := keys.DatasetPattern(dataset)
	prefix := strings.TrimSuffix(pattern, "*")

	dropped := 0
	for _, k := range r.l1.Keys() {
		if strings.HasPrefix(k, prefix) && r.l1.Remove(k) {
			dropped++
		}
	}
	if r.l2 == nil {
		return dropped, nil
	}
	n, err := r.l2.DelMatch(ctx, pattern, 0)
	if err != nil {
		return dropped, fmt.Errorf("cache: invalidate %q: %w", dataset, err)
	}
	return dropped + n, nil
}

func (r *Reader) observe(key string) float64 {
	if r.hot == nil {
		return 0
	}
	return r.hot.Observe(key)
}

func (r *Reader) admit(score float64) bool {
	if r.l2 == nil {
		return false
	}
	if r.hot == nil || r.cfg.HotThreshold <= 0 {
		return true
	}
	// decay between back-to-back hits leaves the score a hair under a whole count
	return score+admitSlack >= r.cfg.HotThreshold
}

const admitSlack = 1e-6

func (r *Reader) fromL2(ctx context.Context, key string, n int64) ([]byte, bool) {
	if r.l2 == nil {
		return nil, false
	}
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	b, err := r.l2.Get(opCtx, key)
	switch {
	case err == nil && int64(len(b)) == n:
		observability.IncCacheHit("redis")
		return b, true
	case err == nil:
		r.logger.WarnContext(ctx, "cached range has wrong length", "key", key, "got", len(b), "want", n)
	case !errors.Is(err, redisstore.ErrMiss):
		r.logger.WarnContext(ctx, "redis get failed", "key", key, "err", err)
	}
	observability.IncCacheMiss("redis")
	return nil, false
}

func (r *Reader) toL2(ctx context.Context, key string, b []byte) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.l2.Set(opCtx, key, b, r.cfg.TTL); err != nil {
		r.logger.WarnContext(ctx, "redis set failed", "key", key, "err", err)
	}
}

func (r *Reader) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.OpTimeout)
}
