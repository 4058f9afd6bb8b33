// Package metricswrap reports hotness tracker size and hot keys.
package metricswrap

import (
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/hotness"
)

type Sizer interface{ Size() int }

// Observer is implemented by trackers that return the score of a hit.
type Observer interface {
	Observe(key string) float64
}

type WithMetrics struct {
	inner     hotness.Interface
	logger    *slog.Logger
	threshold float64
	sample    float64
}

// New wraps inner. Keys reaching threshold are logged for a sample
// fraction of keys; threshold <= 0 disables the log.
func New(inner hotness.Interface, logger *slog.Logger, threshold, sample float64) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithMetrics{inner: inner, logger: logger, threshold: threshold, sample: sample}
}

func (w *WithMetrics) Inc(key string) { w.Observe(key) }

func (w *WithMetrics) Observe(key string) float64 {
	var score float64
	if o, ok := w.inner.(Observer); ok {
		score = o.Observe(key)
	} else {
		w.inner.Inc(key)
		score = w.inner.Score(key)
	}
	if w.threshold > 0 && score >= w.threshold && score-1 < w.threshold && shouldLog(w.sample, key) {
		w.logger.Debug("tile range turned hot", "key", key, "score", score, "threshold", w.threshold)
	}
	w.gauge()
	return score
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.gauge()
}

func (w *WithMetrics) gauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeys(s.Size())
	}
}

// shouldLog picks a stable fraction of keys so one key always logs or never does.
func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
