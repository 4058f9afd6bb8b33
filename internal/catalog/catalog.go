// Package catalog resolves search queries and identifiers to dataset descriptors.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
)

type Resolver interface {
	Resolve(ctx context.Context, query string) ([]model.DatasetDescriptor, error)
}

type Match struct {
	Dataset model.DatasetDescriptor `json:"dataset"`
	Score   float64                 `json:"score"`
}

// Catalog serves lookups from an immutable snapshot that writers replace whole.
type Catalog struct {
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

type snapshot struct {
	byID    map[string]*entry
	entries []*entry // sorted by id
	loaded  time.Time
}

type entry struct {
	ds     model.DatasetDescriptor
	terms  map[string]float64
	titleL string
}

var _ Resolver = (*Catalog)(nil)

func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{logger: logger}
	c.snap.Store(&snapshot{byID: map[string]*entry{}})
	return c
}

// Replace swaps in a new set of descriptors. Invalid entries fail the whole batch.
func (c *Catalog) Replace(ds []model.DatasetDescriptor) error {
	byID := make(map[string]*entry, len(ds))
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("catalog replace: %w", err)
		}
		key := idKey(d.ID)
		if _, dup := byID[key]; dup {
			return fmt.Errorf("catalog replace: duplicate dataset id %q", d.ID)
		}
		byID[key] = newEntry(d)
	}
	c.snap.Store(buildSnapshot(byID))
	c.logger.Info("catalog replaced", "datasets", len(byID))
	return nil
}

// Upsert adds or replaces a single descriptor.
func (c *Catalog) Upsert(d model.DatasetDescriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("catalog upsert: %w", err)
	}
	for {
		old := c.snap.Load()
		byID := make(map[string]*entry, len(old.byID)+1)
		for k, v := range old.byID {
			byID[k] = v
		}
		byID[idKey(d.ID)] = newEntry(d)
		if c.snap.CompareAndSwap(old, buildSnapshot(byID)) {
			return nil
		}
	}
}

// Delete removes a descriptor; it reports whether one was present.
func (c *Catalog) Delete(id string) bool {
	key := idKey(id)
	for {
		old := c.snap.Load()
		if _, ok := old.byID[key]; !ok {
			return false
		}
		byID := make(map[string]*entry, len(old.byID))
		for k, v := range old.byID {
			if k != key {
				byID[k] = v
			}
		}
		if c.snap.CompareAndSwap(old, buildSnapshot(byID)) {
			return true
		}
	}
}

func (c *Catalog) Len() int { return len(c.snap.Load().entries) }

// Ready reports whether at least one load has happened.
func (c *Catalog) Ready() bool { return !c.snap.Load().loaded.IsZero() }

// Lookup is an exact, case-insensitive identifier match.
func (c *Catalog) Lookup(id string) (model.DatasetDescriptor, error) {
	if e, ok := c.snap.Load().byID[idKey(id)]; ok {
		return e.ds.Clone(), nil
	}
	return model.DatasetDescriptor{}, &model.NotFoundError{Query: id}
}

// Resolve returns descriptors ranked by relevance. An exact identifier
// match bypasses ranking and is returned alone.
func (c *Catalog) Resolve(ctx context.Context, query string) ([]model.DatasetDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if d, err := c.Lookup(query); err == nil {
		observability.ObserveResolve("exact")
		return []model.DatasetDescriptor{d}, nil
	}
	matches := c.Search(query, 0)
	if len(matches) == 0 {
		observability.ObserveResolve("not_found")
		return nil, &model.NotFoundError{Query: query}
	}
	out := make([]model.DatasetDescriptor, len(matches))
	for i, m := range matches {
		out[i] = m.Dataset
	}
	observability.ObserveResolve("fuzzy")
	return out, nil
}

// Search ranks entries by score, ties broken by ascending id. limit <= 0 means all.
func (c *Catalog) Search(query string, limit int) []Match {
	qt := tokenize(query)
	if len(qt) == 0 {
		return nil
	}
	ql := strings.ToLower(strings.Join(strings.Fields(query), " "))

	snap := c.snap.Load()
	out := make([]Match, 0, 8)
	for _, e := range snap.entries {
		s := score(qt, e.terms)
		if s <= 0 {
			continue
		}
		if ql != "" && strings.Contains(e.titleL, ql) {
			s += titleBonus
		}
		out = append(out, Match{Dataset: e.ds.Clone(), Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Dataset.ID < out[j].Dataset.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newEntry(d model.DatasetDescriptor) *entry {
	d = d.Clone()
	terms := map[string]float64{}
	add := func(s string, w float64) {
		for _, t := range tokenize(s) {
			if terms[t] < w {
				terms[t] = w
			}
		}
	}
	add(d.Description, weightDescription)
	add(d.Variable, weightTitle)
	add(d.ID, weightTitle)
	add(d.Title, weightTitle)
	for _, k := range d.Keywords {
		add(k, weightTitle)
	}
	return &entry{
		ds:     d,
		terms:  terms,
		titleL: strings.ToLower(strings.Join(strings.Fields(d.Title), " ")),
	}
}

func buildSnapshot(byID map[string]*entry) *snapshot {
	entries := make([]*entry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ds.ID < entries[j].ds.ID })
	return &snapshot{byID: byID, entries: entries, loaded: time.Now()}
}

func idKey(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
