package model

import (
	"fmt"
	"time"
)

type TimeStep string

const (
	StepHour  TimeStep = "hour"
	StepDay   TimeStep = "day"
	StepMonth TimeStep = "month"
)

type TimeChunk string

const (
	ChunkDay   TimeChunk = "day"
	ChunkMonth TimeChunk = "month"
	ChunkYear  TimeChunk = "year"
)

// Coverage is the temporal extent of a dataset, [Start, End).
type Coverage struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Step  TimeStep  `json:"step"`
	Chunk TimeChunk `json:"chunk,omitempty"`
}

func (c Coverage) Validate() error {
	if !c.End.After(c.Start) {
		return fmt.Errorf("coverage end %s must be after start %s", c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	}
	switch c.Step {
	case StepHour, StepDay, StepMonth:
	default:
		return fmt.Errorf("unknown coverage step %q", c.Step)
	}
	switch c.Chunk {
	case "", ChunkDay, ChunkMonth, ChunkYear:
	default:
		return fmt.Errorf("unknown coverage chunk %q", c.Chunk)
	}
	return nil
}

func (c Coverage) String() string {
	return fmt.Sprintf("[%s, %s) step=%s", c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339), c.Step)
}

// AddSteps advances t by n coverage steps.
func (s TimeStep) AddSteps(t time.Time, n int) time.Time {
	switch s {
	case StepHour:
		return t.Add(time.Duration(n) * time.Hour)
	case StepMonth:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// FloorIndex returns the largest k >= 0 such that base+k steps is not after t,
// the slice whose interval [t_k, t_k+1) holds t.
func (s TimeStep) FloorIndex(base, t time.Time) int {
	k := s.CeilIndex(base, t)
	if k > 0 && s.AddSteps(base, k).After(t) {
		k--
	}
	return k
}

// CeilIndex returns the smallest k >= 0 such that base+k steps is not before t.
func (s TimeStep) CeilIndex(base, t time.Time) int {
	if !t.After(base) {
		return 0
	}
	switch s {
	case StepMonth:
		k := (t.Year()-base.Year())*12 + int(t.Month()-base.Month())
		if k < 0 {
			k = 0
		}
		for s.AddSteps(base, k).Before(t) {
			k++
		}
		for k > 0 && !s.AddSteps(base, k-1).Before(t) {
			k--
		}
		return k
	default:
		d := time.Hour
		if s == StepDay {
			d = 24 * time.Hour
		}
		k := int(t.Sub(base) / d)
		for s.AddSteps(base, k).Before(t) {
			k++
		}
		return k
	}
}

// Truncate returns the start of the chunk containing t, in t's location.
func (c TimeChunk) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	switch c {
	case ChunkDay:
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	case ChunkYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	}
}

// Next returns the start of the chunk following the one starting at t.
func (c TimeChunk) Next(t time.Time) time.Time {
	switch c {
	case ChunkDay:
		return t.AddDate(0, 0, 1)
	case ChunkYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// TimeWindow is a half-open interval; a nil bound is unbounded.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}

func NewTimeWindow(start, end time.Time) TimeWindow {
	return TimeWindow{Start: &start, End: &end}
}

func (w TimeWindow) Unbounded() bool { return w.Start == nil && w.End == nil }

// Clip returns w ∩ c. ok is false when the intersection is empty.
func (w TimeWindow) Clip(c Coverage) (start, end time.Time, ok bool) {
	start, end = c.Start, c.End
	if w.Start != nil && w.Start.After(start) {
		start = *w.Start
	}
	if w.End != nil && w.End.Before(end) {
		end = *w.End
	}
	return start, end, end.After(start)
}

func (w TimeWindow) String() string {
	f := func(t *time.Time, def string) string {
		if t == nil {
			return def
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", f(w.Start, "-inf"), f(w.End, "+inf"))
}
