package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBBoxIntersect_PartialAndDisjoint(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 5, Y1: -5, X2: 15, Y2: 5}

	got, ok := a.Intersect(b)
	if !ok {
		t.Fatalf("expected overlap")
	}
	want := BBox{X1: 5, Y1: 0, X2: 10, Y2: 5}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	// touching edges have no area
	if _, ok := a.Intersect(BBox{X1: 10, Y1: 0, X2: 20, Y2: 10}); ok {
		t.Fatalf("edge-touching boxes must not intersect")
	}
}

func TestGridRowsCols(t *testing.T) {
	g := Grid{Extent: BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}, ResX: 0.5, ResY: 0.5}
	if g.Cols() != 720 || g.Rows() != 360 {
		t.Fatalf("cols=%d rows=%d want 720x360", g.Cols(), g.Rows())
	}
}

func TestCeilIndex_DayAndMonth(t *testing.T) {
	base := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		step TimeStep
		at   time.Time
		want int
	}{
		{StepDay, base, 0},
		{StepDay, time.Date(2017, 1, 2, 0, 0, 0, 0, time.UTC), 1},
		{StepDay, time.Date(2017, 1, 2, 6, 0, 0, 0, time.UTC), 2},
		{StepMonth, time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC), 2},
		{StepMonth, time.Date(2017, 3, 2, 0, 0, 0, 0, time.UTC), 3},
		{StepHour, base.Add(90 * time.Minute), 2},
	}
	for _, c := range cases {
		if got := c.step.CeilIndex(base, c.at); got != c.want {
			t.Fatalf("%s CeilIndex(%s)=%d want %d", c.step, c.at, got, c.want)
		}
	}
}

func TestFloorIndex_DayAndMonth(t *testing.T) {
	base := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		step TimeStep
		at   time.Time
		want int
	}{
		{StepDay, base, 0},
		{StepDay, base.Add(-time.Hour), 0},
		{StepDay, time.Date(2017, 1, 2, 0, 0, 0, 0, time.UTC), 1},
		{StepDay, time.Date(2017, 1, 2, 6, 0, 0, 0, time.UTC), 1},
		{StepMonth, time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC), 2},
		{StepMonth, time.Date(2017, 3, 5, 0, 0, 0, 0, time.UTC), 2},
		{StepHour, base.Add(90 * time.Minute), 1},
	}
	for _, c := range cases {
		if got := c.step.FloorIndex(base, c.at); got != c.want {
			t.Fatalf("%s FloorIndex(%s)=%d want %d", c.step, c.at, got, c.want)
		}
	}
}

func TestTimeWindowClip(t *testing.T) {
	cov := Coverage{
		Start: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		Step:  StepDay,
	}
	if s, e, ok := (TimeWindow{}).Clip(cov); !ok || !s.Equal(cov.Start) || !e.Equal(cov.End) {
		t.Fatalf("unbounded window should clip to coverage, got %s %s %v", s, e, ok)
	}
	w := NewTimeWindow(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC))
	if _, _, ok := w.Clip(cov); ok {
		t.Fatalf("window after coverage must not clip")
	}
}

func TestValidate_RejectsIncompleteDescriptors(t *testing.T) {
	ok := DatasetDescriptor{
		ID:          "a",
		URLTemplate: "mem://a.bin",
		Grid:        Grid{Extent: BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}, ResX: 0.1, ResY: 0.1},
		Tiling:      TilingNone,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}

	sp := ok
	sp.Tiling = TilingSpatial
	if err := sp.Validate(); err == nil {
		t.Fatalf("spatial tiling without tile grid should fail")
	}

	tm := ok
	tm.Tiling = TilingTemporal
	if err := tm.Validate(); err == nil {
		t.Fatalf("temporal tiling without coverage should fail")
	}
}

func TestIncompleteSubsetError_NamesMissingTiles(t *testing.T) {
	inner := fmt.Errorf("read: %w", ErrNotExist)
	err := error(&IncompleteSubsetError{
		DatasetID: "ds",
		Missing:   []TileRef{{Index: 3, Row: 1, Col: 1, URI: "mem://t3"}},
		Err:       inner,
	})

	var inc *IncompleteSubsetError
	if !errors.As(err, &inc) {
		t.Fatalf("errors.As failed")
	}
	if len(inc.Missing) != 1 || inc.Missing[0].Index != 3 {
		t.Fatalf("missing=%+v", inc.Missing)
	}
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist in chain")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent classification")
	}
}
