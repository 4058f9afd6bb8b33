// Package planner turns a dataset, an area of interest and a time window
// into the minimal list of tile reads that answer the request.
package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
)

// snapping tolerance in pixels
const eps = 1e-9

type Planner struct {
	proj *geo.Projector
}

func New(p *geo.Projector) *Planner {
	if p == nil {
		p = geo.NewProjector()
	}
	return &Planner{proj: p}
}

// window is the request resolved against the dataset grid.
type window struct {
	ds    model.DatasetDescriptor
	uri   *uriTemplate
	px    rect // pixel window in global grid coordinates
	bbox  model.BBox
	times timeSel
}

// Plan is deterministic for a given input and performs no I/O.
func (p *Planner) Plan(ds model.DatasetDescriptor, aoi model.AreaOfInterest, tw model.TimeWindow) (model.TilePlan, error) {
	if err := ds.Validate(); err != nil {
		return model.TilePlan{}, err
	}
	fp, err := p.proj.Footprint(aoi, ds.CRS)
	if err != nil {
		return model.TilePlan{}, fmt.Errorf("dataset %s: %w", ds.ID, err)
	}
	clip, ok := clipToExtent(fp.Bounds, ds.Grid.Extent)
	if !ok {
		return model.TilePlan{}, &model.OutOfBoundsError{DatasetID: ds.ID, AOI: aoi.String(), Extent: ds.Grid.Extent}
	}
	ts, err := selectTimes(ds, tw)
	if err != nil {
		return model.TilePlan{}, err
	}
	tmpl, err := parseURITemplate(ds)
	if err != nil {
		return model.TilePlan{}, err
	}

	w := window{ds: ds, uri: tmpl, times: ts}
	w.px = snap(ds.Grid, clip)
	w.bbox = pixelBounds(ds.Grid, w.px)

	var tiles []model.TileRef
	axis := ds.Tiling
	switch ds.Tiling {
	case model.TilingSpatial:
		if ds.Grid.Scheme == model.SchemeH3 {
			tiles, err = w.h3Tiles()
		} else {
			tiles, err = w.gridTiles()
		}
	case model.TilingTemporal:
		tiles, err = w.temporalTiles()
	default:
		axis = model.TilingNone
		tiles, err = w.wholeTile()
	}
	if err != nil {
		return model.TilePlan{}, err
	}
	if len(tiles) == 0 {
		return model.TilePlan{}, fmt.Errorf("dataset %s: empty tile plan for %s", ds.ID, aoi.String())
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].Index < tiles[j].Index })
	observability.ObservePlan(string(axis), len(tiles))

	return model.TilePlan{
		Dataset:  ds,
		AOI:      aoi,
		Window:   tw,
		Window2D: w.bbox,
		Rows:     w.px.rows(),
		Cols:     w.px.cols(),
		Times:    ts.times,
		Tiles:    tiles,
	}, nil
}

// clipToExtent intersects a footprint with the dataset extent. Degenerate
// footprints (points, lines) are accepted when they lie inside the extent.
func clipToExtent(fp, ext model.BBox) (model.BBox, bool) {
	out := model.BBox{
		X1:   max(fp.X1, ext.X1),
		Y1:   max(fp.Y1, ext.Y1),
		X2:   min(fp.X2, ext.X2),
		Y2:   min(fp.Y2, ext.Y2),
		SRID: ext.SRID,
	}
	okX := out.X1 < out.X2 || (out.X1 == out.X2 && fp.Width() == 0)
	okY := out.Y1 < out.Y2 || (out.Y1 == out.Y2 && fp.Height() == 0)
	return out, okX && okY
}

// snap converts a native-CRS box into a half-open pixel window. Row 0 is the
// top (max Y) edge of the extent. At least one pixel is always selected.
func snap(g model.Grid, b model.BBox) rect {
	cols, rows := g.Cols(), g.Rows()
	c0 := int(math.Floor((b.X1-g.Extent.X1)/g.ResX + eps))
	c1 := int(math.Ceil((b.X2-g.Extent.X1)/g.ResX - eps))
	r0 := int(math.Floor((g.Extent.Y2-b.Y2)/g.ResY + eps))
	r1 := int(math.Ceil((g.Extent.Y2-b.Y1)/g.ResY - eps))

	c0 = clampInt(c0, 0, cols-1)
	r0 = clampInt(r0, 0, rows-1)
	c1 = clampInt(c1, c0+1, cols)
	r1 = clampInt(r1, r0+1, rows)
	return rect{r0: r0, c0: c0, r1: r1, c1: c1}
}

func pixelBounds(g model.Grid, r rect) model.BBox {
	return model.BBox{
		X1:   g.Extent.X1 + float64(r.c0)*g.ResX,
		X2:   g.Extent.X1 + float64(r.c1)*g.ResX,
		Y1:   g.Extent.Y2 - float64(r.r1)*g.ResY,
		Y2:   g.Extent.Y2 - float64(r.r0)*g.ResY,
		SRID: g.Extent.SRID,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// timeSel is the half-open slice range [t0, t1) out of n coverage slices.
type timeSel struct {
	t0, t1, n int
	times     []time.Time
}

func selectTimes(ds model.DatasetDescriptor, tw model.TimeWindow) (timeSel, error) {
	cov := ds.Coverage
	if cov == nil {
		return timeSel{t0: 0, t1: 1, n: 1}, nil
	}
	start, end, ok := tw.Clip(*cov)
	if !ok {
		return timeSel{}, &model.OutOfRangeError{DatasetID: ds.ID, Window: tw, Coverage: cov}
	}
	n := cov.Step.CeilIndex(cov.Start, cov.End)
	// slice k stands for [t_k, t_k+1), so a window inside one slice keeps it
	t0 := cov.Step.FloorIndex(cov.Start, start)
	t1 := min(cov.Step.CeilIndex(cov.Start, end), n)
	if t1 <= t0 {
		return timeSel{}, &model.OutOfRangeError{DatasetID: ds.ID, Window: tw, Coverage: cov}
	}
	times := make([]time.Time, 0, t1-t0)
	for k := t0; k < t1; k++ {
		times = append(times, cov.Step.AddSteps(cov.Start, k))
	}
	return timeSel{t0: t0, t1: t1, n: n, times: times}, nil
}

// tileSpec describes one tile file before its read window is known.
type tileSpec struct {
	index    int
	row, col int
	cell     string
	file     rect // pixel extent of the file in global grid coordinates
	steps    int  // slices stored in the file
	stepBase int  // global slice index of the file's first slice
	time     time.Time
}

// ref resolves the read window of one tile. ok is false when the tile holds
// none of the requested pixels or slices.
func (w *window) ref(s tileSpec) (model.TileRef, bool, error) {
	hit, ok := s.file.intersect(w.px)
	if !ok {
		return model.TileRef{}, false, nil
	}
	t0 := max(w.times.t0, s.stepBase)
	t1 := min(w.times.t1, s.stepBase+s.steps)
	if t1 <= t0 {
		return model.TileRef{}, false, nil
	}
	g := w.ds.Grid
	ref := model.TileRef{
		Index:     s.index,
		Row:       s.row,
		Col:       s.col,
		Cell:      s.cell,
		Bounds:    pixelBounds(g, s.file),
		Crop:      pixelBounds(g, hit),
		TileRows:  s.file.rows(),
		TileCols:  s.file.cols(),
		TileSteps: s.steps,
		RowRange:  [2]int{hit.r0 - s.file.r0, hit.r1 - s.file.r0},
		ColRange:  [2]int{hit.c0 - s.file.c0, hit.c1 - s.file.c0},
		TimeRange: [2]int{t0 - s.stepBase, t1 - s.stepBase},
		OutRow:    hit.r0 - w.px.r0,
		OutCol:    hit.c0 - w.px.c0,
		OutStep:   t0 - w.times.t0,
	}
	ref.Crop.SRID = w.ds.CRS
	ref.Bounds.SRID = w.ds.CRS
	ref.Area = ref.Crop.Area()
	if cov := w.ds.Coverage; cov != nil {
		ref.TimeStart = cov.Step.AddSteps(cov.Start, t0)
		ref.TimeEnd = cov.Step.AddSteps(cov.Start, t1)
	}
	ref.ByteOffset, ref.ByteLength = byteSpan(ref, w.ds.Encoding.SampleSize(), w.ds.HeaderBytes)

	uri, err := w.uri.render(w.ds, s, ref.Bounds)
	if err != nil {
		return model.TileRef{}, false, err
	}
	ref.URI = uri
	return ref, true, nil
}

// byteSpan returns the single contiguous range covering every needed sample
// of a [t][row][col] layout.
func byteSpan(t model.TileRef, sampleSize int, header int64) (off, n int64) {
	idx := func(step, row, col int) int64 {
		return (int64(step)*int64(t.TileRows)+int64(row))*int64(t.TileCols) + int64(col)
	}
	first := idx(t.TimeRange[0], t.RowRange[0], t.ColRange[0])
	last := idx(t.TimeRange[1]-1, t.RowRange[1]-1, t.ColRange[1]-1)
	ss := int64(sampleSize)
	return header + first*ss, (last - first + 1) * ss
}

// wholeTile is the single tile of an untiled dataset.
func (w *window) wholeTile() ([]model.TileRef, error) {
	g := w.ds.Grid
	s := tileSpec{
		file:  rect{r0: 0, c0: 0, r1: g.Rows(), c1: g.Cols()},
		steps: w.times.n,
		time:  w.coverageStart(),
	}
	ref, ok, err := w.ref(s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("planner: window does not intersect the dataset grid")
	}
	return []model.TileRef{ref}, nil
}
