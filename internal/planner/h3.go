package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
)

// h3 gap filling gives up after this many rounds
const maxFillRounds = 32

// h3Tiles covers the window with the H3 cells at the dataset resolution.
// Each cell file stores the native pixels of the cell's bounding box. The
// index of a tile is its position in the sorted cell list.
func (w *window) h3Tiles() ([]model.TileRef, error) {
	if !geo.IsGeographic(w.ds.CRS) {
		return nil, fmt.Errorf("dataset %s: h3 tiling needs a geographic crs, got %q", w.ds.ID, w.ds.CRS)
	}
	res := w.ds.Grid.H3Res
	cells, err := cellsForBBox(w.bbox, res)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", w.ds.ID, err)
	}

	seen := make(map[h3.Cell]struct{}, len(cells))
	for _, c := range cells {
		seen[c] = struct{}{}
	}
	var left []rect
	var kept []candidate
	for round := 0; ; round++ {
		sorted := sortedCells(seen)
		cands, err := w.h3Candidates(sorted)
		if err != nil {
			return nil, err
		}
		kept, left = dropRedundant(w.px, cands)
		if len(left) == 0 {
			break
		}
		if round == maxFillRounds {
			return nil, fmt.Errorf("dataset %s: h3 cells leave %d region(s) of the window uncovered", w.ds.ID, len(left))
		}
		added := 0
		for _, r := range left {
			for _, ll := range w.probePoints(r) {
				c, err := h3.LatLngToCell(ll, res)
				if err != nil {
					return nil, fmt.Errorf("dataset %s: h3 cell: %w", w.ds.ID, err)
				}
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					added++
				}
			}
		}
		if added == 0 {
			return nil, fmt.Errorf("dataset %s: h3 cells leave %d region(s) of the window uncovered", w.ds.ID, len(left))
		}
	}
	return w.refs(kept)
}

func (w *window) h3Candidates(cells []h3.Cell) ([]candidate, error) {
	g := w.ds.Grid
	out := make([]candidate, 0, len(cells))
	for i, c := range cells {
		b, err := cellBounds(c)
		if err != nil {
			return nil, err
		}
		file, ok := clipToGrid(g, b)
		if !ok {
			continue
		}
		hit, ok := file.intersect(w.px)
		if !ok {
			continue
		}
		out = append(out, candidate{
			spec: tileSpec{index: i, cell: c.String(), file: file, steps: w.times.n, time: w.coverageStart()},
			hit:  hit,
		})
	}
	return out, nil
}

// probePoints returns the corners and centre pixel of r as lat/lng.
func (w *window) probePoints(r rect) []h3.LatLng {
	g := w.ds.Grid
	at := func(row, col int) h3.LatLng {
		x := g.Extent.X1 + (float64(col)+0.5)*g.ResX
		y := g.Extent.Y2 - (float64(row)+0.5)*g.ResY
		return h3.LatLng{Lat: y, Lng: x}
	}
	return []h3.LatLng{
		at(r.r0, r.c0), at(r.r0, r.c1-1), at(r.r1-1, r.c0), at(r.r1-1, r.c1-1),
		at((r.r0+r.r1)/2, (r.c0+r.c1)/2),
	}
}

// clipToGrid snaps a cell bounding box outward to whole pixels.
func clipToGrid(g model.Grid, b model.BBox) (rect, bool) {
	clip, ok := clipToExtent(b, g.Extent)
	if !ok {
		return rect{}, false
	}
	return snap(g, clip), true
}

func cellBounds(c h3.Cell) (model.BBox, error) {
	bnd, err := c.Boundary()
	if err != nil {
		return model.BBox{}, fmt.Errorf("h3 boundary %s: %w", c, err)
	}
	if len(bnd) < 3 {
		return model.BBox{}, fmt.Errorf("degenerate boundary for %s", c)
	}
	out := model.BBox{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1)}
	for _, ll := range bnd {
		out.X1 = min(out.X1, ll.Lng)
		out.X2 = max(out.X2, ll.Lng)
		out.Y1 = min(out.Y1, ll.Lat)
		out.Y2 = max(out.Y2, ll.Lat)
	}
	return out, nil
}

// cellsForBBox polyfills the box and adds the cells under its corners, so
// boxes smaller than one cell still map to at least one.
func cellsForBBox(bb model.BBox, res int) ([]h3.Cell, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	for _, ll := range outer {
		c, err := h3.LatLngToCell(ll, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell: %w", err)
		}
		cells = append(cells, c)
	}
	if len(cells) == 0 {
		return nil, errors.New("h3 polyfill returned no cells")
	}
	return cells, nil
}

// sortedCells orders by the cell string so indices are stable.
func sortedCells(set map[h3.Cell]struct{}) []h3.Cell {
	out := make([]h3.Cell, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
