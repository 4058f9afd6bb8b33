package planner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

// rect is a half-open pixel rectangle [r0,r1) x [c0,c1).
type rect struct {
	r0, c0 int
	r1, c1 int
}

func (a rect) rows() int { return a.r1 - a.r0 }
func (a rect) cols() int { return a.c1 - a.c0 }
func (a rect) area() int { return a.rows() * a.cols() }

func (a rect) intersect(b rect) (rect, bool) {
	out := rect{r0: max(a.r0, b.r0), c0: max(a.c0, b.c0), r1: min(a.r1, b.r1), c1: min(a.c1, b.c1)}
	return out, out.r1 > out.r0 && out.c1 > out.c0
}

// subtract returns a minus b as up to four disjoint rectangles.
func (a rect) subtract(b rect) []rect {
	i, ok := a.intersect(b)
	if !ok {
		return []rect{a}
	}
	out := make([]rect, 0, 4)
	if i.r0 > a.r0 {
		out = append(out, rect{r0: a.r0, c0: a.c0, r1: i.r0, c1: a.c1})
	}
	if i.r1 < a.r1 {
		out = append(out, rect{r0: i.r1, c0: a.c0, r1: a.r1, c1: a.c1})
	}
	if i.c0 > a.c0 {
		out = append(out, rect{r0: i.r0, c0: a.c0, r1: i.r1, c1: i.c0})
	}
	if i.c1 < a.c1 {
		out = append(out, rect{r0: i.r0, c0: i.c1, r1: i.r1, c1: a.c1})
	}
	return out
}

// candidate is a tile that intersects the window.
type candidate struct {
	spec tileSpec
	hit  rect
}

// dropRedundant keeps, in order of decreasing overlap with win (lowest index
// on ties), only tiles that still cover some uncovered part of win. It
// returns the kept tiles and whatever is left uncovered.
func dropRedundant(win rect, cands []candidate) (kept []candidate, uncovered []rect) {
	order := append([]candidate(nil), cands...)
	sort.SliceStable(order, func(i, j int) bool {
		ai, aj := order[i].hit.area(), order[j].hit.area()
		if ai != aj {
			return ai > aj
		}
		return order[i].spec.index < order[j].spec.index
	})

	uncovered = []rect{win}
	for _, c := range order {
		if len(uncovered) == 0 {
			break
		}
		useful := false
		next := make([]rect, 0, len(uncovered)+3)
		for _, u := range uncovered {
			if _, ok := u.intersect(c.hit); ok {
				useful = true
			}
			next = append(next, u.subtract(c.hit)...)
		}
		if !useful {
			continue
		}
		kept = append(kept, c)
		uncovered = next
	}
	return kept, uncovered
}

// gridTiles selects fixed-size tiles of TileRows x TileCols pixels. Overlap
// extends every tile by that many pixels on each side.
func (w *window) gridTiles() ([]model.TileRef, error) {
	g := w.ds.Grid
	rows, cols := g.Rows(), g.Cols()
	tr, tc := g.TileRows, g.TileCols
	nRows := (rows + tr - 1) / tr
	nCols := (cols + tc - 1) / tc
	ov := int(math.Round(g.Overlap))

	// tile rows/cols whose overlap-expanded extent can touch the window
	rowLo := clampInt((w.px.r0-ov)/tr-1, 0, nRows-1)
	rowHi := clampInt((w.px.r1+ov)/tr+1, 0, nRows-1)
	colLo := clampInt((w.px.c0-ov)/tc-1, 0, nCols-1)
	colHi := clampInt((w.px.c1+ov)/tc+1, 0, nCols-1)

	var cands []candidate
	for r := rowLo; r <= rowHi; r++ {
		for c := colLo; c <= colHi; c++ {
			file := rect{
				r0: max(r*tr-ov, 0),
				c0: max(c*tc-ov, 0),
				r1: min((r+1)*tr+ov, rows),
				c1: min((c+1)*tc+ov, cols),
			}
			hit, ok := file.intersect(w.px)
			if !ok {
				continue
			}
			cands = append(cands, candidate{
				spec: tileSpec{index: r*nCols + c, row: r, col: c, file: file, steps: w.times.n, time: w.coverageStart()},
				hit:  hit,
			})
		}
	}
	kept, left := dropRedundant(w.px, cands)
	if len(left) > 0 {
		return nil, fmt.Errorf("dataset %s: tile grid leaves %d region(s) of the window uncovered", w.ds.ID, len(left))
	}
	return w.refs(kept)
}

func (w *window) refs(kept []candidate) ([]model.TileRef, error) {
	out := make([]model.TileRef, 0, len(kept))
	for _, c := range kept {
		ref, ok, err := w.ref(c.spec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// coverageStart is the time handed to URL templates of files that hold the
// whole time axis.
func (w *window) coverageStart() time.Time {
	if w.ds.Coverage == nil {
		return time.Time{}
	}
	return w.ds.Coverage.Start
}
