package planner

import "github.com/mohammed-shakir/tiled-subset/internal/core/model"

// temporalTiles emits one tile per chunk file holding a selected slice.
// A chunk's index counts chunks from the one containing the coverage start.
func (w *window) temporalTiles() ([]model.TileRef, error) {
	cov := w.ds.Coverage
	chunk := cov.Chunk
	if chunk == "" {
		chunk = model.ChunkMonth
	}
	g := w.ds.Grid
	full := rect{r0: 0, c0: 0, r1: g.Rows(), c1: g.Cols()}

	first := w.times.times[0]
	last := w.times.times[len(w.times.times)-1]

	index := 0
	start := chunk.Truncate(cov.Start)
	for !chunk.Next(start).After(first) {
		start = chunk.Next(start)
		index++
	}

	var out []model.TileRef
	for c := start; !c.After(last); c = chunk.Next(c) {
		k0 := cov.Step.CeilIndex(cov.Start, c)
		k1 := min(cov.Step.CeilIndex(cov.Start, chunk.Next(c)), w.times.n)
		if k1 > k0 {
			ref, ok, err := w.ref(tileSpec{
				index:    index,
				file:     full,
				steps:    k1 - k0,
				stepBase: k0,
				time:     c,
			})
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, ref)
			}
		}
		index++
	}
	return out, nil
}
