package fetcher

import (
	"fmt"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
)

// merge stitches the slots in ascending tile order. A cell already written
// by a lower-index tile is kept, so overlapping tiles never duplicate.
func (f *Fetcher) merge(plan model.TilePlan, slots []slot) (model.SubsetResult, error) {
	ds := plan.Dataset
	rows, cols, steps := plan.Rows, plan.Cols, plan.Steps()
	plane := rows * cols

	values := make([]float64, steps*plane)
	for i := range values {
		values[i] = ds.NoData
	}
	written := make([]bool, len(values))

	for i, t := range plan.Tiles {
		src := slots[i].values
		tRows := t.RowRange[1] - t.RowRange[0]
		tCols := t.ColRange[1] - t.ColRange[0]
		if want := (t.TimeRange[1] - t.TimeRange[0]) * tRows * tCols; len(src) != want {
			return model.SubsetResult{}, fmt.Errorf("dataset %s: %s decoded %d samples want %d", ds.ID, t.String(), len(src), want)
		}
		k := 0
		for s := 0; s < t.TimeRange[1]-t.TimeRange[0]; s++ {
			ostep := t.OutStep + s
			for r := 0; r < tRows; r++ {
				orow := t.OutRow + r
				for c := 0; c < tCols; c++ {
					v := src[k]
					k++
					ocol := t.OutCol + c
					if ostep >= steps || orow >= rows || ocol >= cols {
						return model.SubsetResult{}, fmt.Errorf("dataset %s: %s writes outside the output window", ds.ID, t.String())
					}
					o := ostep*plane + orow*cols + ocol
					if written[o] {
						continue
					}
					values[o] = v
					written[o] = true
				}
			}
		}
	}

	g := ds.Grid
	xs := make([]float64, cols)
	for c := range xs {
		xs[c] = plan.Window2D.X1 + (float64(c)+0.5)*g.ResX
	}
	ys := make([]float64, rows)
	for r := range ys {
		ys[r] = plan.Window2D.Y2 - (float64(r)+0.5)*g.ResY
	}

	fp, err := f.proj.Footprint(plan.AOI, ds.CRS)
	if err != nil {
		return model.SubsetResult{}, fmt.Errorf("dataset %s: %w", ds.ID, err)
	}
	if fp.Shape != nil {
		for r, y := range ys {
			for c, x := range xs {
				if fp.Contains(x, y) {
					continue
				}
				for s := 0; s < steps; s++ {
					values[s*plane+r*cols+c] = ds.NoData
				}
			}
		}
	}

	var total int64
	for _, t := range plan.Tiles {
		total += t.ByteLength
	}
	res := model.SubsetResult{
		DatasetID: ds.ID,
		Variable:  ds.Variable,
		CRS:       ds.CRS,
		Rows:      rows,
		Cols:      cols,
		Times:     append([]time.Time(nil), plan.Times...),
		X:         xs,
		Y:         ys,
		Values:    values,
		NoData:    ds.NoData,
		Tiles:     len(plan.Tiles),
		Bytes:     total,
	}

	target := aoiCRS(plan.AOI)
	if !geo.SameCRS(target, ds.CRS) {
		lon := make([]float64, 0, plane)
		lat := make([]float64, 0, plane)
		for _, y := range ys {
			for _, x := range xs {
				lon = append(lon, x)
				lat = append(lat, y)
			}
		}
		if err := f.proj.TransformPoints(lon, lat, ds.CRS, target); err != nil {
			return model.SubsetResult{}, fmt.Errorf("dataset %s: cell coordinates to %s: %w", ds.ID, target, err)
		}
		res.TargetCRS = geo.Normalize(target)
		res.Lon, res.Lat = lon, lat
	}
	return res, nil
}

func aoiCRS(a model.AreaOfInterest) string {
	if a.CRS != "" {
		return a.CRS
	}
	if a.BBox != nil && a.BBox.SRID != "" {
		return a.BBox.SRID
	}
	return geo.EPSG4326
}
