// Package zonal summarises subset results inside zone polygons.
package zonal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
)

// Zone is a GeoJSON Polygon or MultiPolygon. An empty CRS means the CRS of
// the result.
type Zone struct {
	ID      string `json:"id"`
	GeoJSON string `json:"geometry"`
	CRS     string `json:"crs,omitempty"`
}

// Stats covers the valid cells of one zone at one time step. StdDev is the
// population standard deviation. With Count 0 every other field is 0.
type Stats struct {
	Zone   string    `json:"zone"`
	Step   int       `json:"step"`
	Time   time.Time `json:"time,omitzero"`
	Count  int       `json:"count"`
	Sum    float64   `json:"sum"`
	Mean   float64   `json:"mean"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	StdDev float64   `json:"stddev"`
}

// Compute returns one Stats per zone and step, zones in input order. A
// cell belongs to a zone when its centre lies inside the polygon.
func Compute(res model.SubsetResult, zones []Zone, proj *geo.Projector) ([]Stats, error) {
	if len(res.Values) != res.Steps()*res.Rows*res.Cols {
		return nil, fmt.Errorf("zonal: result holds %d values, want %d", len(res.Values), res.Steps()*res.Rows*res.Cols)
	}
	if len(res.X) != res.Cols || len(res.Y) != res.Rows {
		return nil, errors.New("zonal: result is missing cell coordinates")
	}
	if proj == nil {
		proj = geo.NewProjector()
	}

	out := make([]Stats, 0, len(zones)*res.Steps())
	for _, z := range zones {
		cells, err := members(res, z, proj)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, 0, len(cells))
		for step := 0; step < res.Steps(); step++ {
			vals = vals[:0]
			for _, rc := range cells {
				v := res.At(step, rc[0], rc[1])
				if v == res.NoData || math.IsNaN(v) {
					continue
				}
				vals = append(vals, v)
			}
			s := summarise(vals)
			s.Zone, s.Step = z.ID, step
			if step < len(res.Times) {
				s.Time = res.Times[step]
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func members(res model.SubsetResult, z Zone, proj *geo.Projector) ([][2]int, error) {
	crs := z.CRS
	if crs == "" {
		crs = res.CRS
	}
	fp, err := proj.Footprint(model.AreaOfInterest{Polygon: &model.Polygon{GeoJSON: z.GeoJSON}, CRS: crs}, res.CRS)
	if err != nil {
		return nil, fmt.Errorf("zonal: zone %s: %w", z.ID, err)
	}
	if fp.Shape == nil {
		return nil, fmt.Errorf("zonal: zone %s is not a polygon", z.ID)
	}
	var cells [][2]int
	for r, y := range res.Y {
		if y < fp.Bounds.Y1 || y > fp.Bounds.Y2 {
			continue
		}
		for c, x := range res.X {
			if x < fp.Bounds.X1 || x > fp.Bounds.X2 {
				continue
			}
			if fp.Contains(x, y) {
				cells = append(cells, [2]int{r, c})
			}
		}
	}
	return cells, nil
}

func summarise(vals []float64) Stats {
	if len(vals) == 0 {
		return Stats{}
	}
	mean, variance := stat.PopMeanVariance(vals, nil)
	return Stats{
		Count:  len(vals),
		Sum:    floats.Sum(vals),
		Mean:   mean,
		Min:    floats.Min(vals),
		Max:    floats.Max(vals),
		StdDev: math.Sqrt(variance),
	}
}
