package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ctessum/geom"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

// Footprint is an area of interest resolved into a target CRS.
type Footprint struct {
	Bounds model.BBox
	// Shape is nil for points and for boxes already in the target CRS; cells
	// are then kept by bounds alone.
	Shape geom.Polygonal
}

// Contains reports whether a cell centre belongs to the footprint.
func (f Footprint) Contains(x, y float64) bool {
	if f.Shape == nil {
		return true
	}
	return geom.Point{X: x, Y: y}.Within(f.Shape) != geom.Outside
}

// Footprint resolves aoi into crs. A positive buffer widens the bounds and
// turns polygon masking off, so the buffered window is returned whole.
func (p *Projector) Footprint(aoi model.AreaOfInterest, crs string) (Footprint, error) {
	from := aoi.CRS
	if from == "" && aoi.BBox != nil {
		from = aoi.BBox.SRID
	}

	switch {
	case aoi.Polygon != nil:
		g, err := ParseGeoJSON(aoi.Polygon.GeoJSON)
		if err != nil {
			return Footprint{}, err
		}
		b := FromBounds(g.Bounds())
		if aoi.Buffer > 0 {
			b = b.Expand(aoi.Buffer)
		}
		nb, err := p.TransformBBox(b, from, crs)
		if err != nil {
			return Footprint{}, err
		}
		fp := Footprint{Bounds: nb}
		poly, ok := g.(geom.Polygonal)
		if !ok || aoi.Buffer > 0 {
			return fp, nil
		}
		if !SameCRS(from, crs) {
			ct, err := p.Transformer(from, crs)
			if err != nil {
				return Footprint{}, err
			}
			tg, err := poly.Transform(ct)
			if err != nil {
				return Footprint{}, fmt.Errorf("reproject footprint: %w", err)
			}
			if tp, ok := tg.(geom.Polygonal); ok {
				poly = tp
			}
		}
		fp.Shape = poly
		return fp, nil

	case aoi.BBox != nil:
		b := *aoi.BBox
		if b.Empty() && !(b.X1 == b.X2 || b.Y1 == b.Y2) {
			return Footprint{}, fmt.Errorf("bbox %s is inverted", b.String())
		}
		if aoi.Buffer > 0 {
			b = b.Expand(aoi.Buffer)
		}
		nb, err := p.TransformBBox(b, from, crs)
		if err != nil {
			return Footprint{}, err
		}
		fp := Footprint{Bounds: nb}
		if SameCRS(from, crs) || aoi.Buffer > 0 || b.Width() == 0 || b.Height() == 0 {
			return fp, nil
		}
		// a reprojected box is a curved quad; mask by its densified ring
		ct, err := p.Transformer(from, crs)
		if err != nil {
			return Footprint{}, err
		}
		tg, err := boxRing(b).Transform(ct)
		if err != nil {
			return Footprint{}, fmt.Errorf("reproject bbox footprint: %w", err)
		}
		if tp, ok := tg.(geom.Polygonal); ok {
			fp.Shape = tp
		}
		return fp, nil

	default:
		return Footprint{}, errors.New("area of interest needs a bbox or a geometry")
	}
}

// boxRing walks the edges of b counter-clockwise with edgeSamples points per
// edge so the ring keeps its shape once reprojected.
func boxRing(b model.BBox) geom.Polygon {
	ring := make(geom.Path, 0, 4*edgeSamples)
	for i := 0; i < edgeSamples; i++ {
		ring = append(ring, geom.Point{X: b.X1 + b.Width()*float64(i)/edgeSamples, Y: b.Y1})
	}
	for i := 0; i < edgeSamples; i++ {
		ring = append(ring, geom.Point{X: b.X2, Y: b.Y1 + b.Height()*float64(i)/edgeSamples})
	}
	for i := 0; i < edgeSamples; i++ {
		ring = append(ring, geom.Point{X: b.X2 - b.Width()*float64(i)/edgeSamples, Y: b.Y2})
	}
	for i := 0; i < edgeSamples; i++ {
		ring = append(ring, geom.Point{X: b.X1, Y: b.Y2 - b.Height()*float64(i)/edgeSamples})
	}
	return geom.Polygon{ring}
}

// ParseGeoJSON reads a Point, Polygon or MultiPolygon geometry.
func ParseGeoJSON(raw string) (geom.Geom, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch hdr.Type {
	case "Point":
		var tmp struct {
			Coordinates []float64 `json:"coordinates"`
		}
		if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
			return nil, fmt.Errorf("parse point coords: %w", err)
		}
		if len(tmp.Coordinates) < 2 {
			return nil, errors.New("point needs two coordinates")
		}
		return geom.Point{X: tmp.Coordinates[0], Y: tmp.Coordinates[1]}, nil

	case "Polygon":
		var tmp struct {
			Coordinates [][][]float64 `json:"coordinates"` // [ring][i][lon,lat]
		}
		if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		return toPolygon(tmp.Coordinates)

	case "MultiPolygon":
		var tmp struct {
			Coordinates [][][][]float64 `json:"coordinates"` // [poly][ring][i][lon,lat]
		}
		if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(tmp.Coordinates) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		out := make(geom.MultiPolygon, 0, len(tmp.Coordinates))
		for pi, rings := range tmp.Coordinates {
			p, err := toPolygon(rings)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			out = append(out, p)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", hdr.Type)
	}
}

func toPolygon(rings [][][]float64) (geom.Polygon, error) {
	if len(rings) == 0 {
		return nil, errors.New("empty polygon")
	}
	out := make(geom.Polygon, 0, len(rings))
	for i, r := range rings {
		path := toPath(r)
		if len(path) < 3 {
			if i == 0 {
				return nil, errors.New("outer ring has < 4 vertices")
			}
			return nil, fmt.Errorf("hole %d has < 4 vertices", i-1)
		}
		out = append(out, path)
	}
	return out, nil
}

// toPath converts a GeoJSON ring to a geom.Path, dropping the closing vertex.
func toPath(coords [][]float64) geom.Path {
	path := make(geom.Path, 0, len(coords))
	for _, xy := range coords {
		if len(xy) < 2 {
			continue
		}
		path = append(path, geom.Point{X: xy[0], Y: xy[1]})
	}
	if len(path) >= 2 && path[0] == path[len(path)-1] {
		path = path[:len(path)-1]
	}
	return path
}
