// Package geo adapts ctessum/geom for projection and footprint handling.
package geo

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

const (
	EPSG4326 = "EPSG:4326"
	EPSG3857 = "EPSG:3857"
	EPSG5070 = "EPSG:5070"
)

var aliases = map[string]string{
	EPSG4326: "+proj=longlat +datum=WGS84 +no_defs",
	"CRS:84": "+proj=longlat +datum=WGS84 +no_defs",
	"WGS84":  "+proj=longlat +datum=WGS84 +no_defs",
	EPSG3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	EPSG5070: "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs",
}

// Normalize maps CRS spellings to a canonical key. Empty means EPSG:4326.
func Normalize(crs string) string {
	c := strings.TrimSpace(crs)
	if c == "" {
		return EPSG4326
	}
	up := strings.ToUpper(c)
	switch up {
	case "CRS:84", "WGS84", "EPSG:4326":
		return EPSG4326
	}
	if strings.HasPrefix(up, "EPSG:") {
		return up
	}
	// proj4 strings stay as given, modulo whitespace
	return strings.Join(strings.Fields(c), " ")
}

func SameCRS(a, b string) bool { return Normalize(a) == Normalize(b) }

// IsGeographic reports whether crs is a lon/lat system.
func IsGeographic(crs string) bool {
	n := Normalize(crs)
	if n == EPSG4326 {
		return true
	}
	return strings.Contains(n, "+proj=longlat") || strings.Contains(n, "+proj=latlong")
}

// Projector caches parsed spatial references. Safe for concurrent use.
type Projector struct {
	mu  sync.Mutex
	srs map[string]*proj.SR
}

func NewProjector() *Projector {
	return &Projector{srs: make(map[string]*proj.SR)}
}

func (p *Projector) sr(crs string) (*proj.SR, error) {
	key := Normalize(crs)
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.srs[key]; ok {
		return s, nil
	}
	def := key
	if d, ok := aliases[key]; ok {
		def = d
	}
	s, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parse crs %q: %w", crs, err)
	}
	p.srs[key] = s
	return s, nil
}

// Transformer returns a point transform from one CRS to another.
func (p *Projector) Transformer(from, to string) (proj.Transformer, error) {
	if SameCRS(from, to) {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}
	src, err := p.sr(from)
	if err != nil {
		return nil, err
	}
	dst, err := p.sr(to)
	if err != nil {
		return nil, err
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", from, to, err)
	}
	return ct, nil
}

const edgeSamples = 16

// TransformBBox reprojects b by sampling its edges and taking the bounds.
func (p *Projector) TransformBBox(b model.BBox, from, to string) (model.BBox, error) {
	if SameCRS(from, to) {
		b.SRID = Normalize(to)
		return b, nil
	}
	ct, err := p.Transformer(from, to)
	if err != nil {
		return model.BBox{}, err
	}
	bounds := geom.NewBounds()
	for i := 0; i <= edgeSamples; i++ {
		f := float64(i) / edgeSamples
		x := b.X1 + f*b.Width()
		y := b.Y1 + f*b.Height()
		for _, pt := range [][2]float64{{x, b.Y1}, {x, b.Y2}, {b.X1, y}, {b.X2, y}} {
			tx, ty, err := ct(pt[0], pt[1])
			if err != nil {
				return model.BBox{}, fmt.Errorf("transform bbox vertex: %w", err)
			}
			if math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
				continue
			}
			bounds.Extend(geom.Point{X: tx, Y: ty}.Bounds())
		}
	}
	out := FromBounds(bounds)
	out.SRID = Normalize(to)
	return out, nil
}

// TransformPoints reprojects xs/ys in place.
func (p *Projector) TransformPoints(xs, ys []float64, from, to string) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("coordinate length mismatch %d != %d", len(xs), len(ys))
	}
	if SameCRS(from, to) {
		return nil
	}
	ct, err := p.Transformer(from, to)
	if err != nil {
		return err
	}
	for i := range xs {
		x, y, err := ct(xs[i], ys[i])
		if err != nil {
			return fmt.Errorf("transform point %d: %w", i, err)
		}
		xs[i], ys[i] = x, y
	}
	return nil
}

func ToBounds(b model.BBox) *geom.Bounds {
	return &geom.Bounds{Min: geom.Point{X: b.X1, Y: b.Y1}, Max: geom.Point{X: b.X2, Y: b.Y2}}
}

func FromBounds(b *geom.Bounds) model.BBox {
	return model.BBox{X1: b.Min.X, Y1: b.Min.Y, X2: b.Max.X, Y2: b.Max.Y}
}
