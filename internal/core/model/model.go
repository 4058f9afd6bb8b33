// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"
)

type TilingAxis string

const (
	TilingNone     TilingAxis = "none"
	TilingSpatial  TilingAxis = "spatial"
	TilingTemporal TilingAxis = "temporal"
)

type SpatialScheme string

const (
	SchemeGrid SpatialScheme = "grid"
	SchemeH3   SpatialScheme = "h3"
)

type Encoding string

const (
	EncodingFloat32LE Encoding = "float32le"
	EncodingFloat64LE Encoding = "float64le"
	EncodingInt16BE   Encoding = "int16be"
)

// SampleSize returns the width in bytes of one encoded sample.
func (e Encoding) SampleSize() int {
	switch e {
	case EncodingFloat64LE:
		return 8
	case EncodingInt16BE:
		return 2
	default:
		return 4
	}
}

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }
func (b BBox) Area() float64   { return b.Width() * b.Height() }

func (b BBox) Empty() bool { return !(b.X2 > b.X1 && b.Y2 > b.Y1) }

// Intersect returns the overlap of b and o. ok is false when the overlap has no area.
func (b BBox) Intersect(o BBox) (out BBox, ok bool) {
	out = BBox{
		X1:   max(b.X1, o.X1),
		Y1:   max(b.Y1, o.Y1),
		X2:   min(b.X2, o.X2),
		Y2:   min(b.Y2, o.Y2),
		SRID: b.SRID,
	}
	return out, !out.Empty()
}

func (b BBox) Contains(o BBox) bool {
	return o.X1 >= b.X1 && o.Y1 >= b.Y1 && o.X2 <= b.X2 && o.Y2 <= b.Y2
}

// Expand grows the box by d on every side.
func (b BBox) Expand(d float64) BBox {
	return BBox{X1: b.X1 - d, Y1: b.Y1 - d, X2: b.X2 + d, Y2: b.Y2 + d, SRID: b.SRID}
}

type Polygon struct {
	GeoJSON string
}

type Grid struct {
	Extent   BBox          `json:"extent"`
	ResX     float64       `json:"res_x"`
	ResY     float64       `json:"res_y"`
	Scheme   SpatialScheme `json:"scheme,omitempty"`
	TileRows int           `json:"tile_rows,omitempty"`
	TileCols int           `json:"tile_cols,omitempty"`
	Overlap  float64       `json:"overlap,omitempty"`
	H3Res    int           `json:"h3_res,omitempty"`
}

// Cols is the number of native pixels across the full extent.
func (g Grid) Cols() int {
	if g.ResX <= 0 {
		return 0
	}
	return int(roundHalf(g.Extent.Width() / g.ResX))
}

// Rows is the number of native pixels down the full extent.
func (g Grid) Rows() int {
	if g.ResY <= 0 {
		return 0
	}
	return int(roundHalf(g.Extent.Height() / g.ResY))
}

func roundHalf(v float64) float64 {
	return float64(int64(v + 0.5))
}

type DatasetDescriptor struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	URLTemplate string     `json:"url_template"`
	Variable    string     `json:"variable"`
	CRS         string     `json:"crs"`
	Grid        Grid       `json:"grid"`
	Coverage    *Coverage  `json:"coverage,omitempty"`
	Tiling      TilingAxis `json:"tiling"`
	Encoding    Encoding   `json:"encoding,omitempty"`
	NoData      float64    `json:"nodata"`
	HeaderBytes int64      `json:"header_bytes,omitempty"`
	Version     uint64     `json:"version,omitempty"`
}

// Clone returns a copy that shares no mutable state with d.
func (d DatasetDescriptor) Clone() DatasetDescriptor {
	out := d
	if d.Keywords != nil {
		out.Keywords = append([]string(nil), d.Keywords...)
	}
	if d.Coverage != nil {
		c := *d.Coverage
		out.Coverage = &c
	}
	return out
}

func (d DatasetDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("dataset id is required")
	}
	if strings.TrimSpace(d.URLTemplate) == "" {
		return fmt.Errorf("dataset %s: url_template is required", d.ID)
	}
	if d.Grid.Extent.Empty() {
		return fmt.Errorf("dataset %s: grid extent is empty", d.ID)
	}
	if d.Grid.ResX <= 0 || d.Grid.ResY <= 0 {
		return fmt.Errorf("dataset %s: grid resolution must be positive", d.ID)
	}
	switch d.Tiling {
	case TilingNone, "":
	case TilingSpatial:
		switch d.Grid.Scheme {
		case SchemeGrid, "":
			if d.Grid.TileRows <= 0 || d.Grid.TileCols <= 0 {
				return fmt.Errorf("dataset %s: spatial grid tiling needs tile_rows and tile_cols", d.ID)
			}
		case SchemeH3:
			if d.Grid.H3Res < 0 || d.Grid.H3Res > 15 {
				return fmt.Errorf("dataset %s: invalid h3 resolution %d", d.ID, d.Grid.H3Res)
			}
		default:
			return fmt.Errorf("dataset %s: unknown spatial scheme %q", d.ID, d.Grid.Scheme)
		}
	case TilingTemporal:
		if d.Coverage == nil {
			return fmt.Errorf("dataset %s: temporal tiling needs a coverage", d.ID)
		}
	default:
		return fmt.Errorf("dataset %s: unknown tiling axis %q", d.ID, d.Tiling)
	}
	if d.Coverage != nil {
		if err := d.Coverage.Validate(); err != nil {
			return fmt.Errorf("dataset %s: %w", d.ID, err)
		}
	}
	switch d.Encoding {
	case "", EncodingFloat32LE, EncodingFloat64LE, EncodingInt16BE:
	default:
		return fmt.Errorf("dataset %s: unknown encoding %q", d.ID, d.Encoding)
	}
	return nil
}

// AreaOfInterest is either a bbox or a GeoJSON polygon/point in CRS.
type AreaOfInterest struct {
	BBox    *BBox
	Polygon *Polygon
	CRS     string
	Buffer  float64
}

func (a AreaOfInterest) String() string {
	switch {
	case a.Polygon != nil:
		return fmt.Sprintf("polygon(%s)+%g", a.CRS, a.Buffer)
	case a.BBox != nil:
		return fmt.Sprintf("bbox(%s)+%g", a.BBox.String(), a.Buffer)
	default:
		return "empty"
	}
}

type TileRef struct {
	Index     int       `json:"index"`
	Row       int       `json:"row"`
	Col       int       `json:"col"`
	Cell      string    `json:"cell,omitempty"`
	URI       string    `json:"uri"`
	TimeStart time.Time `json:"time_start,omitzero"`
	TimeEnd   time.Time `json:"time_end,omitzero"`
	Bounds    BBox      `json:"bounds"`
	Crop      BBox      `json:"crop"`
	// Pixel window of the tile file itself.
	TileRows  int `json:"tile_rows"`
	TileCols  int `json:"tile_cols"`
	TileSteps int `json:"tile_steps"`
	// Half-open index ranges inside the tile.
	RowRange  [2]int `json:"row_range"`
	ColRange  [2]int `json:"col_range"`
	TimeRange [2]int `json:"time_range"`
	// Position of RowRange[0]/ColRange[0]/TimeRange[0] in the output array.
	OutRow  int `json:"out_row"`
	OutCol  int `json:"out_col"`
	OutStep int `json:"out_step"`

	ByteOffset int64   `json:"byte_offset"`
	ByteLength int64   `json:"byte_length"`
	Area       float64 `json:"area"`
}

func (t TileRef) String() string {
	if t.Cell != "" {
		return fmt.Sprintf("tile#%d(%s)", t.Index, t.Cell)
	}
	return fmt.Sprintf("tile#%d(r%d,c%d)", t.Index, t.Row, t.Col)
}

type TilePlan struct {
	Dataset DatasetDescriptor
	AOI     AreaOfInterest
	Window  TimeWindow
	// Native-CRS window the output covers.
	Window2D BBox
	Rows     int
	Cols     int
	Times    []time.Time
	Tiles    []TileRef
}

func (p TilePlan) Steps() int {
	if len(p.Times) == 0 {
		return 1
	}
	return len(p.Times)
}

type SubsetResult struct {
	DatasetID string      `json:"dataset_id"`
	Variable  string      `json:"variable"`
	CRS       string      `json:"crs"`
	Rows      int         `json:"rows"`
	Cols      int         `json:"cols"`
	Times     []time.Time `json:"times,omitempty"`
	X         []float64   `json:"x"`
	Y         []float64   `json:"y"`
	TargetCRS string      `json:"target_crs,omitempty"`
	Lon       []float64   `json:"lon,omitempty"`
	Lat       []float64   `json:"lat,omitempty"`
	Values    []float64   `json:"values"`
	NoData    float64     `json:"nodata"`
	Tiles     int         `json:"tiles"`
	Bytes     int64       `json:"bytes"`
}

func (r SubsetResult) Steps() int {
	if len(r.Times) == 0 {
		return 1
	}
	return len(r.Times)
}

// At returns the value for time step t, row and col.
func (r SubsetResult) At(t, row, col int) float64 {
	return r.Values[(t*r.Rows+row)*r.Cols+col]
}
