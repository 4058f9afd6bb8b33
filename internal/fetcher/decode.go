package fetcher

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

// decodeTile extracts the samples of t's read window from the raw byte span,
// laid out [step][row][col] over the window only. Samples equal to nodata or
// NaN become nodata.
func decodeTile(t model.TileRef, enc model.Encoding, nodata float64, raw []byte) ([]float64, error) {
	ss := int64(enc.SampleSize())
	if int64(len(raw)) != t.ByteLength {
		return nil, fmt.Errorf("%s: got %d bytes want %d", t.String(), len(raw), t.ByteLength)
	}
	read := sampleFunc(enc)

	steps := t.TimeRange[1] - t.TimeRange[0]
	rows := t.RowRange[1] - t.RowRange[0]
	cols := t.ColRange[1] - t.ColRange[0]
	first := sampleIndex(t, t.TimeRange[0], t.RowRange[0], t.ColRange[0])

	out := make([]float64, 0, steps*rows*cols)
	for s := t.TimeRange[0]; s < t.TimeRange[1]; s++ {
		for r := t.RowRange[0]; r < t.RowRange[1]; r++ {
			base := (sampleIndex(t, s, r, t.ColRange[0]) - first) * ss
			for c := 0; c < cols; c++ {
				p := base + int64(c)*ss
				if p < 0 || p+ss > int64(len(raw)) {
					return nil, fmt.Errorf("%s: sample (%d,%d,%d) outside byte span", t.String(), s, r, t.ColRange[0]+c)
				}
				v := read(raw[p : p+ss])
				if math.IsNaN(v) || v == nodata {
					v = nodata
				}
				out = append(out, v)
			}
		}
	}
	return out, nil
}

func sampleIndex(t model.TileRef, step, row, col int) int64 {
	return (int64(step)*int64(t.TileRows)+int64(row))*int64(t.TileCols) + int64(col)
}

func sampleFunc(enc model.Encoding) func([]byte) float64 {
	switch enc {
	case model.EncodingFloat64LE:
		return func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
	case model.EncodingInt16BE:
		return func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) }
	default:
		return func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	}
}
