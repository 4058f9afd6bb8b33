package subset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/catalog"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/fetcher"
	"github.com/mohammed-shakir/tiled-subset/internal/planner"
	"github.com/mohammed-shakir/tiled-subset/internal/subsetevents"
)

type mapReader struct {
	files map[string][]byte
	block bool
}

func (m *mapReader) ReadRange(ctx context.Context, uri string, off, n int64) ([]byte, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b, ok := m.files[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotExist, uri)
	}
	return b[off : off+n], nil
}

type recorder struct {
	mu     sync.Mutex
	events []subsetevents.Event
}

func (r *recorder) Publish(ev subsetevents.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func quad() model.DatasetDescriptor {
	return model.DatasetDescriptor{
		ID:          "quad",
		Title:       "Quad test grid",
		Keywords:    []string{"synthetic"},
		URLTemplate: "mem://quad/t_{{.Row}}_{{.Col}}.bin",
		Variable:    "v",
		CRS:         "EPSG:4326",
		Grid: model.Grid{
			Extent: model.BBox{X1: 0, Y1: 0, X2: 4, Y2: 4},
			ResX:   1, ResY: 1,
			Scheme:   model.SchemeGrid,
			TileRows: 2, TileCols: 2,
		},
		Tiling:   model.TilingSpatial,
		Encoding: model.EncodingFloat32LE,
		NoData:   -9999,
	}
}

func quadReader() *mapReader {
	r := &mapReader{files: map[string][]byte{}}
	for tr := 0; tr < 2; tr++ {
		for tc := 0; tc < 2; tc++ {
			buf := make([]byte, 16)
			for i := 0; i < 4; i++ {
				v := float32((tr*2+i/2)*10 + tc*2 + i%2)
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			}
			r.files[fmt.Sprintf("mem://quad/t_%d_%d.bin", tr, tc)] = buf
		}
	}
	return r
}

func newService(t *testing.T, r *mapReader, opts ...Option) (*Service, *recorder) {
	t.Helper()
	cat := catalog.New(nil)
	if err := cat.Replace([]model.DatasetDescriptor{quad()}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	cfg := fetcher.DefaultConfig()
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	cfg.TileTimeout = 0
	rec := &recorder{}
	opts = append([]Option{WithEvents(rec)}, opts...)
	return New(cat, planner.New(nil), fetcher.New(r, cfg, nil, nil), opts...), rec
}

func aoi(x1, y1, x2, y2 float64) model.AreaOfInterest {
	return model.AreaOfInterest{BBox: &model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2, SRID: "EPSG:4326"}}
}

func TestSubset_ByQueryStitchesTiles(t *testing.T) {
	svc, rec := newService(t, quadReader())

	res, err := svc.Subset(context.Background(), Request{Query: "test grid", AOI: aoi(1, 1, 3, 3)})
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if res.DatasetID != "quad" || res.Rows != 2 || res.Cols != 2 || res.Tiles != 4 {
		t.Fatalf("result=%+v", res)
	}
	want := []float64{11, 12, 21, 22}
	for i, v := range want {
		if res.Values[i] != v {
			t.Fatalf("values=%v want %v", res.Values, want)
		}
	}
	if len(rec.events) != 1 {
		t.Fatalf("events=%d want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Dataset != "quad" || ev.Outcome != "ok" || ev.Tiles != 4 || ev.Bytes != 16 || ev.RequestID == "" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestSubset_UnknownDatasetID(t *testing.T) {
	svc, rec := newService(t, quadReader())

	_, err := svc.Subset(context.Background(), Request{DatasetID: "nope", AOI: aoi(1, 1, 3, 3)})
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err=%v want NotFoundError", err)
	}
	if got := rec.events[0].Outcome; got != "not_found" {
		t.Fatalf("outcome=%q want not_found", got)
	}
}

func TestSubset_RequiresAOIAndDataset(t *testing.T) {
	svc, _ := newService(t, quadReader())

	if _, err := svc.Subset(context.Background(), Request{DatasetID: "quad"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing aoi: err=%v", err)
	}
	if _, err := svc.Subset(context.Background(), Request{AOI: aoi(1, 1, 3, 3)}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing dataset: err=%v", err)
	}
}

func TestSubset_DisjointAOIIsOutOfBounds(t *testing.T) {
	svc, _ := newService(t, quadReader())

	_, err := svc.Subset(context.Background(), Request{DatasetID: "quad", AOI: aoi(10, 10, 12, 12)})
	var oob *model.OutOfBoundsError
	if !errors.As(err, &oob) {
		t.Fatalf("err=%v want OutOfBoundsError", err)
	}
}

func TestSubset_PipelineTimeout(t *testing.T) {
	r := quadReader()
	r.block = true
	svc, rec := newService(t, r, WithTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := svc.Subset(context.Background(), Request{DatasetID: "quad", AOI: aoi(1, 1, 3, 3)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("pipeline did not stop at its deadline")
	}
	if got := rec.events[0].Outcome; got != "timeout" {
		t.Fatalf("outcome=%q want timeout", got)
	}
}

func TestSearch_DelegatesToCatalog(t *testing.T) {
	svc, _ := newService(t, quadReader())
	ms := svc.Search("synthetic", 5)
	if len(ms) != 1 || ms[0].Dataset.ID != "quad" {
		t.Fatalf("matches=%+v", ms)
	}
}

func TestOutcome_Labels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&model.NotFoundError{Query: "x"}, "not_found"},
		{&model.OutOfBoundsError{DatasetID: "d"}, "out_of_bounds"},
		{&model.OutOfRangeError{DatasetID: "d"}, "out_of_range"},
		{&model.IncompleteSubsetError{DatasetID: "d", Err: &model.TransientFetchError{Err: context.DeadlineExceeded}}, "incomplete"},
		{fmt.Errorf("subset cancelled: %w", context.Canceled), "cancelled"},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), "timeout"},
		{fmt.Errorf("%w: nope", ErrInvalidRequest), "invalid"},
		{errors.New("boom"), "error"},
	}
	for _, c := range cases {
		if got := Outcome(c.err); got != c.want {
			t.Fatalf("Outcome(%v)=%q want %q", c.err, got, c.want)
		}
	}
}
