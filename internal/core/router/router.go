package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/catalog"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/geo"
	"github.com/mohammed-shakir/tiled-subset/internal/subset"
)

// Subsetter serves validated subset requests.
type Subsetter interface {
	Subset(ctx context.Context, req subset.Request) (model.SubsetResult, error)
}

type Searcher interface {
	Search(query string, limit int) []catalog.Match
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// HandleSubset validates query params, runs the pipeline and writes the
// result as JSON.
func HandleSubset(logger *slog.Logger, svc Subsetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/subset", sw.code, time.Since(start).Seconds())
		}()

		req, warn, err := ParseSubsetRequest(r)
		if warn != "" {
			logger.WarnContext(r.Context(), warn)
		}
		if err != nil {
			writeError(sw, http.StatusBadRequest, "invalid", err, nil)
			return
		}

		res, err := svc.Subset(r.Context(), req)
		if err != nil {
			status, missing := statusFor(err)
			writeError(sw, status, subset.Outcome(err), err, missing)
			return
		}
		writeJSON(sw, http.StatusOK, res)
	}
}

// HandleSearch ranks catalog entries for ?q=, at most ?limit= of them.
func HandleSearch(logger *slog.Logger, s Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/catalog/search", sw.code, time.Since(start).Seconds())
		}()

		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(sw, http.StatusBadRequest, "invalid", errors.New("missing required parameter: q"), nil)
			return
		}
		limit := defaultSearchLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(sw, http.StatusBadRequest, "invalid", fmt.Errorf("invalid limit %q", raw), nil)
				return
			}
			limit = min(n, maxSearchLimit)
		}
		matches := s.Search(q, limit)
		if matches == nil {
			matches = []catalog.Match{}
		}
		logger.DebugContext(r.Context(), "catalog search", "q", q, "matches", len(matches))
		writeJSON(sw, http.StatusOK, map[string]any{"query": q, "matches": matches})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Missing []model.TileRef `json:"missing,omitempty"`
}

func statusFor(err error) (int, []model.TileRef) {
	var (
		nf  *model.NotFoundError
		oob *model.OutOfBoundsError
		oor *model.OutOfRangeError
		inc *model.IncompleteSubsetError
	)
	switch {
	case errors.Is(err, subset.ErrInvalidRequest):
		return http.StatusBadRequest, nil
	case errors.As(err, &nf):
		return http.StatusNotFound, nil
	case errors.As(err, &oob), errors.As(err, &oor):
		return http.StatusUnprocessableEntity, nil
	case errors.As(err, &inc):
		return http.StatusBadGateway, inc.Missing
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, nil
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, nil
	default:
		return http.StatusInternalServerError, nil
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error, missing []model.TileRef) {
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind, Missing: missing})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ParseSubsetRequest reads dataset|q, bbox|polygon, crs, buffer, start and end.
func ParseSubsetRequest(r *http.Request) (subset.Request, string, error) {
	return ParseSubsetValues(r.URL.Query())
}

// ParseSubsetValues is ParseSubsetRequest over already decoded parameters.
func ParseSubsetValues(qs url.Values) (subset.Request, string, error) {
	var warn string

	req := subset.Request{
		DatasetID: strings.TrimSpace(qs.Get("dataset")),
		Query:     strings.TrimSpace(qs.Get("q")),
	}
	if req.DatasetID == "" && req.Query == "" {
		return subset.Request{}, "", errors.New("missing required parameter: dataset or q")
	}

	crs := strings.TrimSpace(qs.Get("crs"))
	rawBBox := strings.TrimSpace(qs.Get("bbox"))
	rawPoly := strings.TrimSpace(qs.Get("polygon"))

	// polygon wins when both are given
	if rawBBox != "" && rawPoly != "" {
		warn = "both bbox and polygon supplied; preferring polygon"
		rawBBox = ""
	}

	switch {
	case rawPoly != "":
		p, err := parsePolygon(rawPoly)
		if err != nil {
			return subset.Request{}, warn, fmt.Errorf("invalid polygon: %w", err)
		}
		req.AOI = model.AreaOfInterest{Polygon: &p, CRS: geo.Normalize(crs)}
	case rawBBox != "":
		bb, err := parseBBOX(rawBBox, crs)
		if err != nil {
			return subset.Request{}, warn, fmt.Errorf("invalid bbox: %w", err)
		}
		req.AOI = model.AreaOfInterest{BBox: &bb, CRS: bb.SRID}
	default:
		return subset.Request{}, warn, errors.New("missing required parameter: bbox or polygon")
	}

	if raw := strings.TrimSpace(qs.Get("buffer")); raw != "" {
		b, err := parseFloat(raw)
		if err != nil || b < 0 {
			return subset.Request{}, warn, fmt.Errorf("invalid buffer %q", raw)
		}
		req.AOI.Buffer = b
	}

	tw, err := parseWindow(qs.Get("start"), qs.Get("end"))
	if err != nil {
		return subset.Request{}, warn, err
	}
	req.Window = tw
	return req, warn, nil
}

// parseBBOX accepts x1,y1,x2,y2 with an optional fifth CRS part. crs is
// used when the part is absent, then EPSG:4326.
func parseBBOX(bboxParam, crs string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected 4 or 5 comma-separated values: x1,y1,x2,y2[,crs]")
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	if len(parts) == 5 {
		crs = parts[4]
	}
	srid := geo.Normalize(crs)

	if geo.IsGeographic(srid) {
		if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
			return model.BBox{}, errors.New("longitude must be in [-180,180]")
		}
		if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
			return model.BBox{}, errors.New("latitude must be in [-90,90]")
		}
	}
	// x1==x2 and y1==y2 together describe a point
	point := xMax == xMin && yMax == yMin
	if !point && (xMax <= xMin || yMax <= yMin) {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func parsePolygon(raw string) (model.Polygon, error) {
	var tmp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return model.Polygon{}, fmt.Errorf("parse json: %w", err)
	}
	t := strings.TrimSpace(tmp.Type)
	switch t {
	case "Polygon", "MultiPolygon", "Point":
		return model.Polygon{GeoJSON: raw}, nil
	default:
		return model.Polygon{}, fmt.Errorf(`unsupported GeoJSON "type": %q (must be Polygon, MultiPolygon or Point)`, t)
	}
}

// parseWindow reads RFC 3339 timestamps or plain dates. Either bound may be
// empty.
func parseWindow(rawStart, rawEnd string) (model.TimeWindow, error) {
	var tw model.TimeWindow
	if s := strings.TrimSpace(rawStart); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return tw, fmt.Errorf("invalid start: %w", err)
		}
		tw.Start = &t
	}
	if s := strings.TrimSpace(rawEnd); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return tw, fmt.Errorf("invalid end: %w", err)
		}
		tw.End = &t
	}
	if tw.Start != nil && tw.End != nil && !tw.End.After(*tw.Start) {
		return tw, errors.New("end must be after start")
	}
	return tw, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}
