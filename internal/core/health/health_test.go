package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q want application/json", ct)
	}
	if body := rr.Body.String(); !strings.Contains(body, `"status":"alive"`) || !strings.Contains(body, `"uptime_s":0`) {
		t.Fatalf("body=%s", body)
	}
}

type fakeCatalog struct {
	ready bool
	n     int
}

func (f fakeCatalog) Ready() bool { return f.ready }
func (f fakeCatalog) Len() int    { return f.n }

type fakeEvents struct{ ready bool }

func (f fakeEvents) Readiness() (bool, []int32) {
	if !f.ready {
		return false, nil
	}
	return true, []int32{0, 1}
}

func TestReadiness_States(t *testing.T) {
	cases := []struct {
		name   string
		cat    CatalogReporter
		events ReadinessReporter
		want   int
		body   string
	}{
		{"no catalog", nil, nil, http.StatusServiceUnavailable, `"not_ready"`},
		{"catalog not loaded", fakeCatalog{}, nil, http.StatusServiceUnavailable, `"not_ready"`},
		{"catalog loaded", fakeCatalog{ready: true, n: 3}, nil, http.StatusOK, `"datasets":3`},
		{"events unassigned", fakeCatalog{ready: true, n: 1}, fakeEvents{}, http.StatusServiceUnavailable, `"not_ready"`},
		{"events assigned", fakeCatalog{ready: true, n: 1}, fakeEvents{ready: true}, http.StatusOK, `"partitions":[0,1]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(tc.cat, tc.events)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d", rr.Code, tc.want)
			}
			if !strings.Contains(rr.Body.String(), tc.body) {
				t.Fatalf("body=%s want substring %s", rr.Body.String(), tc.body)
			}
		})
	}
}
