package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/catalog"
	"github.com/mohammed-shakir/tiled-subset/internal/core/config"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/metrics"
	"github.com/mohammed-shakir/tiled-subset/internal/subset"
)

type stubSubset struct{}

func (stubSubset) Subset(context.Context, subset.Request) (model.SubsetResult, error) {
	return model.SubsetResult{DatasetID: "dem", Values: []float64{}}, nil
}

func testConfig() config.Config {
	return config.Config{MetricsEnabled: true, MetricsPath: "/metrics", RateLimit: 1, RateWindow: time.Minute}
}

func TestRouter_Routes(t *testing.T) {
	cat := catalog.New(nil)
	p := metrics.Init(metrics.Config{Enabled: true})
	h := NewRouter(testConfig(), slog.Default(), Deps{Subset: stubSubset{}, Search: cat, Catalog: cat, Metrics: p.Handler()})

	cases := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/subset?dataset=dem&bbox=0,0,1,1", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, c.path, nil))
		if rr.Code != c.want {
			t.Fatalf("%s: status=%d want %d", c.path, rr.Code, c.want)
		}
	}

	if err := cat.Replace(nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz after load: %d", rr.Code)
	}
}

func TestRouter_RateLimitsDataRoutesOnly(t *testing.T) {
	cat := catalog.New(nil)
	h := NewRouter(testConfig(), slog.Default(), Deps{Subset: stubSubset{}, Search: cat, Catalog: cat})

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.1.1.1:999"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if c := get("/catalog/search?q=rain"); c != http.StatusOK {
		t.Fatalf("first search=%d", c)
	}
	if c := get("/catalog/search?q=rain"); c != http.StatusTooManyRequests {
		t.Fatalf("second search=%d want 429", c)
	}
	for i := 0; i < 3; i++ {
		if c := get("/healthz"); c != http.StatusOK {
			t.Fatalf("healthz limited: %d", c)
		}
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, slog.Default(), Deps{Subset: stubSubset{}, Search: catalog.New(nil)}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !strings.Contains(err.Error(), "closed") {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
