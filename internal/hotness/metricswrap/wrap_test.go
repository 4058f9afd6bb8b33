package metricswrap

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/hotness/expdecay"
	"github.com/mohammed-shakir/tiled-subset/internal/metrics"
)

func Test_HotKeysGauge_Updates(t *testing.T) {
	p := metrics.Init(metrics.Config{Enabled: true})

	w := New(expdecay.New(30*time.Second), nil, 0, 0)

	w.Inc("tile:a:1:0:4")
	w.Inc("tile:b:1:0:4")
	w.Reset("tile:a:1:0:4")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()

	if !strings.Contains(body, "tile_cache_hot_keys 1") {
		t.Fatalf("expected hot keys gauge == 1, got:\n%s", body)
	}
}

func TestObserve_ReturnsAccumulatedScore(t *testing.T) {
	w := New(expdecay.New(time.Hour), nil, 2, 1)
	w.Observe("k")
	if got := w.Observe("k"); got < 1.99 {
		t.Fatalf("score=%g want ~2", got)
	}
	if got := w.Score("k"); got < 1.99 {
		t.Fatalf("Score=%g want ~2", got)
	}
}

func TestShouldLog_Sampling(t *testing.T) {
	if shouldLog(0, "k") {
		t.Fatalf("sample 0 must never log")
	}
	if !shouldLog(1, "k") {
		t.Fatalf("sample 1 must always log")
	}
	if shouldLog(0.5, "k") != shouldLog(0.5, "k") {
		t.Fatalf("sampling must be stable per key")
	}
}
