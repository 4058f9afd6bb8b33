package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})

	start := time.Now()
	observability.ObserveSubset("ok", time.Since(start).Seconds())
	observability.ObserveSubset("incomplete", 0.010)
	observability.ObservePlan("spatial", 2)
	observability.IncRetry()
	observability.IncCacheMiss("l2")
	observability.ObserveHTTP("GET", "/subset", 200, 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`subset_duration_seconds_bucket`,
		`plan_tiles_count{axis="spatial"} `,
		`tile_fetch_retries_total `,
		`tile_cache_results_total{layer="l2",outcome="miss"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "subset_duration_seconds_count", `outcome="incomplete"`)
	assertHasMetricLine(t, body, "http_requests_total",
		`method="GET"`, `route="/subset"`, `status="200"`)
	assertHasMetricLine(t, body, "tiled_subset_build_info",
		`version="test"`)
}
