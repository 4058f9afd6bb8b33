package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Liveness always answers 200 with the process uptime; it never checks
// dependencies.
func Liveness() http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "alive",
			"uptime_s": int64(time.Since(started).Seconds()),
		})
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type CatalogReporter interface {
	Ready() bool
	Len() int
}

// Readiness requires a loaded catalog. events may be nil; when set, the
// catalog event consumer must also hold a partition assignment.
func Readiness(cat CatalogReporter, events ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Datasets   int     `json:"datasets"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		ready := cat != nil && cat.Ready()
		out := resp{Status: "not_ready"}
		if cat != nil {
			out.Datasets = cat.Len()
		}
		if ready && events != nil {
			var parts []int32
			ready, parts = events.Readiness()
			out.Partitions = parts
		}
		if ready {
			out.Status = "ready"
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
