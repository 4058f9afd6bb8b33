// Package metrics owns the Prometheus registry of a tiled-subset binary.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
)

const DefaultPath = "/metrics"

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	// Enabled turns recording of the subset, tile and cache metrics on.
	Enabled bool
	Path    string
	// Service, when set, is attached as a constant label to every collector
	// registered through the provider.
	Service string
	Build   BuildInfo
}

type Provider struct {
	reg  *prometheus.Registry
	wrap prometheus.Registerer
	path string
}

// Init builds a private registry with the Go, process and build collectors,
// a tiled_subset_build_info gauge, and every observability vec.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	var wrap prometheus.Registerer = reg
	if cfg.Service != "" {
		wrap = prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.Service}, reg)
	}

	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tiled_subset_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision", "branch", "build_date", "go_version"},
	)
	wrap.MustRegister(build)
	build.WithLabelValues(v.Version, v.Revision, v.Branch, v.BuildDate, runtime.Version()).Set(1)

	observability.Init(wrap, cfg.Enabled)

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	return &Provider{reg: reg, wrap: wrap, path: path}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// Path is where Handler should be mounted.
func (p *Provider) Path() string { return p.path }

func (p *Provider) Register(cs ...prometheus.Collector) {
	p.wrap.MustRegister(cs...)
}

// Registerer registers through the provider's service label.
func (p *Provider) Registerer() prometheus.Registerer { return p.wrap }
