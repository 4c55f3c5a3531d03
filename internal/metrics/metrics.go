// Package metrics owns the Prometheus registry served on /metrics.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/flowmap/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Enabled bool
	Path    string
	Build   BuildInfo
}

const DefaultPath = "/metrics"

type Provider struct {
	reg  *prometheus.Registry
	path string
}

// Init builds a registry holding the runtime collectors, flowmap_build_info
// and the request, pipeline and cache metrics of the observability package.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo(cfg.Build),
	)
	observability.Init(reg)

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	return &Provider{reg: reg, path: path}
}

func buildInfo(b BuildInfo) prometheus.Collector {
	if b.Version == "" {
		b.Version = "dev"
	}
	g := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmap_build_info",
			Help: "Build of the running binary; the value is always 1.",
		},
		[]string{"version", "revision", "branch", "build_date", "go_version"},
	)
	g.WithLabelValues(b.Version, b.Revision, b.Branch, b.BuildDate, runtime.Version()).Set(1)
	return g
}

// Handler serves the registry. A failing collector does not fail the
// scrape; whatever could be gathered is served.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{
		Registry:      p.reg,
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Path is where Handler is mounted.
func (p *Provider) Path() string { return p.path }

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}
