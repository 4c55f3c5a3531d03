// Package router wires the map page and the layer API onto chi.
package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/flowmap/internal/core/config"
	"github.com/mohammed-shakir/flowmap/internal/core/health"
	"github.com/mohammed-shakir/flowmap/internal/core/middleware"
	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

// Layers is the dashboard surface the handlers need; dashboard.Service
// implements it.
type Layers interface {
	Overlay(ctx context.Context, opts render.Options) (*dashboard.Overlay, error)
	Metadata(ctx context.Context) (*dashboard.Metadata, error)
	Boundary(ctx context.Context) ([]byte, error)
	Legend(ctx context.Context, colormap string) ([]byte, error)
	Hexbins(ctx context.Context, res int) ([]byte, error)
	Reload(ctx context.Context) (*dataset.Dataset, error)
	Defaults() render.Options
	Ready() bool
}

// Announcer tells other replicas that a dataset was reloaded here.
type Announcer interface {
	AnnounceReload(dataset string)
}

type Deps struct {
	Layers Layers
	// Announcer is optional.
	Announcer Announcer
	Map       config.MapCfg
	H3Res     int
	Logger    *slog.Logger
	Metrics   http.Handler
	// MetricsPath defaults to /metrics.
	MetricsPath string
	// Checks are extra readiness dependencies besides the dataset.
	Checks []health.Check
}

// New returns the server handler.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{layers: d.Layers, announcer: d.Announcer, mapCfg: d.Map, h3Res: d.H3Res, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS())

	checks := append([]health.Check{{Name: "dataset", Fn: func(context.Context) error {
		if !d.Layers.Ready() {
			return dashboard.ErrNotLoaded
		}
		return nil
	}}}, d.Checks...)

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(0, checks...))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Get("/", h.page)
	r.Route("/api", func(r chi.Router) {
		r.Get("/overlay.png", h.overlayPNG)
		r.Get("/overlay.json", h.overlayJSON)
		r.Get("/boundary.geojson", h.boundary)
		r.Get("/legend.png", h.legend)
		r.Get("/hexbins.geojson", h.hexbins)
		r.Post("/reload", h.reload)
	})
	return r
}
