package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/flowmap/internal/cache/keys"
	"github.com/mohammed-shakir/flowmap/internal/colorize"
	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/crs"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/hexbin"
	"github.com/mohammed-shakir/flowmap/internal/raster"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

// Overlay is a rendered PNG and where it goes on the map.
type Overlay struct {
	PNG     []byte
	Corners [2][2]float64
	Version string
}

// Overlay renders the flow overlay for opts.
func (s *Service) Overlay(ctx context.Context, opts render.Options) (*Overlay, error) {
	if err := opts.Validate(); err != nil {
		return nil, &ParamError{Param: "options", Err: err}
	}
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	key := keys.Key(st.ds.Name, st.ds.Version, "overlay", optionValues(opts))
	b, err := s.cached(ctx, key, func() ([]byte, error) {
		ov, err := s.paint(st, opts)
		if err != nil {
			return nil, err
		}
		return encode(ov.Image)
	})
	if err != nil {
		return nil, err
	}
	return &Overlay{PNG: b, Corners: colorize.Corners(st.frame), Version: st.ds.Version}, nil
}

// paint colors the active grid with opts applied, anchored to the WGS84
// frame.
func (s *Service) paint(st *state, opts render.Options) (*colorize.Overlay, error) {
	cm, err := colormap.Lookup(opts.Colormap)
	if err != nil {
		return nil, &ParamError{Param: "colormap", Err: err}
	}
	t := time.Now()
	ov := colorize.PaintOverlay(st.norm, cm, st.frame, crs.WGS84.String())
	ov.Image = render.Apply(ov.Image, opts)
	observability.ObserveStage(string(dataset.StageRender), time.Since(t).Seconds())
	return ov, nil
}

func encode(img image.Image) ([]byte, error) {
	b, err := render.PNG(img)
	if err != nil {
		observability.IncStageError(string(dataset.StageRender))
		return nil, &dataset.StageError{Stage: dataset.StageRender, Err: err}
	}
	return b, nil
}

func optionValues(o render.Options) url.Values {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return url.Values{
		"colormap":   {o.Colormap},
		"opacity":    {f(o.Opacity)},
		"brightness": {f(o.Brightness)},
		"contrast":   {f(o.Contrast)},
		"max_size":   {strconv.Itoa(o.MaxSize)},
	}
}

// Composite draws the overlay over a white background with the boundary
// stroked on top, upscaled so the shorter side is at least minSide pixels.
func (s *Service) Composite(_ context.Context, opts render.Options, minSide int) (image.Image, error) {
	if err := opts.Validate(); err != nil {
		return nil, &ParamError{Param: "options", Err: err}
	}
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	ov, err := s.paint(st, opts)
	if err != nil {
		return nil, err
	}
	extent := orb.Bound{
		Min: orb.Point{ov.Bounds.Left, ov.Bounds.Bottom},
		Max: orb.Point{ov.Bounds.Right, ov.Bounds.Top},
	}
	t := time.Now()
	out := render.Composite(render.Upscale(ov.Image, minSide), extent, st.boundaryLines(), render.DefaultBoundaryStyle)
	observability.ObserveStage(string(dataset.StageRender), time.Since(t).Seconds())
	return out, nil
}

// Legend renders the colorbar of colormap for the active value range.
func (s *Service) Legend(ctx context.Context, name string) ([]byte, error) {
	cm, err := colormap.Lookup(name)
	if err != nil {
		return nil, &ParamError{Param: "colormap", Err: err}
	}
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	key := keys.Key(st.ds.Name, st.ds.Version, "legend", url.Values{"colormap": {cm.Name()}})
	return s.cached(ctx, key, func() ([]byte, error) {
		return encode(render.Legend(cm, render.LegendWidth, render.LegendHeight, st.norm.Range))
	})
}

// Boundary returns the boundary layer as GeoJSON.
func (s *Service) Boundary(_ context.Context) ([]byte, error) {
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	if st.ds.Boundary == nil {
		return nil, ErrNoBoundary
	}
	b, err := json.Marshal(st.ds.Boundary)
	if err != nil {
		return nil, &dataset.StageError{Stage: dataset.StageLoadBoundary, Err: err}
	}
	return b, nil
}

// Hexbins returns the H3 summary at res as GeoJSON.
func (s *Service) Hexbins(ctx context.Context, res int) ([]byte, error) {
	if res < s.cfg.MinRes || res > s.cfg.MaxRes {
		return nil, &ParamError{Param: "res", Err: fmt.Errorf("resolution %d outside %d..%d", res, s.cfg.MinRes, s.cfg.MaxRes)}
	}
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	key := keys.Key(st.ds.Name, st.ds.Version, "hexbins", url.Values{"res": {strconv.Itoa(res)}})
	return s.cached(ctx, key, func() ([]byte, error) {
		bins, err := s.binsAt(st, res)
		if errors.Is(err, hexbin.ErrTooManyCells) {
			return nil, &ParamError{Param: "res", Err: err}
		}
		if err != nil {
			return nil, &dataset.StageError{Stage: dataset.StageRender, Err: err}
		}
		fc, err := hexbin.FeatureCollection(bins)
		if err != nil {
			return nil, &dataset.StageError{Stage: dataset.StageRender, Err: err}
		}
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(fc); err != nil {
			return nil, &dataset.StageError{Stage: dataset.StageRender, Err: err}
		}
		return buf.Bytes(), nil
	})
}

// binsAt rolls coarser resolutions up from the base bins and aggregates
// finer ones directly.
func (s *Service) binsAt(st *state, res int) ([]hexbin.Bin, error) {
	base := s.cfg.H3Res
	if res > base {
		return hexbin.Aggregate(st.ds.Raster, st.norm, st.ds.CRS, res, st.polygons(), s.cfg.MaxCells)
	}
	st.binsOnce.Do(func() {
		st.bins, st.binsErr = hexbin.Aggregate(st.ds.Raster, st.norm, st.ds.CRS, base, st.polygons(), s.cfg.MaxCells)
	})
	if st.binsErr != nil {
		return nil, st.binsErr
	}
	if res == base {
		return st.bins, nil
	}
	return hexbin.Rollup(st.bins, res)
}

// Metadata describes the active dataset for the map page. Range is omitted
// when no cell is defined.
type Metadata struct {
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	CRS        string               `json:"crs"`
	Rows       int                  `json:"rows"`
	Cols       int                  `json:"cols"`
	Bounds     raster.Bounds        `json:"bounds"`
	Corners    [2][2]float64        `json:"corners"`
	Range      *colorize.ValueRange `json:"range,omitempty"`
	Degenerate bool                 `json:"degenerate"`
	Boundary   bool                 `json:"boundary"`
	Colormaps  []string             `json:"colormaps"`
	Defaults   render.Options       `json:"defaults"`
	Warnings   []string             `json:"warnings"`
	LoadedAt   time.Time            `json:"loaded_at"`
}

func (s *Service) Metadata(_ context.Context) (*Metadata, error) {
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	ds := st.ds
	warnings := ds.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	var rng *colorize.ValueRange
	if st.norm.Range.Defined > 0 {
		r := st.norm.Range
		rng = &r
	}
	return &Metadata{
		Name:       ds.Name,
		Version:    ds.Version,
		CRS:        ds.CRS.String(),
		Rows:       ds.Raster.Rows,
		Cols:       ds.Raster.Cols,
		Bounds:     ds.Raster.Bounds,
		Corners:    colorize.Corners(st.frame),
		Range:      rng,
		Degenerate: st.norm.Degenerate,
		Boundary:   ds.Boundary != nil,
		Colormaps:  colormap.Names(),
		Defaults:   s.cfg.Defaults,
		Warnings:   warnings,
		LoadedAt:   ds.LoadedAt,
	}, nil
}

func (st *state) polygons() []orb.Polygon {
	if st.ds.Boundary == nil {
		return nil
	}
	return st.ds.Boundary.Polygons()
}

func (st *state) boundaryLines() []orb.LineString {
	if st.ds.Boundary == nil {
		return nil
	}
	return st.ds.Boundary.Lines()
}
