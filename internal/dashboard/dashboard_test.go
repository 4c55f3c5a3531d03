package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/flowmap/internal/boundary"
	"github.com/mohammed-shakir/flowmap/internal/cache"
	"github.com/mohammed-shakir/flowmap/internal/crs"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/hexbin"
	"github.com/mohammed-shakir/flowmap/internal/raster"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

var extent = raster.Bounds{Left: -47.5, Right: -47.2, Bottom: -18.7, Top: -18.5}

type fakeLoader struct {
	mu    sync.Mutex
	sets  []*dataset.Dataset
	err   error
	calls int
}

func (f *fakeLoader) Load(context.Context) (*dataset.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ds := f.sets[0]
	if len(f.sets) > 1 {
		f.sets = f.sets[1:]
	}
	return ds, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDataset(t *testing.T, version string, grid [][]float64, withBoundary bool) *dataset.Dataset {
	t.Helper()
	r, err := raster.FromGrid(grid, extent, "EPSG:4326")
	if err != nil {
		t.Fatalf("FromGrid: %v", err)
	}
	ds := &dataset.Dataset{
		Name:     "test",
		Version:  version,
		Raster:   r,
		CRS:      crs.WGS84,
		Extent:   orb.Bound{Min: orb.Point{extent.Left, extent.Bottom}, Max: orb.Point{extent.Right, extent.Top}},
		LoadedAt: time.Unix(0, 0).UTC(),
	}
	if withBoundary {
		ring := orb.Ring{{-47.5, -18.7}, {-47.2, -18.7}, {-47.2, -18.5}, {-47.5, -18.5}, {-47.5, -18.7}}
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(orb.Polygon{ring}))
		ds.Boundary = &boundary.Boundary{Features: fc, CRS: crs.WGS84}
	}
	return ds
}

func flowGrid() [][]float64 {
	g := make([][]float64, 20)
	for r := range g {
		g[r] = make([]float64, 30)
		for c := range g[r] {
			g[r][c] = float64(r*30 + c)
		}
	}
	g[0][0] = -9999
	return g
}

func newService(t *testing.T, l *fakeLoader) (*Service, *cache.Tiered) {
	t.Helper()
	c := cache.New(cache.Config{LRUSize: 32}, nil, quiet())
	return New(Config{H3Res: 7}, l, c, quiet()), c
}

func TestService_NotLoaded(t *testing.T) {
	s, _ := newService(t, &fakeLoader{})
	if s.Ready() {
		t.Fatalf("Ready before Reload")
	}
	if _, err := s.Overlay(context.Background(), render.DefaultOptions()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err=%v want ErrNotLoaded", err)
	}
	if _, err := s.Metadata(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err=%v want ErrNotLoaded", err)
	}
}

func TestService_OverlayCached(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), true)}}
	s, c := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	ov, err := s.Overlay(context.Background(), render.DefaultOptions())
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(ov.PNG))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Fatalf("size=%v want 30x20", b)
	}
	if ov.Corners[0] != [2]float64{-18.7, -47.5} || ov.Corners[1] != [2]float64{-18.5, -47.2} {
		t.Fatalf("corners=%v", ov.Corners)
	}
	if c.Len() != 1 {
		t.Fatalf("cache len=%d want 1", c.Len())
	}

	again, err := s.Overlay(context.Background(), render.DefaultOptions())
	if err != nil {
		t.Fatalf("Overlay again: %v", err)
	}
	if !bytes.Equal(again.PNG, ov.PNG) {
		t.Fatalf("identical options gave different bytes")
	}

	o := render.DefaultOptions()
	o.Opacity = 1
	if _, err := s.Overlay(context.Background(), o); err != nil {
		t.Fatalf("Overlay opacity 1: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("cache len=%d want 2", c.Len())
	}
}

func TestService_ConcurrentOverlaysShareOneEntry(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), false)}}
	s, c := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	var wg sync.WaitGroup
	out := make([][]byte, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ov, err := s.Overlay(context.Background(), render.DefaultOptions())
			if err != nil {
				t.Errorf("Overlay: %v", err)
				return
			}
			out[i] = ov.PNG
		}(i)
	}
	wg.Wait()
	for i := range out {
		if !bytes.Equal(out[i], out[0]) {
			t.Fatalf("render %d differs", i)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("cache len=%d want 1", c.Len())
	}
}

func TestService_OverlayRejectsBadOptions(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), false)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	for _, o := range []render.Options{
		{Colormap: "jet", Opacity: 0.6, Brightness: 1, Contrast: 1},
		{Colormap: "viridis", Opacity: 0.01, Brightness: 1, Contrast: 1},
		{Colormap: "viridis", Opacity: 0.6, Brightness: 9, Contrast: 1},
	} {
		var pe *ParamError
		if _, err := s.Overlay(context.Background(), o); !errors.As(err, &pe) {
			t.Fatalf("opts=%+v err=%v want ParamError", o, err)
		}
	}
	var pe *ParamError
	if _, err := s.Legend(context.Background(), "jet"); !errors.As(err, &pe) || pe.Param != "colormap" {
		t.Fatalf("legend err=%v want colormap ParamError", err)
	}
}

func TestService_ReloadPurgesOnNewVersion(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{
		newDataset(t, "v1", flowGrid(), false),
		newDataset(t, "v2", flowGrid(), false),
	}}
	s, c := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := s.Legend(context.Background(), "viridis"); err != nil {
		t.Fatalf("Legend: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("cache len=%d want 1", c.Len())
	}
	ds, err := s.Reload(context.Background())
	if err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if ds.Version != "v2" || c.Len() != 0 {
		t.Fatalf("version=%s cache len=%d want v2 and 0", ds.Version, c.Len())
	}
}

func TestService_ReloadFailureKeepsPrevious(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), false)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	l.err = &dataset.StageError{Stage: dataset.StageLoadRaster, Err: errors.New("boom")}
	if _, err := s.Reload(context.Background()); err == nil {
		t.Fatalf("expected reload error")
	}
	ds, err := s.Dataset()
	if err != nil || ds.Version != "v1" {
		t.Fatalf("dataset=%v err=%v want v1 still active", ds, err)
	}
}

func TestService_Boundary(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), true)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	b, err := s.Boundary(context.Background())
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil || len(fc.Features) != 1 {
		t.Fatalf("fc=%v err=%v", fc, err)
	}

	l2 := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), false)}}
	s2, _ := newService(t, l2)
	if _, err := s2.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := s2.Boundary(context.Background()); !errors.Is(err, ErrNoBoundary) {
		t.Fatalf("err=%v want ErrNoBoundary", err)
	}
}

func TestService_Hexbins(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), false)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	var pe *ParamError
	for _, res := range []int{-1, 10, 15, 16} {
		if _, err := s.Hexbins(context.Background(), res); !errors.As(err, &pe) || pe.Param != "res" {
			t.Fatalf("Hexbins(%d) err=%v want res ParamError", res, err)
		}
	}

	for _, res := range []int{5, 7, 8} {
		b, err := s.Hexbins(context.Background(), res)
		if err != nil {
			t.Fatalf("Hexbins(%d): %v", res, err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		total := 0.0
		for _, f := range fc.Features {
			if got := f.Properties.MustInt("resolution", -1); got != res {
				t.Fatalf("feature resolution=%d want %d", got, res)
			}
			total += f.Properties.MustFloat64("count", 0)
		}
		if total != 20*30-1 {
			t.Fatalf("res %d: total count=%v want %d", res, total, 20*30-1)
		}
	}
}

func TestService_HexbinsPolyfillCap(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), true)}}
	c := cache.New(cache.Config{LRUSize: 32}, nil, quiet())
	s := New(Config{H3Res: 7, MinRes: 5, MaxRes: 9, MaxCells: 1000}, l, c, quiet())
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := s.Hexbins(context.Background(), 7); err != nil {
		t.Fatalf("Hexbins(7): %v", err)
	}
	var pe *ParamError
	_, err := s.Hexbins(context.Background(), 9)
	if !errors.As(err, &pe) || !errors.Is(err, hexbin.ErrTooManyCells) {
		t.Fatalf("Hexbins(9) err=%v want ParamError wrapping ErrTooManyCells", err)
	}
	if _, err := s.Hexbins(context.Background(), 4); !errors.As(err, &pe) {
		t.Fatalf("Hexbins(4) err=%v want res below MinRes rejected", err)
	}
}

func TestService_Metadata(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), true)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	md, err := s.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Rows != 20 || md.Cols != 30 || !md.Boundary || md.Degenerate {
		t.Fatalf("metadata=%+v", md)
	}
	if md.Range == nil || md.Range.RawMax != 599 || md.Range.Defined != 599 {
		t.Fatalf("range=%+v", md.Range)
	}
	if len(md.Colormaps) != 5 || md.Defaults.Colormap != "cubehelix" {
		t.Fatalf("colormaps=%v defaults=%+v", md.Colormaps, md.Defaults)
	}
	if _, err := json.Marshal(md); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}

func TestService_AllMissingIsDegenerate(t *testing.T) {
	nan := math.NaN()
	grid := [][]float64{{nan, -1}, {-5, nan}}
	loaded := newDataset(t, "v1", grid, false)
	l := &fakeLoader{sets: []*dataset.Dataset{loaded}}
	s, _ := newService(t, l)
	ds, err := s.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(ds.Warnings) != 1 {
		t.Fatalf("warnings=%v want one", ds.Warnings)
	}
	// the loader's dataset stays untouched across reloads
	if ds, err = s.Reload(context.Background()); err != nil || len(ds.Warnings) != 1 {
		t.Fatalf("second Reload warnings=%v err=%v want one", ds.Warnings, err)
	}
	if len(loaded.Warnings) != 0 {
		t.Fatalf("loaded dataset mutated: warnings=%v", loaded.Warnings)
	}
	md, err := s.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if !md.Degenerate || md.Range != nil {
		t.Fatalf("degenerate=%v range=%+v", md.Degenerate, md.Range)
	}
	if _, err := json.Marshal(md); err != nil {
		t.Fatalf("marshal with no defined cells: %v", err)
	}

	ov, err := s.Overlay(context.Background(), render.DefaultOptions())
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(ov.PNG))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				t.Fatalf("pixel (%d,%d) alpha=%d want 0", x, y, a)
			}
		}
	}
}

func TestService_Composite(t *testing.T) {
	l := &fakeLoader{sets: []*dataset.Dataset{newDataset(t, "v1", flowGrid(), true)}}
	s, _ := newService(t, l)
	if _, err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	img, err := s.Composite(context.Background(), render.DefaultOptions(), 200)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if b := img.Bounds(); b.Dx() < 200 || b.Dy() < 200 {
		t.Fatalf("size=%v want shorter side >= 200", b)
	}
}
