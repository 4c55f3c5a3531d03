// Package dashboard serves the current dataset as map layers: the colorized
// overlay, the boundary, a legend, metadata and hex-bin summaries.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/flowmap/internal/cache"
	"github.com/mohammed-shakir/flowmap/internal/cache/keys"
	"github.com/mohammed-shakir/flowmap/internal/colorize"
	"github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/hexbin"
	mylog "github.com/mohammed-shakir/flowmap/internal/logger"
	"github.com/mohammed-shakir/flowmap/internal/raster"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

var (
	ErrNotLoaded  = errors.New("dataset not loaded")
	ErrNoBoundary = errors.New("boundary layer not available")
)

// ParamError is a rejected request parameter.
type ParamError struct {
	Param string
	Err   error
}

func (e *ParamError) Error() string { return e.Param + ": " + e.Err.Error() }

func (e *ParamError) Unwrap() error { return e.Err }

// Loader produces datasets; dataset.Loader implements it.
type Loader interface {
	Load(ctx context.Context) (*dataset.Dataset, error)
}

type Config struct {
	// H3Res is the resolution hex bins are computed at; coarser requests
	// are rolled up from it.
	H3Res int
	// MinRes and MaxRes bound the resolutions a request may ask for. A zero
	// MaxRes means two levels finer than H3Res.
	MinRes int
	MaxRes int
	// MaxCells caps one boundary polyfill; 0 uses hexbin.DefaultMaxCells.
	MaxCells   int
	Defaults   render.Options
	MaxRenders int64
}

// state is one loaded dataset with the products derived from it once.
type state struct {
	ds   *dataset.Dataset
	norm *colorize.Normalized
	// frame is the WGS84 rectangle overlays are anchored to.
	frame raster.Bounds

	binsOnce sync.Once
	bins     []hexbin.Bin
	binsErr  error
}

type Service struct {
	cfg    Config
	loader Loader
	cache  *cache.Tiered
	logger *slog.Logger

	cur      atomic.Pointer[state]
	group    singleflight.Group
	sem      *semaphore.Weighted
	reloadMu sync.Mutex
}

func New(cfg Config, loader Loader, c *cache.Tiered, logger *slog.Logger) *Service {
	if cfg.MaxRenders <= 0 {
		cfg.MaxRenders = int64(runtime.NumCPU())
	}
	if cfg.MaxRes == 0 {
		cfg.MaxRes = min(cfg.H3Res+2, hexbin.MaxRes)
	}
	if cfg.Defaults.Colormap == "" {
		cfg.Defaults = render.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(cache.Config{}, nil, logger)
	}
	return &Service{
		cfg:    cfg,
		loader: loader,
		cache:  c,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxRenders),
	}
}

func (s *Service) Defaults() render.Options { return s.cfg.Defaults }

// Reload loads a fresh dataset and swaps it in. On failure the previous
// dataset keeps being served. Cached artifacts of the dataset are purged.
func (s *Service) Reload(ctx context.Context) (*dataset.Dataset, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ds, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	t := time.Now()
	norm, err := colorize.Normalize(ds.Raster.Grid())
	if err != nil {
		observability.IncStageError(string(dataset.StageNormalize))
		return nil, &dataset.StageError{Stage: dataset.StageNormalize, Err: err}
	}
	observability.ObserveStage(string(dataset.StageNormalize), time.Since(t).Seconds())
	if norm.Degenerate {
		cp := *ds
		cp.Warnings = append(slices.Clone(ds.Warnings), "flow values have no spread; overlay uses a single color")
		ds = &cp
	}

	frame := raster.Bounds{Left: ds.Extent.Min[0], Right: ds.Extent.Max[0], Bottom: ds.Extent.Min[1], Top: ds.Extent.Max[1]}
	prev := s.cur.Swap(&state{ds: ds, norm: norm, frame: frame})
	if prev != nil && prev.ds.Version != ds.Version {
		if _, err := s.cache.Purge(ctx, keys.Prefix(ds.Name)); err != nil {
			s.logger.Warn("cache purge after reload failed", "err", err)
		}
	}
	observability.SetDataset(ds.Name)
	observability.SetActiveDataset(ds.Name, ds.Version)
	s.logger.Info("dataset active", "dataset", ds.Name, "version", ds.Version, "degenerate", norm.Degenerate)
	return ds, nil
}

// Purge drops every cached artifact of the current dataset.
func (s *Service) Purge(ctx context.Context) error {
	st, err := s.state()
	if err != nil {
		return err
	}
	_, err = s.cache.Purge(ctx, keys.Prefix(st.ds.Name))
	return err
}

// Dataset returns the active dataset.
func (s *Service) Dataset() (*dataset.Dataset, error) {
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	return st.ds, nil
}

func (s *Service) Ready() bool { return s.cur.Load() != nil }

func (s *Service) state() (*state, error) {
	st := s.cur.Load()
	if st == nil {
		return nil, ErrNotLoaded
	}
	return st, nil
}

// cached returns the artifact under key, building it at most once across
// concurrent callers and bounding concurrent builds.
func (s *Service) cached(ctx context.Context, key string, build func() ([]byte, error)) ([]byte, error) {
	if b, ok := s.cache.Get(ctx, key); ok {
		s.logger.DebugContext(mylog.WithCacheResult(ctx, "hit"), "artifact served", "key", key)
		return b, nil
	}
	v, err, shared := s.group.Do(key, func() (any, error) {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)

		b, err := build()
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	result := "miss"
	if shared {
		result = "shared"
	}
	s.logger.DebugContext(mylog.WithCacheResult(ctx, result), "artifact served", "key", key)
	return v.([]byte), nil
}
