// Package dataset resolves, downloads and loads the flow raster and its
// watershed boundary into an immutable Dataset.
package dataset

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/flowmap/internal/boundary"
	"github.com/mohammed-shakir/flowmap/internal/core/observability"
	"github.com/mohammed-shakir/flowmap/internal/crs"
	"github.com/mohammed-shakir/flowmap/internal/fetch"
	"github.com/mohammed-shakir/flowmap/internal/raster"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Source tells the loader where the inputs live.
type Source struct {
	Name         string
	Mode         Mode
	RasterPath   string
	BoundaryPath string
	RasterURL    string
	BoundaryURL  string
	DownloadDir  string
	RasterCRS    string
	BoundaryCRS  string
}

func (s Source) Validate() error {
	switch s.Mode {
	case ModeLocal:
		if s.RasterPath == "" {
			return errors.New("local mode needs a raster path")
		}
	case ModeRemote:
		if s.RasterURL == "" {
			return errors.New("remote mode needs a raster url")
		}
		if s.DownloadDir == "" {
			return errors.New("remote mode needs a download directory")
		}
	default:
		return fmt.Errorf("unknown source mode %q", s.Mode)
	}
	return nil
}

// Dataset is one loaded raster plus optional boundary. It is never mutated
// after Load returns.
type Dataset struct {
	Name    string
	Version string
	Raster  *raster.FlowRaster
	CRS     crs.CRS
	// Extent is the WGS84 envelope of the raster bounds.
	Extent orb.Bound
	// Boundary is reprojected to WGS84; nil when the layer was omitted.
	Boundary *boundary.Boundary
	Warnings []string
	LoadedAt time.Time
}

type Loader struct {
	src    Source
	dl     *fetch.Downloader
	logger *slog.Logger
	now    func() time.Time
}

func NewLoader(src Source, dl *fetch.Downloader, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if dl == nil {
		dl = fetch.New(logger, nil)
	}
	return &Loader{src: src, dl: dl, logger: logger, now: time.Now}
}

func (l *Loader) Source() Source { return l.src }

// Load reads the raster and boundary. A raster failure aborts the load; a
// boundary failure only drops the layer and adds a warning.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	start := l.now()
	ds, err := l.load(ctx)
	observability.IncDatasetLoad(err == nil)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			observability.IncStageError(string(se.Stage))
		}
		return nil, err
	}
	l.logger.Info("dataset loaded",
		"dataset", ds.Name,
		"version", ds.Version,
		"rows", ds.Raster.Rows,
		"cols", ds.Raster.Cols,
		"crs", ds.CRS.String(),
		"boundary", ds.Boundary != nil,
		"duration", time.Since(start).String())
	return ds, nil
}

func (l *Loader) load(ctx context.Context) (*Dataset, error) {
	if err := l.src.Validate(); err != nil {
		return nil, err
	}
	rasterPath, boundaryPath, bErr, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}

	t := l.now()
	r, err := raster.Open(rasterPath, l.src.RasterCRS)
	if err != nil {
		return nil, stageErr(StageLoadRaster, err)
	}
	c, err := rasterCRS(r, rasterPath)
	if err != nil {
		return nil, stageErr(StageLoadRaster, err)
	}
	r.CRS = c.String()
	extent, err := c.Envelope(orb.Bound{
		Min: orb.Point{r.Bounds.Left, r.Bounds.Bottom},
		Max: orb.Point{r.Bounds.Right, r.Bounds.Top},
	})
	if err != nil {
		return nil, stageErr(StageLoadRaster, err)
	}
	observability.ObserveStage(string(StageLoadRaster), time.Since(t).Seconds())

	ds := &Dataset{
		Name:     l.src.Name,
		Raster:   r,
		CRS:      c,
		Extent:   extent,
		LoadedAt: l.now(),
	}

	if bErr != nil {
		ds.Warnings = append(ds.Warnings, fmt.Sprintf("boundary layer omitted: %v", bErr))
	}
	if boundaryPath != "" {
		t = l.now()
		b, err := loadBoundary(boundaryPath, l.src.BoundaryCRS)
		if err != nil {
			observability.IncStageError(string(StageLoadBoundary))
			l.logger.Warn("boundary layer omitted", "path", boundaryPath, "err", err)
			ds.Warnings = append(ds.Warnings, fmt.Sprintf("boundary layer omitted: %v", err))
		} else {
			ds.Boundary = b
			observability.ObserveStage(string(StageLoadBoundary), time.Since(t).Seconds())
		}
	}
	ds.Version = version(ds)
	return ds, nil
}

// resolve returns local paths, downloading remote inputs first. A boundary
// download failure is returned as bErr and leaves the boundary path empty.
func (l *Loader) resolve(ctx context.Context) (rasterPath, boundaryPath string, bErr, err error) {
	if l.src.Mode == ModeLocal {
		return l.src.RasterPath, l.src.BoundaryPath, nil, nil
	}
	if err := os.MkdirAll(l.src.DownloadDir, 0o755); err != nil {
		return "", "", nil, stageErr(StageDownload, err)
	}
	t := l.now()
	rp, err := l.dl.Fetch(ctx, l.src.RasterURL, l.src.DownloadDir)
	if err != nil {
		return "", "", nil, stageErr(StageDownload, err)
	}
	observability.ObserveStage(string(StageDownload), time.Since(t).Seconds())
	if l.src.BoundaryURL == "" {
		return rp, "", nil, nil
	}

	var bp string
	if strings.EqualFold(urlExt(l.src.BoundaryURL), ".shp") {
		bp, err = l.dl.FetchShapefile(ctx, l.src.BoundaryURL, l.src.DownloadDir)
	} else {
		bp, err = l.dl.Fetch(ctx, l.src.BoundaryURL, l.src.DownloadDir)
	}
	if err != nil {
		observability.IncStageError(string(StageDownload))
		l.logger.Warn("boundary download failed", "url", l.src.BoundaryURL, "err", err)
		return rp, "", err, nil
	}
	return rp, bp, nil, nil
}

func urlExt(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return filepath.Ext(u)
}

func loadBoundary(path, override string) (*boundary.Boundary, error) {
	b, err := boundary.Open(path, override)
	if err != nil {
		return nil, err
	}
	return b.ToWGS84()
}

// rasterCRS resolves the raster reference system: the file's own CRS, a
// sibling .prj, or WGS84 when the bounds look like degrees.
func rasterCRS(r *raster.FlowRaster, path string) (crs.CRS, error) {
	if r.CRS != "" {
		return crs.Parse(r.CRS)
	}
	prj := strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), filepath.Ext(strings.TrimSuffix(path, ".gz"))) + ".prj"
	if data, err := os.ReadFile(prj); err == nil {
		return crs.FromWKT(string(data))
	}
	b := r.Bounds
	if b.Left >= -180 && b.Right <= 180 && b.Bottom >= -90 && b.Top <= 90 {
		return crs.WGS84, nil
	}
	return crs.CRS{}, fmt.Errorf("raster has no reference system and projected bounds: %w", crs.ErrUnsupported)
}

// version is a content hash of the raster cells, georeferencing and boundary.
func version(ds *Dataset) string {
	h := xxhash.New()
	buf := make([]byte, 0, 8*64)
	for _, v := range ds.Raster.Data {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		if len(buf) == cap(buf) {
			_, _ = h.Write(buf)
			buf = buf[:0]
		}
	}
	_, _ = h.Write(buf)
	_, _ = h.WriteString(fmt.Sprintf("|%d|%d|%v|%s|", ds.Raster.Rows, ds.Raster.Cols, ds.Raster.Transform, ds.CRS))
	if ds.Boundary != nil {
		if data, err := json.Marshal(ds.Boundary); err == nil {
			_, _ = h.Write(data)
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
