// Package config reads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/hexbin"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

type ReloadCfg struct {
	Enabled bool
	// Publish makes POST /api/reload announce the reload to other replicas.
	Publish bool
	Brokers []string
	Topic   string
	// GroupID defaults to one group per instance so every replica sees
	// every event.
	GroupID  string
	Instance string
}

// MapCfg positions the initial map view; a zero zoom fits the overlay.
type MapCfg struct {
	CenterLat       float64
	CenterLon       float64
	Zoom            int
	TileURL         string
	TileAttribution string
}

type BuildCfg struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	Source   dataset.Source
	Defaults render.Options
	Map      MapCfg

	CacheLRUSize   int
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration
	RedisEnabled   bool
	RedisAddr      string

	H3Res          int
	H3ResMin       int
	H3ResMax       int
	HexbinMaxCells int
	MaxRenders     int

	Reload      ReloadCfg
	Metrics     bool
	MetricsPath string
	Build       BuildCfg
}

const (
	defaultTileURL         = "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png"
	defaultTileAttribution = `Map data: &copy; OpenStreetMap contributors, SRTM | Map style: &copy; OpenTopoMap (CC-BY-SA)`
)

func FromEnv() Config {
	instance := getenv("INSTANCE_ID", hostname())
	res := getint("H3_RES", 7)
	defaults := render.DefaultOptions()
	defaults.Colormap = getenv("DEFAULT_COLORMAP", defaults.Colormap)
	defaults.Opacity = getfloat("DEFAULT_OPACITY", defaults.Opacity)
	defaults.MaxSize = getint("OVERLAY_MAX_SIZE", 2048)

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		Source: dataset.Source{
			Name:         getenv("DATASET_NAME", "default"),
			Mode:         dataset.Mode(strings.ToLower(getenv("SOURCE_MODE", string(dataset.ModeLocal)))),
			RasterPath:   getenv("RASTER_PATH", "data/flow_accumulation.tif"),
			BoundaryPath: getenv("BOUNDARY_PATH", ""),
			RasterURL:    getenv("RASTER_URL", ""),
			BoundaryURL:  getenv("BOUNDARY_URL", ""),
			DownloadDir:  getenv("DOWNLOAD_DIR", os.TempDir()),
			RasterCRS:    getenv("RASTER_CRS", ""),
			BoundaryCRS:  getenv("BOUNDARY_CRS", ""),
		},
		Defaults: defaults,
		Map: MapCfg{
			CenterLat:       getfloat("MAP_CENTER_LAT", 0),
			CenterLon:       getfloat("MAP_CENTER_LON", 0),
			Zoom:            getint("MAP_ZOOM", 0),
			TileURL:         getenv("TILE_URL", defaultTileURL),
			TileAttribution: getenv("TILE_ATTRIBUTION", defaultTileAttribution),
		},
		CacheLRUSize:   getint("CACHE_LRU_SIZE", 128),
		CacheTTL:       getduration("CACHE_TTL", 10*time.Minute),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		RedisEnabled:   getbool("REDIS_ENABLED", false),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		H3Res:          res,
		H3ResMin:       getint("H3_RES_MIN", max(res-3, hexbin.MinRes)),
		H3ResMax:       getint("H3_RES_MAX", min(res+2, hexbin.MaxRes)),
		HexbinMaxCells: getint("HEXBIN_MAX_CELLS", hexbin.DefaultMaxCells),
		MaxRenders:     getint("MAX_RENDERS", 0),
		Reload: ReloadCfg{
			Enabled:  getbool("RELOAD_ENABLED", false),
			Brokers:  splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:    getenv("KAFKA_TOPIC", "flowmap-reload"),
			GroupID:  getenv("KAFKA_GROUP_ID", "flowmap-server-"+instance),
			Publish:  getbool("RELOAD_PUBLISH", false),
			Instance: instance,
		},
		Metrics:     getbool("METRICS_ENABLED", true),
		MetricsPath: getenv("METRICS_PATH", "/metrics"),
		Build: BuildCfg{
			Version:   getenv("BUILD_VERSION", "dev"),
			Revision:  getenv("BUILD_REVISION", ""),
			Branch:    getenv("BUILD_BRANCH", ""),
			BuildDate: getenv("BUILD_DATE", ""),
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Source.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := colormap.Lookup(c.Defaults.Colormap); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_COLORMAP: %w", err))
	}
	if err := c.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	if c.H3Res < hexbin.MinRes || c.H3Res > hexbin.MaxRes {
		errs = append(errs, fmt.Errorf("H3_RES %d outside %d..%d", c.H3Res, hexbin.MinRes, hexbin.MaxRes))
	}
	if c.H3ResMin < hexbin.MinRes || c.H3ResMax > hexbin.MaxRes || c.H3ResMin > c.H3Res || c.H3Res > c.H3ResMax {
		errs = append(errs, fmt.Errorf("need %d <= H3_RES_MIN (%d) <= H3_RES (%d) <= H3_RES_MAX (%d) <= %d",
			hexbin.MinRes, c.H3ResMin, c.H3Res, c.H3ResMax, hexbin.MaxRes))
	}
	if c.HexbinMaxCells <= 0 {
		errs = append(errs, fmt.Errorf("HEXBIN_MAX_CELLS %d must be positive", c.HexbinMaxCells))
	}
	if c.Map.CenterLat < -90 || c.Map.CenterLat > 90 || c.Map.CenterLon < -180 || c.Map.CenterLon > 180 {
		errs = append(errs, fmt.Errorf("map center %v,%v out of range", c.Map.CenterLat, c.Map.CenterLon))
	}
	if c.Metrics && !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("METRICS_PATH %q must start with /", c.MetricsPath))
	}
	if (c.Reload.Enabled || c.Reload.Publish) && len(c.Reload.Brokers) == 0 {
		errs = append(errs, errors.New("reload events need KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
