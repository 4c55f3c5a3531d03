// Package fetch downloads remote raster and boundary files to local disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammed-shakir/flowmap/internal/core/httpclient"
	"github.com/mohammed-shakir/flowmap/internal/core/observability"
)

// DownloadError reports a failed retrieval. Status is 0 for transport errors.
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: http status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type Downloader struct {
	logger   *slog.Logger
	client   *http.Client
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = httpclient.NewOutbound(0)
	}
	return &Downloader{logger: logger, client: client, startNow: time.Now}
}

// Fetch streams rawURL into dir and returns the local path. The body goes to
// a temporary file that is renamed once complete.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	dst := filepath.Join(dir, name)
	n, err := d.fetchTo(ctx, rawURL, dst)
	observability.ObserveDownload(err == nil, n)
	if err != nil {
		d.logger.Warn("download failed", "url", rawURL, "err", err)
		return "", err
	}
	d.logger.Info("downloaded", "url", rawURL, "path", dst, "bytes", n)
	return dst, nil
}

func (d *Downloader) fetchTo(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, &DownloadError{URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}

	start := d.startNow()
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &DownloadError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("download", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return 0, &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, &DownloadError{URL: rawURL, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, &DownloadError{URL: rawURL, Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, &DownloadError{URL: rawURL, Err: fmt.Errorf("write body: %w", err)}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, &DownloadError{URL: rawURL, Err: err}
	}
	return n, nil
}

// ShapefileParts are fetched next to the .shp; .prj is optional.
var ShapefileParts = []string{".shx", ".dbf"}

// FetchShapefile downloads a shapefile and its companions. rawURL must end
// in .shp; companions are derived by swapping the extension. A missing .prj
// is not an error.
func (d *Downloader) FetchShapefile(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	if !strings.EqualFold(path.Ext(u.Path), ".shp") {
		return "", &DownloadError{URL: rawURL, Err: errors.New("shapefile url must end in .shp")}
	}
	shpPath, err := d.Fetch(ctx, rawURL, dir)
	if err != nil {
		return "", err
	}
	for _, ext := range ShapefileParts {
		if _, err := d.Fetch(ctx, swapExt(u, ext), dir); err != nil {
			return "", err
		}
	}
	if _, err := d.Fetch(ctx, swapExt(u, ".prj"), dir); err != nil {
		var de *DownloadError
		if !errors.As(err, &de) || de.Status != http.StatusNotFound {
			return "", err
		}
		d.logger.Info("no .prj next to shapefile", "url", rawURL)
	}
	return shpPath, nil
}

func swapExt(u *url.URL, ext string) string {
	c := *u
	c.Path = strings.TrimSuffix(u.Path, path.Ext(u.Path)) + ext
	c.RawPath = ""
	return c.String()
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "", errors.New("url has no file name")
	}
	return name, nil
}
