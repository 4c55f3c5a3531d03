package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/flowmap/internal/core/config"
	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

type handlers struct {
	layers    Layers
	announcer Announcer
	mapCfg    config.MapCfg
	h3Res     int
	logger    *slog.Logger
}

func (h *handlers) overlayPNG(w http.ResponseWriter, r *http.Request) {
	opts, err := ParseOptions(r.URL.Query(), h.layers.Defaults())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ov, err := h.layers.Overlay(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bounds, _ := json.Marshal(ov.Corners)
	w.Header().Set("X-Overlay-Bounds", string(bounds))
	w.Header().Set("X-Dataset-Version", ov.Version)
	writeBytes(w, "image/png", ov.PNG)
}

func (h *handlers) overlayJSON(w http.ResponseWriter, r *http.Request) {
	md, err := h.layers.Metadata(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *handlers) boundary(w http.ResponseWriter, r *http.Request) {
	b, err := h.layers.Boundary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, "application/geo+json", b)
}

func (h *handlers) legend(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("colormap"))
	if name == "" {
		name = h.layers.Defaults().Colormap
	}
	b, err := h.layers.Legend(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, "image/png", b)
}

func (h *handlers) hexbins(w http.ResponseWriter, r *http.Request) {
	res := h.h3Res
	if v := strings.TrimSpace(r.URL.Query().Get("res")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, r, &dashboard.ParamError{Param: "res", Err: err})
			return
		}
		res = n
	}
	b, err := h.layers.Hexbins(r.Context(), res)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBytes(w, "application/geo+json", b)
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	ds, err := h.layers.Reload(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.announcer != nil {
		h.announcer.AnnounceReload(ds.Name)
	}
	warnings := ds.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":  ds.Name,
		"version":  ds.Version,
		"warnings": warnings,
	})
}

// ParseOptions reads render controls from query values, falling back to
// defaults for absent ones. Range checks are left to Options.Validate.
func ParseOptions(q url.Values, defaults render.Options) (render.Options, error) {
	o := defaults
	if v := strings.TrimSpace(q.Get("colormap")); v != "" {
		o.Colormap = strings.ToLower(v)
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"opacity", &o.Opacity},
		{"brightness", &o.Brightness},
		{"contrast", &o.Contrast},
	}
	for _, f := range floats {
		v := strings.TrimSpace(q.Get(f.name))
		if v == "" {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return o, &dashboard.ParamError{Param: f.name, Err: err}
		}
		*f.dst = x
	}
	if v := strings.TrimSpace(q.Get("max_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return o, &dashboard.ParamError{Param: "max_size", Err: err}
		}
		o.MaxSize = n
	}
	return o, nil
}

// StatusOf maps a dashboard error to its HTTP status. Stage failures and
// anything unexpected are 500.
func StatusOf(err error) int {
	var pe *dashboard.ParamError
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrNoBoundary):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	body := map[string]string{"error": err.Error()}
	var se *dataset.StageError
	if errors.As(err, &se) {
		body["stage"] = string(se.Stage)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBytes(w http.ResponseWriter, contentType string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(b)
}
