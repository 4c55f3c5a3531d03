package router

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

//go:embed page.html
var pageFS embed.FS

var pageTmpl = template.Must(template.ParseFS(pageFS, "page.html"))

type pageConfig struct {
	CenterLat       float64        `json:"centerLat"`
	CenterLon       float64        `json:"centerLon"`
	Zoom            int            `json:"zoom"`
	TileURL         string         `json:"tileURL"`
	TileAttribution string         `json:"tileAttribution"`
	Defaults        render.Options `json:"defaults"`
	Colormaps       []string       `json:"colormaps"`
	MinOpacity      float64        `json:"minOpacity"`
	MaxEnhancement  float64        `json:"maxEnhancement"`
	H3Res           int            `json:"h3Res"`
}

func (h *handlers) page(w http.ResponseWriter, _ *http.Request) {
	cfg := pageConfig{
		CenterLat:       h.mapCfg.CenterLat,
		CenterLon:       h.mapCfg.CenterLon,
		Zoom:            h.mapCfg.Zoom,
		TileURL:         h.mapCfg.TileURL,
		TileAttribution: h.mapCfg.TileAttribution,
		Defaults:        h.layers.Defaults(),
		Colormaps:       colormap.Names(),
		MinOpacity:      render.MinOpacity,
		MaxEnhancement:  render.MaxEnhancement,
		H3Res:           h.h3Res,
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, struct{ Config pageConfig }{cfg}); err != nil {
		http.Error(w, "template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeBytes(w, "text/html; charset=utf-8", buf.Bytes())
}
