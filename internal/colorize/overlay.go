package colorize

import (
	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/raster"
)

// Overlay is a colorized raster anchored to a bounding rectangle. Image row
// 0 is the northern edge.
type Overlay struct {
	*Result
	Bounds   raster.Bounds
	CRS      string
	Colormap string
}

// NewOverlay colorizes r and pairs the image with the raster bounds, in the
// raster's own CRS.
func NewOverlay(r *raster.FlowRaster, cm *colormap.Colormap) (*Overlay, error) {
	if err := r.Validate(); err != nil {
		return nil, &raster.DataError{Op: "colorize", Err: err}
	}
	res, err := Colorize(r.Grid(), cm)
	if err != nil {
		return nil, err
	}
	return &Overlay{Result: res, Bounds: r.Bounds, CRS: r.CRS, Colormap: cm.Name()}, nil
}

// PaintOverlay colors an already normalized grid and anchors it to b.
func PaintOverlay(n *Normalized, cm *colormap.Colormap, b raster.Bounds, crs string) *Overlay {
	return &Overlay{
		Result:   &Result{Normalized: n, Image: Paint(n, cm)},
		Bounds:   b,
		CRS:      crs,
		Colormap: cm.Name(),
	}
}

// Corners returns [[bottom, left], [top, right]], the order image overlays
// on a web map expect.
func Corners(b raster.Bounds) [2][2]float64 {
	return [2][2]float64{
		{b.Bottom, b.Left},
		{b.Top, b.Right},
	}
}
