package render

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
)

// BoundaryStyle is the stroke used for watershed outlines.
type BoundaryStyle struct {
	Color color.Color
	Width float64
}

var DefaultBoundaryStyle = BoundaryStyle{Color: color.NRGBA{R: 255, A: 255}, Width: 2}

// Composite draws img over a white canvas and strokes the boundary lines on
// top. extent is the geographic rectangle covered by img; lines must be in
// the same coordinates.
func Composite(img image.Image, extent orb.Bound, lines []orb.LineString, style BoundaryStyle) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)

	if len(lines) == 0 || extent.Max[0] <= extent.Min[0] || extent.Max[1] <= extent.Min[1] {
		return dc.Image()
	}
	sx := float64(w) / (extent.Max[0] - extent.Min[0])
	sy := float64(h) / (extent.Max[1] - extent.Min[1])
	toPixel := func(p orb.Point) (float64, float64) {
		return (p[0] - extent.Min[0]) * sx, (extent.Max[1] - p[1]) * sy
	}

	dc.SetColor(style.Color)
	dc.SetLineWidth(style.Width)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.SetLineCap(gg.LineCapRound)
	for _, ls := range lines {
		if len(ls) < 2 {
			continue
		}
		dc.NewSubPath()
		dc.MoveTo(toPixel(ls[0]))
		for _, p := range ls[1:] {
			dc.LineTo(toPixel(p))
		}
	}
	dc.Stroke()
	return dc.Image()
}
