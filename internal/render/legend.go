package render

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/fogleman/gg"

	"github.com/mohammed-shakir/flowmap/internal/colorize"
	"github.com/mohammed-shakir/flowmap/internal/colormap"
)

const (
	LegendWidth  = 160
	LegendHeight = 240
	LegendTitle  = "flow accumulation (log)"

	legendPad   = 10
	legendBar   = 24
	legendTicks = 5
)

// Legend draws a w×h vertical colorbar for cm. Tick labels show raw flow
// values when rng has defined cells, normalized values otherwise.
func Legend(cm *colormap.Colormap, w, h int, rng colorize.ValueRange) image.Image {
	if w <= 0 || h <= 0 {
		w, h = LegendWidth, LegendHeight
	}
	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(LegendTitle, float64(w)/2, legendPad, 0.5, 1)

	top := float64(legendPad * 3)
	bottom := float64(h - legendPad*2)
	span := bottom - top
	for y := top; y < bottom; y++ {
		t := 1 - (y-top)/(span-1)
		dc.SetColor(cm.At(t))
		dc.DrawRectangle(legendPad, y, legendBar, 1)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(legendPad, top, legendBar, span)
	dc.Stroke()

	for i := 0; i < legendTicks; i++ {
		t := float64(i) / (legendTicks - 1)
		y := bottom - t*span
		x := float64(legendPad + legendBar)
		dc.DrawLine(x, y, x+4, y)
		dc.Stroke()
		dc.DrawStringAnchored(TickLabel(rng, t), x+8, y, 0, 0.5)
	}
	dc.DrawStringAnchored(cm.Name(), float64(w)/2, float64(h)-legendPad/2, 0.5, 0)
	return dc.Image()
}

// TickLabel formats the raw value that maps to normalized t.
func TickLabel(rng colorize.ValueRange, t float64) string {
	if rng.Defined == 0 || math.IsNaN(rng.Min) || rng.Max <= rng.Min {
		return strconv.FormatFloat(t, 'g', 2, 64)
	}
	v := math.Expm1(rng.Min + t*(rng.Max-rng.Min))
	return strconv.FormatFloat(v, 'g', 3, 64)
}
