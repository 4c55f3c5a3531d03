package colormap

import (
	"math"

	"github.com/mazznoer/colorgrad"
	chart "github.com/wcharczuk/go-chart/v2"
)

// viridis reads go-chart's 256-entry table. Entry i sits at x = i/255.
func viridis(x float64) (r, g, b float64) {
	c := chart.Viridis(x*(Size-1)+0.5, 0, Size-1)
	return float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255
}

// sampled evaluates a colorgrad preset, a basis spline through the
// published stops of the ramp.
func sampled(grad colorgrad.Gradient) func(x float64) (r, g, b float64) {
	return func(x float64) (float64, float64, float64) {
		c := grad.At(x)
		return c.R, c.G, c.B
	}
}

// cubehelix follows Green (2011) with the matplotlib default parameters.
func cubehelix(gamma, s, rot, hue float64) func(x float64) (r, g, b float64) {
	channelFn := func(p0, p1 float64) func(x float64) float64 {
		return func(x float64) float64 {
			xg := math.Pow(x, gamma)
			a := hue * xg * (1 - xg) / 2
			phi := 2 * math.Pi * (s/3 + rot*x)
			return xg + a*(p0*math.Cos(phi)+p1*math.Sin(phi))
		}
	}
	red := channelFn(-0.14861, 1.78277)
	green := channelFn(-0.29227, -0.90649)
	blue := channelFn(1.97294, 0.0)
	return func(x float64) (r, g, b float64) {
		return red(x), green(x), blue(x)
	}
}
