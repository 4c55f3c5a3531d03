// Package colormap provides the named color schemes offered by the map controls.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/mazznoer/colorgrad"
)

// Size is the number of entries in every lookup table.
const Size = 256

// Default is the colormap selected when none is requested.
const Default = "cubehelix"

// Bad is the color of missing cells.
var Bad = color.NRGBA{}

// Colormap maps a normalized value in [0, 1] to a color.
type Colormap struct {
	name string
	lut  [Size]color.NRGBA
}

func (c *Colormap) Name() string { return c.name }

// At returns the color for t. NaN maps to Bad, values outside [0,1] clamp.
func (c *Colormap) At(t float64) color.NRGBA {
	if math.IsNaN(t) {
		return Bad
	}
	return c.lut[Index(t)]
}

// Index returns the table slot for t, with 1.0 landing in the last slot.
func Index(t float64) int {
	if t <= 0 {
		return 0
	}
	i := int(t * Size)
	if i >= Size {
		return Size - 1
	}
	return i
}

// LUT returns a copy of the lookup table.
func (c *Colormap) LUT() [Size]color.NRGBA { return c.lut }

var (
	registry = map[string]*Colormap{}
	order    []string
)

func register(name string, fn func(x float64) (r, g, b float64)) {
	c := &Colormap{name: name}
	for i := range c.lut {
		r, g, b := fn(float64(i) / (Size - 1))
		c.lut[i] = color.NRGBA{R: channel(r), G: channel(g), B: channel(b), A: 255}
	}
	registry[name] = c
	order = append(order, name)
}

// channel truncates like a float-to-uint8 cast of v*255; the epsilon keeps
// exact table colors from rounding down after the /255 round trip.
func channel(v float64) uint8 {
	v = math.Max(0, math.Min(1, v))
	return uint8(math.Floor(v*255 + 1e-9))
}

// Lookup returns the colormap registered under name, case-insensitively.
func Lookup(name string) (*Colormap, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = Default
	}
	if c, ok := registry[n]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown colormap %q (available: %s)", name, strings.Join(order, ", "))
}

// Names lists the colormaps in selection order.
func Names() []string {
	return append([]string(nil), order...)
}

func init() {
	register("viridis", viridis)
	register("plasma", sampled(colorgrad.Plasma()))
	register("cubehelix", cubehelix(1.0, 0.5, -1.5, 1.0))
	register("magma", sampled(colorgrad.Magma()))
	register("inferno", sampled(colorgrad.Inferno()))
}
