// Package colorize turns a flow-accumulation grid into a colorized RGBA image.
//
// Negative cells are treated as missing, the remaining values are log1p
// transformed, rescaled to [0,1] with the min/max of the defined cells and
// looked up in a colormap. Missing cells are fully transparent.
package colorize

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/raster"
)

// FlatValue is the normalized value assigned to every defined cell when the
// log-transformed grid has a single distinct value.
const FlatValue = 0.5

// NormalizationError reports a value range that cannot be rescaled.
type NormalizationError struct {
	Min, Max float64
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize value range [%v, %v]", e.Min, e.Max)
}

// ValueRange describes the defined cells of a grid. Min and Max are in
// log1p space; RawMin and RawMax are the untransformed values. All four are
// NaN when no cell is defined.
type ValueRange struct {
	Min     float64 `json:"min_log"`
	Max     float64 `json:"max_log"`
	RawMin  float64 `json:"min"`
	RawMax  float64 `json:"max"`
	Defined int     `json:"defined_cells"`
}

// Normalized is a grid rescaled to [0,1], NaN where the cell is missing.
type Normalized struct {
	Rows, Cols int
	Values     []float64
	Range      ValueRange
	// Degenerate is set when no cell is defined or all defined cells share one value.
	Degenerate bool
}

// At returns the normalized value of cell (row,col).
func (n *Normalized) At(row, col int) float64 { return n.Values[row*n.Cols+col] }

// Result is the output of Colorize.
type Result struct {
	*Normalized
	Image *image.NRGBA
}

// Normalize runs the clip, log1p and min-max steps.
func Normalize(grid [][]float64) (*Normalized, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, &raster.DataError{Op: "colorize", Err: errors.New("empty grid")}
	}
	rows, cols := len(grid), len(grid[0])
	n := &Normalized{Rows: rows, Cols: cols, Values: make([]float64, rows*cols)}

	lo, hi := math.Inf(1), math.Inf(-1)
	rawLo, rawHi := math.Inf(1), math.Inf(-1)
	for r, row := range grid {
		if len(row) != cols {
			return nil, &raster.DataError{Op: "colorize", Err: fmt.Errorf("row %d has %d cells, want %d", r, len(row), cols)}
		}
		for c, v := range row {
			i := r*cols + c
			if v < 0 || math.IsNaN(v) {
				n.Values[i] = math.NaN()
				continue
			}
			lv := math.Log1p(v)
			n.Values[i] = lv
			n.Range.Defined++
			lo, hi = math.Min(lo, lv), math.Max(hi, lv)
			rawLo, rawHi = math.Min(rawLo, v), math.Max(rawHi, v)
		}
	}

	if n.Range.Defined == 0 {
		nan := math.NaN()
		n.Range.Min, n.Range.Max, n.Range.RawMin, n.Range.RawMax = nan, nan, nan, nan
		n.Degenerate = true
		return n, nil
	}
	n.Range.Min, n.Range.Max = lo, hi
	n.Range.RawMin, n.Range.RawMax = rawLo, rawHi

	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return nil, &NormalizationError{Min: lo, Max: hi}
	}

	span := hi - lo
	if span == 0 {
		n.Degenerate = true
	}
	for i, lv := range n.Values {
		if math.IsNaN(lv) {
			continue
		}
		if span == 0 {
			n.Values[i] = FlatValue
			continue
		}
		n.Values[i] = (lv - lo) / span
	}
	return n, nil
}

// Colorize normalizes grid and maps it through cm, one pixel per cell.
// Image row 0 is grid row 0.
func Colorize(grid [][]float64, cm *colormap.Colormap) (*Result, error) {
	if cm == nil {
		return nil, errors.New("colorize: nil colormap")
	}
	n, err := Normalize(grid)
	if err != nil {
		return nil, err
	}
	return &Result{Normalized: n, Image: Paint(n, cm)}, nil
}

// Paint maps already normalized values through cm.
func Paint(n *Normalized, cm *colormap.Colormap) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, n.Cols, n.Rows))
	for i, t := range n.Values {
		c := cm.At(t)
		p := img.Pix[i*4 : i*4+4 : i*4+4]
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
	}
	return img
}
