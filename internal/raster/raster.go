// Package raster holds the flow-accumulation grid model and its file readers.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// Transform is a pixel-to-map affine transform in GDAL coefficient order:
//
//	x = C + col*A + row*B
//	y = F + col*D + row*E
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Apply returns the map coordinate of the pixel corner (col,row).
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.C + col*t.A + row*t.B, t.F + col*t.D + row*t.E
}

// Center returns the map coordinate of the center of cell (col,row).
func (t Transform) Center(col, row int) (x, y float64) {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

func (t Transform) rotated() bool {
	return t.B != 0 || t.D != 0
}

type Bounds struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Top    float64 `json:"top"`
}

func (b Bounds) Width() float64  { return b.Right - b.Left }
func (b Bounds) Height() float64 { return b.Top - b.Bottom }

func (b Bounds) Valid() bool {
	return b.Right > b.Left && b.Top > b.Bottom &&
		!math.IsNaN(b.Left) && !math.IsNaN(b.Right) && !math.IsNaN(b.Bottom) && !math.IsNaN(b.Top)
}

// FlowRaster is a single band of accumulated flow counts. Data is row-major
// and row 0 is the northern row once the raster has been through Normalize.
type FlowRaster struct {
	Rows      int
	Cols      int
	Data      []float64
	Transform Transform
	Bounds    Bounds
	// CRS is an identifier such as "EPSG:31983"; empty when the source carried none.
	CRS    string
	NoData *float64
}

// At returns the value of cell (row,col).
func (r *FlowRaster) At(row, col int) float64 {
	return r.Data[row*r.Cols+col]
}

// Grid returns a row view of the data without copying.
func (r *FlowRaster) Grid() [][]float64 {
	out := make([][]float64, r.Rows)
	for i := range out {
		out[i] = r.Data[i*r.Cols : (i+1)*r.Cols]
	}
	return out
}

// Validate checks the grid against its transform.
func (r *FlowRaster) Validate() error {
	if r == nil {
		return errors.New("raster is nil")
	}
	if r.Rows <= 0 || r.Cols <= 0 {
		return fmt.Errorf("raster has no cells (%dx%d)", r.Cols, r.Rows)
	}
	if len(r.Data) != r.Rows*r.Cols {
		return fmt.Errorf("raster data has %d cells, want %d (%dx%d)", len(r.Data), r.Rows*r.Cols, r.Cols, r.Rows)
	}
	if r.Transform.A == 0 || r.Transform.E == 0 {
		return errors.New("raster transform has zero pixel size")
	}
	if r.Transform.rotated() {
		return errors.New("rotated rasters are not supported")
	}
	want := boundsFromTransform(r.Transform, r.Rows, r.Cols)
	if !closeTo(want, r.Bounds) {
		return fmt.Errorf("raster bounds %+v do not match transform extent %+v", r.Bounds, want)
	}
	return nil
}

// Normalize applies the nodata sentinel, flips south-up storage so row 0 is
// north, and recomputes the bounds from the transform.
func (r *FlowRaster) Normalize() {
	if r.NoData != nil {
		nd := *r.NoData
		for i, v := range r.Data {
			if v == nd {
				r.Data[i] = math.NaN()
			}
		}
	}
	if r.Transform.E > 0 {
		for top, bottom := 0, r.Rows-1; top < bottom; top, bottom = top+1, bottom-1 {
			a := r.Data[top*r.Cols : (top+1)*r.Cols]
			b := r.Data[bottom*r.Cols : (bottom+1)*r.Cols]
			for i := range a {
				a[i], b[i] = b[i], a[i]
			}
		}
		t := r.Transform
		t.F += float64(r.Rows) * t.E
		t.E = -t.E
		r.Transform = t
	}
	r.Bounds = boundsFromTransform(r.Transform, r.Rows, r.Cols)
}

func boundsFromTransform(t Transform, rows, cols int) Bounds {
	x0, y0 := t.Apply(0, 0)
	x1, y1 := t.Apply(float64(cols), float64(rows))
	return Bounds{
		Left:   math.Min(x0, x1),
		Right:  math.Max(x0, x1),
		Bottom: math.Min(y0, y1),
		Top:    math.Max(y0, y1),
	}
}

func closeTo(a, b Bounds) bool {
	const eps = 1e-6
	tol := eps * math.Max(1, math.Max(math.Abs(a.Width()), math.Abs(a.Height())))
	return math.Abs(a.Left-b.Left) <= tol && math.Abs(a.Right-b.Right) <= tol &&
		math.Abs(a.Bottom-b.Bottom) <= tol && math.Abs(a.Top-b.Top) <= tol
}

// FromGrid builds a north-up raster from rows of values and a bounding box.
func FromGrid(grid [][]float64, b Bounds, crs string) (*FlowRaster, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, &DataError{Op: "grid", Err: errors.New("empty grid")}
	}
	rows, cols := len(grid), len(grid[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range grid {
		if len(row) != cols {
			return nil, &DataError{Op: "grid", Err: fmt.Errorf("row %d has %d cells, want %d", i, len(row), cols)}
		}
		data = append(data, row...)
	}
	if !b.Valid() {
		return nil, &DataError{Op: "grid", Err: fmt.Errorf("invalid bounds %+v", b)}
	}
	r := &FlowRaster{
		Rows: rows,
		Cols: cols,
		Data: data,
		Transform: Transform{
			A: b.Width() / float64(cols),
			C: b.Left,
			E: -b.Height() / float64(rows),
			F: b.Top,
		},
		CRS: crs,
	}
	r.Bounds = boundsFromTransform(r.Transform, rows, cols)
	return r, nil
}
