package colorize

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/raster"
)

func mustColormap(t *testing.T, name string) *colormap.Colormap {
	t.Helper()
	cm, err := colormap.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return cm
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

func TestNormalize_WorkedExample(t *testing.T) {
	n, err := Normalize([][]float64{{1, -1}, {3, 7}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !math.IsNaN(n.At(0, 1)) {
		t.Fatalf("(0,1)=%v want NaN", n.At(0, 1))
	}
	if !near(n.Range.Min, 0.693) || !near(n.Range.Max, 2.079) {
		t.Fatalf("range=%+v want log range [0.693, 2.079]", n.Range)
	}
	if n.At(0, 0) != 0 || n.At(1, 1) != 1 {
		t.Fatalf("min/max cells=%v,%v want 0,1", n.At(0, 0), n.At(1, 1))
	}
	if !near(n.At(1, 0), 0.5) {
		t.Fatalf("(1,0)=%v want 0.5", n.At(1, 0))
	}
	if n.Range.RawMin != 1 || n.Range.RawMax != 7 || n.Range.Defined != 3 {
		t.Fatalf("raw range=%+v", n.Range)
	}
	if n.Degenerate {
		t.Fatalf("unexpected degenerate flag")
	}
}

func TestNormalize_RangeProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		rows, cols := 1+rng.Intn(12), 2+rng.Intn(12)
		grid := make([][]float64, rows)
		maxR, maxC, minR, minC := 0, 0, 0, 0
		for r := range grid {
			grid[r] = make([]float64, cols)
			for c := range grid[r] {
				grid[r][c] = rng.Float64() * 1e6
				if grid[r][c] > grid[maxR][maxC] {
					maxR, maxC = r, c
				}
				if grid[r][c] < grid[minR][minC] {
					minR, minC = r, c
				}
			}
		}
		n, err := Normalize(grid)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		for i, v := range n.Values {
			if v < 0 || v > 1 {
				t.Fatalf("cell %d=%v outside [0,1]", i, v)
			}
		}
		if n.At(maxR, maxC) != 1 || n.At(minR, minC) != 0 {
			t.Fatalf("max cell=%v min cell=%v want 1 and 0", n.At(maxR, maxC), n.At(minR, minC))
		}
	}
}

func TestNormalize_NegativeCellsDoNotMoveRange(t *testing.T) {
	a, err := Normalize([][]float64{{2, -1}, {5, 40}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b, err := Normalize([][]float64{{2, -1e9}, {5, 40}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Range.Min != b.Range.Min || a.Range.Max != b.Range.Max {
		t.Fatalf("range depends on negative value: %+v vs %+v", a.Range, b.Range)
	}
	if a.Range.Min != math.Log1p(2) {
		t.Fatalf("min=%v want log1p(2)", a.Range.Min)
	}
}

func TestColorize_Idempotent(t *testing.T) {
	grid := [][]float64{{0, 1, 10}, {100, -5, 1000}, {3, 3, 3}}
	cm := mustColormap(t, "magma")
	a, err := Colorize(grid, cm)
	if err != nil {
		t.Fatalf("Colorize: %v", err)
	}
	b, err := Colorize(grid, cm)
	if err != nil {
		t.Fatalf("Colorize: %v", err)
	}
	if !bytes.Equal(a.Image.Pix, b.Image.Pix) {
		t.Fatalf("two runs produced different pixels")
	}
}

func TestColorize_MissingCellsTransparent(t *testing.T) {
	res, err := Colorize([][]float64{{1, -1}, {3, 7}}, mustColormap(t, "viridis"))
	if err != nil {
		t.Fatalf("Colorize: %v", err)
	}
	if got := res.Image.NRGBAAt(1, 0); got != colormap.Bad {
		t.Fatalf("missing pixel=%v want transparent", got)
	}
	if got := res.Image.NRGBAAt(1, 1); got.A != 255 {
		t.Fatalf("defined pixel alpha=%d want 255", got.A)
	}
}

func TestColorize_FlatGridFallback(t *testing.T) {
	cm := mustColormap(t, "cubehelix")
	res, err := Colorize([][]float64{{0, 0}, {0, 0}}, cm)
	if err != nil {
		t.Fatalf("Colorize on flat grid: %v", err)
	}
	if !res.Degenerate {
		t.Fatalf("flat grid must be flagged degenerate")
	}
	want := cm.At(FlatValue)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := res.Image.NRGBAAt(x, y); got != want {
				t.Fatalf("pixel(%d,%d)=%v want %v", x, y, got, want)
			}
		}
	}
}

func TestColorize_AllMissing(t *testing.T) {
	res, err := Colorize([][]float64{{-1, -2}}, mustColormap(t, "plasma"))
	if err != nil {
		t.Fatalf("Colorize: %v", err)
	}
	if !res.Degenerate || res.Range.Defined != 0 || !math.IsNaN(res.Range.Min) {
		t.Fatalf("result=%+v want degenerate with NaN range", res.Range)
	}
	for i := 3; i < len(res.Image.Pix); i += 4 {
		if res.Image.Pix[i] != 0 {
			t.Fatalf("alpha at %d=%d want 0", i, res.Image.Pix[i])
		}
	}
}

func TestColorize_Errors(t *testing.T) {
	cm := mustColormap(t, "viridis")

	_, err := Colorize(nil, cm)
	var de *raster.DataError
	if !errors.As(err, &de) {
		t.Fatalf("nil grid err=%v want *raster.DataError", err)
	}
	_, err = Colorize([][]float64{{1, 2}, {3}}, cm)
	if !errors.As(err, &de) {
		t.Fatalf("ragged grid err=%v want *raster.DataError", err)
	}

	_, err = Colorize([][]float64{{1, math.Inf(1)}}, cm)
	var ne *NormalizationError
	if !errors.As(err, &ne) {
		t.Fatalf("infinite cell err=%v want *NormalizationError", err)
	}
}

func TestPaintOverlay_ReusesNormalization(t *testing.T) {
	n, err := Normalize([][]float64{{0, 10}, {100, -1}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	cm := mustColormap(t, "magma")
	b := raster.Bounds{Left: 10, Right: 12, Bottom: 40, Top: 41}
	ov := PaintOverlay(n, cm, b, "EPSG:4326")
	if ov.Normalized != n || ov.Colormap != "magma" {
		t.Fatalf("overlay=%+v", ov)
	}
	if got := Corners(ov.Bounds); got != [2][2]float64{{40, 10}, {41, 12}} {
		t.Fatalf("corners=%v", got)
	}
	if got := ov.Image.NRGBAAt(1, 1); got.A != 0 {
		t.Fatalf("missing cell alpha=%d want 0", got.A)
	}
}

func TestOverlay_GeographicAnchoring(t *testing.T) {
	cm := mustColormap(t, "inferno")
	b := raster.Bounds{Left: -47.5, Right: -46.9, Bottom: -18.8, Top: -18.2}
	for _, rows := range []int{1, 2, 7, 64} {
		grid := make([][]float64, rows)
		for r := range grid {
			grid[r] = []float64{float64(r), float64(r * 10), float64(r * 100)}
		}
		ras, err := raster.FromGrid(grid, b, "EPSG:4326")
		if err != nil {
			t.Fatalf("FromGrid: %v", err)
		}
		ov, err := NewOverlay(ras, cm)
		if err != nil {
			t.Fatalf("NewOverlay: %v", err)
		}
		if sz := ov.Image.Bounds().Size(); sz.Y != rows || sz.X != 3 {
			t.Fatalf("image size=%v want 3x%d", sz, rows)
		}
		corners := Corners(ov.Bounds)
		if corners[0] != [2]float64{b.Bottom, b.Left} || corners[1] != [2]float64{b.Top, b.Right} {
			t.Fatalf("corners=%v", corners)
		}
		// top image row carries the northern grid row
		if got, want := ov.Image.NRGBAAt(2, 0), cm.At(ov.At(0, 2)); got != want {
			t.Fatalf("rows=%d pixel(2,0)=%v want %v", rows, got, want)
		}
	}
}
