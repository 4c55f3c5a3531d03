package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const flowGrid = `ncols 3
nrows 2
xllcorner -47.5
yllcorner -18.7
cellsize 0.1
NODATA_value -9999
0 1 10
100 -9999 1000
`

const basin = `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-47.45,-18.65],[-47.25,-18.65],[-47.25,-18.55],[-47.45,-18.55],[-47.45,-18.65]]]}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func decodeFile(t *testing.T, p string) image.Image {
	t.Helper()
	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open %s: %v", p, err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", p, err)
	}
	return img
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"help"}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d want 0", code)
	}
	if !strings.Contains(out.String(), "enhance") {
		t.Fatalf("usage missing commands: %q", out.String())
	}
	if code := run(context.Background(), nil, &out, &errOut); code != 2 {
		t.Fatalf("no args code=%d want 2", code)
	}
	if code := run(context.Background(), []string{"bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command code=%d want 2", code)
	}
}

func TestRender_WritesComposite(t *testing.T) {
	dir := t.TempDir()
	rp := writeFile(t, dir, "flow.asc", flowGrid)
	bp := writeFile(t, dir, "basin.geojson", basin)
	out := filepath.Join(dir, "map.png")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"render",
		"-raster", rp, "-boundary", bp, "-min-side", "200", "-out", out}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}
	img := decodeFile(t, out)
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Fatalf("size=%dx%d want 300x200", b.Dx(), b.Dy())
	}
	// the missing cell sits over the white background
	if c := color.NRGBAModel.Convert(img.At(150, 120)).(color.NRGBA); c.R < 250 || c.G < 250 || c.B < 250 {
		t.Fatalf("missing cell=%v want white", c)
	}
}

func TestRender_MissingRasterFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"render", "-raster", filepath.Join(t.TempDir(), "none.asc")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(stderr.String(), "none.asc") {
		t.Fatalf("stderr=%q want path in message", stderr.String())
	}
}

func TestRender_RequiresRaster(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"render"}, &stdout, &stderr); code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
}

func TestEnhance_AppliesOpacity(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 10, 120, 200, 255
	}
	in := filepath.Join(dir, "in.png")
	f, err := os.Create(in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"enhance", "-in", in, "-opacity", "0.5", "-out", "-"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := color.NRGBAModel.Convert(img.At(1, 1)).(color.NRGBA)
	if c.A < 126 || c.A > 129 {
		t.Fatalf("alpha=%d want ~127", c.A)
	}
}

func TestEnhance_RejectsOutOfRange(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"enhance", "-in", "x.png", "-contrast", "9"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
}

func TestLegend(t *testing.T) {
	dir := t.TempDir()
	rp := writeFile(t, dir, "flow.asc", flowGrid)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"legend", "-colormap", "viridis", "-raster", rp,
		"-width", "120", "-height", "300", "-out", "-"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 300 {
		t.Fatalf("size=%dx%d want 120x300", b.Dx(), b.Dy())
	}

	if code := run(context.Background(), []string{"legend", "-colormap", "nope"}, &stdout, &stderr); code != 1 {
		t.Fatalf("unknown colormap code=%d want 1", code)
	}
}
