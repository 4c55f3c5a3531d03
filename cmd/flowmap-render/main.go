package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/flowmap/internal/colorize"
	"github.com/mohammed-shakir/flowmap/internal/colormap"
	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/logger"
	"github.com/mohammed-shakir/flowmap/internal/raster"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

const usageText = `usage: flowmap-render <command> [flags]

commands:
  render    colorize a flow raster, stroke the boundary and write a PNG
  enhance   apply brightness, contrast and opacity to an existing image
  legend    draw the colorbar of a colormap
  help      show this message

Run "flowmap-render <command> -h" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usageText)
		return 2
	}
	var err error
	switch args[0] {
	case "render":
		err = renderCmd(ctx, args[1:], stdout, stderr)
	case "enhance":
		err = enhanceCmd(args[1:], stdout, stderr)
	case "legend":
		err = legendCmd(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usageText)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "flowmap-render %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("flowmap-render "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// optionFlags binds the shared display controls to fs.
func optionFlags(fs *flag.FlagSet, o *render.Options) {
	fs.StringVar(&o.Colormap, "colormap", o.Colormap, "colormap name")
	fs.Float64Var(&o.Opacity, "opacity", o.Opacity, "overlay opacity (0.1-1)")
	fs.Float64Var(&o.Brightness, "brightness", o.Brightness, "brightness factor (0-5)")
	fs.Float64Var(&o.Contrast, "contrast", o.Contrast, "contrast factor (0-5)")
	fs.IntVar(&o.MaxSize, "max-size", o.MaxSize, "cap on the longest image side, 0 keeps the raster size")
}

func cliLogger(stderr io.Writer, level string) *slog.Logger {
	zl := logger.Build(logger.Config{Level: level, Console: true, Component: "flowmap-render"}, stderr)
	return logger.NewSlog(&zl)
}

func renderCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("render", stderr)
	src := dataset.Source{Name: "default", Mode: dataset.ModeLocal}
	opts := render.DefaultOptions()
	fs.StringVar(&src.Name, "dataset", src.Name, "dataset name")
	fs.StringVar(&src.RasterPath, "raster", "", "flow accumulation raster (.tif, .asc, .asc.gz)")
	fs.StringVar(&src.BoundaryPath, "boundary", "", "watershed boundary (.shp, .geojson)")
	fs.StringVar(&src.RasterCRS, "raster-crs", "", "override the raster CRS (EPSG code)")
	fs.StringVar(&src.BoundaryCRS, "boundary-crs", "", "override the boundary CRS (EPSG code)")
	optionFlags(fs, &opts)
	minSide := fs.Int("min-side", 800, "upscale so the shorter side is at least this many pixels")
	out := fs.String("out", "flowmap.png", "output PNG path, - for stdout")
	level := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if src.RasterPath == "" {
		return errors.New("-raster is required")
	}

	log := cliLogger(stderr, *level)
	svc := dashboard.New(dashboard.Config{Defaults: opts, MaxRenders: 1}, dataset.NewLoader(src, nil, log), nil, log)
	ds, err := svc.Reload(ctx)
	if err != nil {
		return err
	}
	for _, w := range ds.Warnings {
		_, _ = fmt.Fprintln(stderr, "warning:", w)
	}
	img, err := svc.Composite(ctx, opts, *minSide)
	if err != nil {
		return err
	}
	return writePNG(*out, stdout, img)
}

func enhanceCmd(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("enhance", stderr)
	opts := render.DefaultOptions()
	opts.Opacity = 1
	optionFlags(fs, &opts)
	in := fs.String("in", "", "input image (PNG or JPEG)")
	out := fs.String("out", "enhanced.png", "output PNG path, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	f, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("open %s: %w", *in, err)
	}
	defer func() { _ = f.Close() }()
	img, err := render.DecodeImage(f)
	if err != nil {
		return err
	}
	return writePNG(*out, stdout, render.Apply(img, opts))
}

func legendCmd(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("legend", stderr)
	name := fs.String("colormap", colormap.Default, "colormap name")
	w := fs.Int("width", render.LegendWidth, "legend width in pixels")
	h := fs.Int("height", render.LegendHeight, "legend height in pixels")
	rasterPath := fs.String("raster", "", "optional raster whose value range labels the ticks")
	out := fs.String("out", "legend.png", "output PNG path, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cm, err := colormap.Lookup(*name)
	if err != nil {
		return err
	}
	if *w <= 0 || *h <= 0 || *w > render.MaxImageSide || *h > render.MaxImageSide {
		return fmt.Errorf("legend size %dx%d outside 1..%d", *w, *h, render.MaxImageSide)
	}

	var rng colorize.ValueRange
	if *rasterPath != "" {
		r, err := raster.Open(*rasterPath, "")
		if err != nil {
			return err
		}
		n, err := colorize.Normalize(r.Grid())
		if err != nil {
			return err
		}
		rng = n.Range
	}
	return writePNG(*out, stdout, render.Legend(cm, *w, *h, rng))
}

func writePNG(path string, stdout io.Writer, img image.Image) error {
	if path == "-" {
		return render.EncodePNG(stdout, img)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render.EncodePNG(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
