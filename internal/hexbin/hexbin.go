// Package hexbin summarizes a flow raster over H3 hexagons.
package hexbin

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/flowmap/internal/colorize"
	"github.com/mohammed-shakir/flowmap/internal/crs"
	"github.com/mohammed-shakir/flowmap/internal/raster"
)

// Bin is the summary of the defined raster cells whose center falls in one
// H3 cell.
type Bin struct {
	Cell h3.Cell
	// Count is the number of defined raster cells.
	Count   int
	MaxFlow float64
	// MeanValue is the mean normalized value in [0,1].
	MeanValue float64
}

// Aggregate bins the defined cells of r by the H3 cell of their WGS84
// center. n must be the normalization of r. When polys is non-empty only
// hexagons of its polyfill are kept; a boundary smaller than one hexagon
// keeps the raster cells whose center lies inside it instead. maxCells
// bounds the polyfill as in CellsForPolygons. Bins are sorted by cell.
func Aggregate(r *raster.FlowRaster, n *colorize.Normalized, c crs.CRS, res int, polys []orb.Polygon, maxCells int) ([]Bin, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if n.Rows != r.Rows || n.Cols != r.Cols {
		return nil, fmt.Errorf("normalized grid %dx%d does not match raster %dx%d", n.Rows, n.Cols, r.Rows, r.Cols)
	}

	var (
		allowed map[h3.Cell]struct{}
		inside  func(orb.Point) bool
	)
	if len(polys) > 0 {
		var err error
		if allowed, err = CellsForPolygons(polys, res, maxCells); err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			mp := orb.MultiPolygon(polys)
			inside = func(p orb.Point) bool { return planar.MultiPolygonContains(mp, p) }
		}
	}

	type acc struct {
		count int
		max   float64
		sum   float64
	}
	bins := make(map[h3.Cell]*acc)
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			v := n.At(row, col)
			if math.IsNaN(v) {
				continue
			}
			x, y := r.Transform.Center(col, row)
			lon, lat, err := c.ToWGS84(x, y)
			if err != nil {
				return nil, err
			}
			if inside != nil && !inside(orb.Point{lon, lat}) {
				continue
			}
			cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
			if err != nil {
				return nil, fmt.Errorf("h3 cell for (%v, %v): %w", lat, lon, err)
			}
			if allowed != nil && inside == nil {
				if _, ok := allowed[cell]; !ok {
					continue
				}
			}
			a := bins[cell]
			if a == nil {
				a = &acc{max: math.Inf(-1)}
				bins[cell] = a
			}
			a.count++
			a.sum += v
			a.max = math.Max(a.max, r.At(row, col))
		}
	}

	out := make([]Bin, 0, len(bins))
	for cell, a := range bins {
		out = append(out, Bin{Cell: cell, Count: a.count, MaxFlow: a.max, MeanValue: a.sum / float64(a.count)})
	}
	sortBins(out)
	return out, nil
}

// Rollup merges bins into their parents at parentRes. Means are weighted by
// count.
func Rollup(bins []Bin, parentRes int) ([]Bin, error) {
	if err := validateRes(parentRes); err != nil {
		return nil, err
	}
	merged := make(map[h3.Cell]*Bin)
	for _, b := range bins {
		if res := b.Cell.Resolution(); parentRes > res {
			return nil, fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, res)
		}
		p := b.Cell
		if b.Cell.Resolution() != parentRes {
			var err error
			if p, err = b.Cell.Parent(parentRes); err != nil {
				return nil, fmt.Errorf("h3 parent: %w", err)
			}
		}
		m := merged[p]
		if m == nil {
			merged[p] = &Bin{Cell: p, Count: b.Count, MaxFlow: b.MaxFlow, MeanValue: b.MeanValue}
			continue
		}
		total := m.Count + b.Count
		m.MeanValue = (m.MeanValue*float64(m.Count) + b.MeanValue*float64(b.Count)) / float64(total)
		m.Count = total
		m.MaxFlow = math.Max(m.MaxFlow, b.MaxFlow)
	}
	out := make([]Bin, 0, len(merged))
	for _, b := range merged {
		out = append(out, *b)
	}
	sortBins(out)
	return out, nil
}

func sortBins(bins []Bin) {
	sort.Slice(bins, func(i, j int) bool { return bins[i].Cell < bins[j].Cell })
}

// FeatureCollection renders bins as hexagon polygons with their statistics
// as properties.
func FeatureCollection(bins []Bin) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, b := range bins {
		boundary, err := h3.CellToBoundary(b.Cell)
		if err != nil {
			return nil, fmt.Errorf("h3 boundary of %s: %w", b.Cell, err)
		}
		ring := make(orb.Ring, 0, len(boundary)+1)
		for _, ll := range boundary {
			ring = append(ring, orb.Point{ll.Lng, ll.Lat})
		}
		if len(ring) > 0 {
			ring = append(ring, ring[0])
		}
		f := geojson.NewFeature(orb.Polygon{ring})
		f.ID = b.Cell.String()
		f.Properties["h3"] = b.Cell.String()
		f.Properties["resolution"] = b.Cell.Resolution()
		f.Properties["count"] = b.Count
		f.Properties["max_flow"] = b.MaxFlow
		f.Properties["mean_value"] = b.MeanValue
		fc.Append(f)
	}
	return fc, nil
}
