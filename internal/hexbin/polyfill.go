package hexbin

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	h3 "github.com/uber/h3-go/v4"
)

const (
	MinRes = 0
	MaxRes = 15

	// DefaultMaxCells caps one polyfill when the caller passes no limit.
	DefaultMaxCells = 500_000
)

var ErrTooManyCells = errors.New("hexbin: polyfill too large")

func validateRes(res int) error {
	if res < MinRes || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// EstimateCells approximates how many hexagons at res cover polys, from
// their geodesic area and the average hexagon area.
func EstimateCells(polys []orb.Polygon, res int) (int, error) {
	if err := validateRes(res); err != nil {
		return 0, err
	}
	hex, err := h3.HexagonAreaAvgKm2(res)
	if err != nil {
		return 0, fmt.Errorf("h3 hexagon area: %w", err)
	}
	area := geo.Area(orb.MultiPolygon(polys)) / 1e6
	est := math.Ceil(area / hex)
	if est > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(est), nil
}

// CellsForPolygons returns the union of the polyfills of polys (lon/lat
// degrees). A cell belongs to a polygon when its center does. It fails with
// ErrTooManyCells before filling when the estimate exceeds maxCells;
// maxCells <= 0 means DefaultMaxCells.
func CellsForPolygons(polys []orb.Polygon, res, maxCells int) (map[h3.Cell]struct{}, error) {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	est, err := EstimateCells(polys, res)
	if err != nil {
		return nil, err
	}
	if est > maxCells {
		return nil, fmt.Errorf("%w: about %d cells at res %d, limit %d", ErrTooManyCells, est, res, maxCells)
	}
	out := make(map[h3.Cell]struct{})
	for pi, p := range polys {
		if len(p) == 0 {
			return nil, fmt.Errorf("polygon %d is empty", pi)
		}
		outer := toLoop(p[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 4 vertices", pi)
		}
		var holes []h3.GeoLoop
		for i, r := range p[1:] {
			h := toLoop(r)
			if len(h) < 3 {
				return nil, fmt.Errorf("polygon %d hole %d has < 4 vertices", pi, i)
			}
			holes = append(holes, h)
		}
		cells, err := polyfillOne(outer, holes, res)
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			out[c] = struct{}{}
		}
	}
	return out, nil
}

// Convert a ring to an h3.GeoLoop (in degrees). If the ring is explicitly
// closed (last == first), drop the trailing duplicate.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p[1], Lng: p[0]})
	}
	if len(loop) >= 2 {
		last := loop[len(loop)-1]
		first := loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]h3.Cell, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}
