package boundary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/flowmap/internal/crs"
)

// Companions lists the side files of a shapefile; prj is optional.
var Companions = []string{".shx", ".dbf"}

func readShapefile(path string) (*Boundary, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range append([]string{".shp"}, Companions...) {
		if _, err := os.Stat(base + ext); err != nil {
			return nil, fmt.Errorf("shapefile component %s: %w", base+ext, err)
		}
	}

	c := crs.WGS84
	if prj, err := os.ReadFile(base + ".prj"); err == nil {
		if c, err = crs.FromWKT(string(prj)); err != nil {
			return nil, fmt.Errorf("%s.prj: %w", base, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	fc := geojson.NewFeatureCollection()
	for r.Next() {
		row, shape := r.Shape()
		g := toGeometry(shape)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		f.ID = row
		for i, field := range fields {
			f.Properties[field.String()] = strings.TrimSpace(r.ReadAttribute(row, i))
		}
		fc.Append(f)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	return &Boundary{Features: fc, CRS: c, Source: path}, nil
}

func toGeometry(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Polygon:
		return polygonFromParts(v.Parts, v.Points)
	case *shp.PolygonZ:
		return polygonFromParts(v.Parts, v.Points)
	case *shp.PolygonM:
		return polygonFromParts(v.Parts, v.Points)
	case *shp.PolyLine:
		return linesFromParts(v.Parts, v.Points)
	case *shp.PolyLineZ:
		return linesFromParts(v.Parts, v.Points)
	case *shp.PolyLineM:
		return linesFromParts(v.Parts, v.Points)
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	}
	return nil
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		pts := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			pts = append(pts, orb.Point{p.X, p.Y})
		}
		out = append(out, pts)
	}
	return out
}

// polygonFromParts groups rings: clockwise rings start a polygon, counter
// clockwise rings are holes of the polygon before them. Rings are emitted
// with RFC 7946 winding.
func polygonFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var polys orb.MultiPolygon
	for _, pts := range splitParts(parts, points) {
		ring := orb.Ring(pts)
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW || len(polys) == 0 {
			if ring.Orientation() == orb.CW {
				ring.Reverse()
			}
			polys = append(polys, orb.Polygon{ring})
			continue
		}
		ring.Reverse()
		last := len(polys) - 1
		polys[last] = append(polys[last], ring)
	}
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	default:
		return polys
	}
}

func linesFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var lines orb.MultiLineString
	for _, pts := range splitParts(parts, points) {
		if len(pts) >= 2 {
			lines = append(lines, orb.LineString(pts))
		}
	}
	switch len(lines) {
	case 0:
		return nil
	case 1:
		return lines[0]
	default:
		return lines
	}
}
