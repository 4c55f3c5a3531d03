// Package boundary loads watershed boundary layers and reprojects them to
// geographic coordinates.
package boundary

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/flowmap/internal/crs"
)

// ErrUnsupportedFormat is returned for files without a reader.
var ErrUnsupportedFormat = errors.New("unsupported boundary format")

type Boundary struct {
	Features *geojson.FeatureCollection
	CRS      crs.CRS
	Source   string
}

// Open reads a shapefile or GeoJSON boundary. crsOverride, when set, replaces
// the CRS declared by the file (.prj or GeoJSON "crs" member).
func Open(path, crsOverride string) (*Boundary, error) {
	var (
		b   *Boundary
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		b, err = readShapefile(path)
	case ".geojson", ".json":
		b, err = readGeoJSON(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	if crsOverride != "" {
		c, err := crs.Parse(crsOverride)
		if err != nil {
			return nil, fmt.Errorf("boundary crs override: %w", err)
		}
		b.CRS = c
	}
	if len(b.Features.Features) == 0 {
		return nil, fmt.Errorf("boundary %s has no features", path)
	}
	return b, nil
}

// ToWGS84 returns the boundary reprojected to EPSG:4326.
func (b *Boundary) ToWGS84() (*Boundary, error) {
	if b.CRS.IsGeographic() {
		return b, nil
	}
	fc := geojson.NewFeatureCollection()
	for i, f := range b.Features.Features {
		g, err := b.CRS.Project(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("reproject feature %d from %s: %w", i, b.CRS, err)
		}
		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		for k, v := range f.Properties {
			nf.Properties[k] = v
		}
		fc.Append(nf)
	}
	return &Boundary{Features: fc, CRS: crs.WGS84, Source: b.Source}, nil
}

// Bound is the extent of all features.
func (b *Boundary) Bound() orb.Bound {
	out := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, f := range b.Features.Features {
		if f.Geometry != nil {
			out = out.Union(f.Geometry.Bound())
		}
	}
	return out
}

// Polygons returns every polygon of the layer, splitting multipolygons.
func (b *Boundary) Polygons() []orb.Polygon {
	var out []orb.Polygon
	for _, f := range b.Features.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			out = append(out, g)
		case orb.MultiPolygon:
			out = append(out, g...)
		}
	}
	return out
}

// Lines returns the outlines of the layer: polygon rings and line strings.
func (b *Boundary) Lines() []orb.LineString {
	var out []orb.LineString
	addPoly := func(p orb.Polygon) {
		for _, r := range p {
			out = append(out, orb.LineString(r))
		}
	}
	for _, f := range b.Features.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			addPoly(g)
		case orb.MultiPolygon:
			for _, p := range g {
				addPoly(p)
			}
		case orb.LineString:
			out = append(out, g)
		case orb.MultiLineString:
			out = append(out, g...)
		case orb.Ring:
			out = append(out, orb.LineString(g))
		}
	}
	return out
}

// MarshalJSON encodes the layer as a GeoJSON FeatureCollection.
func (b *Boundary) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Features)
}

func readGeoJSON(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	fc := geojson.NewFeatureCollection()
	switch hdr.Type {
	case "FeatureCollection":
		fc, err = geojson.UnmarshalFeatureCollection(data)
	case "Feature":
		var f *geojson.Feature
		f, err = geojson.UnmarshalFeature(data)
		if err == nil {
			fc.Append(f)
		}
	default:
		var g *geojson.Geometry
		g, err = geojson.UnmarshalGeometry(data)
		if err == nil {
			fc.Append(geojson.NewFeature(g.Geometry()))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := crs.WGS84
	if name := legacyCRSName(fc); name != "" {
		if c, err = crs.Parse(name); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return &Boundary{Features: fc, CRS: c, Source: path}, nil
}

// legacyCRSName reads the pre-RFC 7946 "crs" member.
func legacyCRSName(fc *geojson.FeatureCollection) string {
	raw, ok := fc.ExtraMembers["crs"].(map[string]interface{})
	if !ok {
		return ""
	}
	props, ok := raw["properties"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := props["name"].(string)
	return name
}
