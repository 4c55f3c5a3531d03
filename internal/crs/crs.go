// Package crs identifies coordinate reference systems and reprojects
// coordinates to geographic WGS84 (EPSG:4326).
package crs

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/im7mortal/UTM"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ErrUnsupported is returned for reference systems without a reprojection.
var ErrUnsupported = errors.New("unsupported coordinate reference system")

type Kind int

const (
	Geographic Kind = iota
	WebMercator
	TransverseMercator
)

type CRS struct {
	// Code is the EPSG code, 0 when the system was recognized from WKT alone.
	Code  int
	Kind  Kind
	Zone  int
	North bool
}

var WGS84 = CRS{Code: 4326, Kind: Geographic}

func (c CRS) IsGeographic() bool { return c.Kind == Geographic }

func (c CRS) String() string {
	if c.Code != 0 {
		return fmt.Sprintf("EPSG:%d", c.Code)
	}
	switch c.Kind {
	case WebMercator:
		return "EPSG:3857"
	case TransverseMercator:
		hemi := "S"
		if c.North {
			hemi = "N"
		}
		return fmt.Sprintf("UTM:%d%s", c.Zone, hemi)
	default:
		return "EPSG:4326"
	}
}

var geographicCodes = map[int]bool{4326: true, 4674: true, 4269: true, 4258: true, 4618: true, 4283: true}

// FromEPSG maps an EPSG code to a supported reference system.
func FromEPSG(code int) (CRS, error) {
	switch {
	case geographicCodes[code]:
		return CRS{Code: code, Kind: Geographic}, nil
	case code == 3857 || code == 900913 || code == 102100 || code == 3785:
		return CRS{Code: code, Kind: WebMercator}, nil
	case code >= 32601 && code <= 32660:
		return CRS{Code: code, Kind: TransverseMercator, Zone: code - 32600, North: true}, nil
	case code >= 32701 && code <= 32760:
		return CRS{Code: code, Kind: TransverseMercator, Zone: code - 32700}, nil
	case code >= 31978 && code <= 31985:
		// SIRGAS 2000 / UTM zones 18S..25S
		return CRS{Code: code, Kind: TransverseMercator, Zone: code - 31960}, nil
	case code >= 26901 && code <= 26923:
		// NAD83 / UTM zones 1N..23N
		return CRS{Code: code, Kind: TransverseMercator, Zone: code - 26900, North: true}, nil
	}
	return CRS{}, fmt.Errorf("EPSG:%d: %w", code, ErrUnsupported)
}

// Parse accepts "EPSG:n", a bare code, OGC URNs and "CRS84".
func Parse(s string) (CRS, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case v == "":
		return CRS{}, errors.New("empty CRS identifier")
	case v == "CRS84" || strings.HasSuffix(v, ":CRS84"):
		return WGS84, nil
	case strings.HasPrefix(v, "UTM:"):
		return parseUTM(strings.TrimPrefix(v, "UTM:"))
	}
	if i := strings.LastIndex(v, ":"); i >= 0 {
		v = v[i+1:]
	}
	code, err := strconv.Atoi(v)
	if err != nil {
		return CRS{}, fmt.Errorf("parse CRS %q: %w", s, ErrUnsupported)
	}
	return FromEPSG(code)
}

func parseUTM(v string) (CRS, error) {
	if len(v) < 2 {
		return CRS{}, fmt.Errorf("UTM:%s: %w", v, ErrUnsupported)
	}
	hemi := v[len(v)-1]
	zone, err := strconv.Atoi(v[:len(v)-1])
	if err != nil || zone < 1 || zone > 60 || (hemi != 'N' && hemi != 'S') {
		return CRS{}, fmt.Errorf("UTM:%s: %w", v, ErrUnsupported)
	}
	return CRS{Kind: TransverseMercator, Zone: zone, North: hemi == 'N'}, nil
}

var (
	wktAuthority = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	wktUTMZone   = regexp.MustCompile(`(?i)UTM[ _]zone[ _](\d{1,2})\s*([NS])`)
	wktMercator  = regexp.MustCompile(`(?i)web_mercator|pseudo[-_ ]mercator|mercator_auxiliary_sphere|popular_visualisation`)
)

// FromWKT recognizes the reference system of a .prj file.
func FromWKT(wkt string) (CRS, error) {
	w := strings.TrimSpace(wkt)
	if w == "" {
		return CRS{}, errors.New("empty WKT")
	}
	upper := strings.ToUpper(w)
	projected := strings.HasPrefix(upper, "PROJCS") || strings.HasPrefix(upper, "PROJCRS")

	// the outermost authority is the last one in the string
	if m := wktAuthority.FindAllStringSubmatch(w, -1); len(m) > 0 {
		if code, err := strconv.Atoi(m[len(m)-1][1]); err == nil {
			if c, err := FromEPSG(code); err == nil && c.IsGeographic() != projected {
				return c, nil
			}
		}
	}
	if !projected {
		if strings.HasPrefix(upper, "GEOGCS") || strings.HasPrefix(upper, "GEOGCRS") {
			return WGS84, nil
		}
		return CRS{}, fmt.Errorf("unrecognized WKT: %w", ErrUnsupported)
	}
	if m := wktUTMZone.FindStringSubmatch(w); m != nil {
		zone, _ := strconv.Atoi(m[1])
		return CRS{Kind: TransverseMercator, Zone: zone, North: strings.EqualFold(m[2], "N")}, nil
	}
	if wktMercator.MatchString(w) {
		return CRS{Code: 3857, Kind: WebMercator}, nil
	}
	return CRS{}, fmt.Errorf("unrecognized projection: %w", ErrUnsupported)
}

// ToWGS84 converts a coordinate to longitude/latitude in degrees.
func (c CRS) ToWGS84(x, y float64) (lon, lat float64, err error) {
	switch c.Kind {
	case Geographic:
		return x, y, nil
	case WebMercator:
		p := project.Mercator.ToWGS84(orb.Point{x, y})
		return p[0], p[1], nil
	case TransverseMercator:
		lat, lon, err := UTM.ToLatLon(x, y, c.Zone, "", c.North)
		if err != nil {
			return 0, 0, fmt.Errorf("utm zone %d: %w", c.Zone, err)
		}
		return lon, lat, nil
	}
	return 0, 0, ErrUnsupported
}

// Project returns a copy of g in WGS84. g itself is left untouched.
func (c CRS) Project(g orb.Geometry) (orb.Geometry, error) {
	if g == nil || c.IsGeographic() {
		return g, nil
	}
	var firstErr error
	out := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		lon, lat, err := c.ToWGS84(p[0], p[1])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return orb.Point{lon, lat}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

const envelopeSteps = 16

// Envelope reprojects a rectangle by sampling its edges and returns the
// bounding box of the result.
func (c CRS) Envelope(b orb.Bound) (orb.Bound, error) {
	if c.IsGeographic() {
		return b, nil
	}
	out := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	add := func(x, y float64) error {
		lon, lat, err := c.ToWGS84(x, y)
		if err != nil {
			return err
		}
		out = out.Extend(orb.Point{lon, lat})
		return nil
	}
	for i := 0; i <= envelopeSteps; i++ {
		f := float64(i) / envelopeSteps
		x := b.Min[0] + f*(b.Max[0]-b.Min[0])
		y := b.Min[1] + f*(b.Max[1]-b.Min[1])
		for _, p := range [][2]float64{{x, b.Min[1]}, {x, b.Max[1]}, {b.Min[0], y}, {b.Max[0], y}} {
			if err := add(p[0], p[1]); err != nil {
				return orb.Bound{}, err
			}
		}
	}
	return out, nil
}
