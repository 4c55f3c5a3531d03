package crs

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestParse_Identifiers(t *testing.T) {
	cases := map[string]CRS{
		"EPSG:4326":                     WGS84,
		"epsg:31983":                    {Code: 31983, Kind: TransverseMercator, Zone: 23},
		"32633":                         {Code: 32633, Kind: TransverseMercator, Zone: 33, North: true},
		"urn:ogc:def:crs:EPSG::3857":    {Code: 3857, Kind: WebMercator},
		"urn:ogc:def:crs:OGC:1.3:CRS84": WGS84,
		"UTM:22S":                       {Kind: TransverseMercator, Zone: 22},
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q)=%+v want %+v", in, got, want)
		}
	}
	for _, bad := range []string{"", "EPSG:2193", "foo", "UTM:61N"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) expected error", bad)
		}
	}
	if _, err := Parse("EPSG:2193"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v want ErrUnsupported", err)
	}
}

func TestFromWKT(t *testing.T) {
	cases := []struct {
		name string
		wkt  string
		want CRS
	}{
		{
			name: "esri utm",
			wkt:  `PROJCS["SIRGAS_2000_UTM_Zone_23S",GEOGCS["GCS_SIRGAS_2000",DATUM["D_SIRGAS_2000",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["Meter",1.0]]`,
			want: CRS{Kind: TransverseMercator, Zone: 23},
		},
		{
			name: "ogc with authority",
			wkt:  `PROJCS["WGS 84 / UTM zone 23S",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],PROJECTION["Transverse_Mercator"],AUTHORITY["EPSG","32723"]]`,
			want: CRS{Code: 32723, Kind: TransverseMercator, Zone: 23},
		},
		{
			name: "web mercator",
			wkt:  `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984"],PROJECTION["Mercator_Auxiliary_Sphere"]]`,
			want: CRS{Code: 3857, Kind: WebMercator},
		},
		{
			name: "geographic",
			wkt:  `GEOGCS["GCS_SIRGAS_2000",DATUM["D_SIRGAS_2000"]]`,
			want: WGS84,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromWKT(tc.wkt)
			if err != nil {
				t.Fatalf("FromWKT: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
	if _, err := FromWKT(`PROJCS["Lambert",PROJECTION["Lambert_Conformal_Conic"]]`); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v want ErrUnsupported", err)
	}
}

func TestToWGS84_UTMAndMercator(t *testing.T) {
	utm, _ := Parse("EPSG:31983")
	lon, lat, err := utm.ToWGS84(500000, 7950000)
	if err != nil {
		t.Fatalf("ToWGS84: %v", err)
	}
	if math.Abs(lon+45) > 1e-6 {
		t.Fatalf("lon=%v want central meridian -45", lon)
	}
	if lat > -18.4 || lat < -18.7 {
		t.Fatalf("lat=%v want about -18.5", lat)
	}

	merc, _ := Parse("EPSG:3857")
	lon, lat, err = merc.ToWGS84(20037508.342789244, 0)
	if err != nil {
		t.Fatalf("ToWGS84: %v", err)
	}
	if math.Abs(lon-180) > 1e-6 || math.Abs(lat) > 1e-9 {
		t.Fatalf("mercator edge=(%v,%v) want (180,0)", lon, lat)
	}
}

func TestProject_LeavesInputUntouched(t *testing.T) {
	utm, _ := Parse("EPSG:31983")
	ring := orb.Ring{{490000, 7940000}, {510000, 7940000}, {510000, 7960000}, {490000, 7960000}, {490000, 7940000}}
	in := orb.Polygon{ring}

	out, err := utm.Project(in)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if in[0][0][0] != 490000 {
		t.Fatalf("input mutated: %v", in[0][0])
	}
	b := out.Bound()
	if b.Min[0] < -45.2 || b.Max[0] > -44.8 || b.Min[1] < -18.7 || b.Max[1] > -18.4 {
		t.Fatalf("projected bound=%v outside expected area", b)
	}
}

func TestEnvelope_CoversCorners(t *testing.T) {
	utm, _ := Parse("EPSG:31983")
	src := orb.Bound{Min: orb.Point{480000, 7930000}, Max: orb.Point{520000, 7970000}}
	env, err := utm.Envelope(src)
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	for _, p := range []orb.Point{src.Min, src.Max, {src.Min[0], src.Max[1]}, {src.Max[0], src.Min[1]}} {
		lon, lat, _ := utm.ToWGS84(p[0], p[1])
		if !env.Contains(orb.Point{lon, lat}) {
			t.Fatalf("envelope %v misses corner (%v,%v)", env, lon, lat)
		}
	}
	geo := orb.Bound{Min: orb.Point{-47, -19}, Max: orb.Point{-46, -18}}
	if got, _ := WGS84.Envelope(geo); got != geo {
		t.Fatalf("geographic envelope changed: %v", got)
	}
}
