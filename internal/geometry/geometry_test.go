package geometry

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

func square(x, y, size float64) []shapefile.Coord {
	return []shapefile.Coord{{X: x, Y: y}, {X: x, Y: y + size}, {X: x + size, Y: y + size}, {X: x + size, Y: y}, {X: x, Y: y}}
}

func reversed(r []shapefile.Coord) []shapefile.Coord {
	out := make([]shapefile.Coord, len(r))
	for i, c := range r {
		out[len(r)-1-i] = c
	}
	return out
}

func TestNormalize_PolygonRingKinds(t *testing.T) {
	g, err := Normalize(shapefile.Polygon{Rings: [][]shapefile.Coord{square(0, 0, 10), reversed(square(2, 2, 2))}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	poly := g.(Polygon)
	if poly.Rings[0].Kind != Outer || poly.Rings[1].Kind != Inner {
		t.Fatalf("kinds=%v,%v want outer,inner", poly.Rings[0].Kind, poly.Rings[1].Kind)
	}
}

func TestNormalize_OnlyInnerRingsIsMalformed(t *testing.T) {
	_, err := Normalize(shapefile.Polygon{Rings: [][]shapefile.Coord{reversed(square(0, 0, 1))}})
	if !errors.Is(err, apperr.ErrMalformedGeometry) {
		t.Fatalf("err=%v want MalformedGeometry", err)
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	_, err := Normalize(shapefile.Unsupported{ShapeType: shapefile.TypePointZ})
	if !errors.Is(err, apperr.ErrUnsupportedGeometry) {
		t.Fatalf("err=%v want UnsupportedGeometry", err)
	}
	if !strings.Contains(err.Error(), "PointZ") {
		t.Fatalf("message %q should name the shape type", err.Error())
	}
}

func TestNormalize_ClosesOpenRing(t *testing.T) {
	open := square(0, 0, 1)[:4]
	g, err := Normalize(shapefile.Polygon{Rings: [][]shapefile.Coord{open}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r := g.(Polygon).Rings[0].Coords; !r.Closed() || len(r) != 5 {
		t.Fatalf("ring not closed: %v", r)
	}
}

func TestSplit_AssignsHolesToSmallestContainingOuter(t *testing.T) {
	g, err := Normalize(shapefile.Polygon{Rings: [][]shapefile.Coord{
		square(0, 0, 100),
		square(200, 0, 10),
		reversed(square(202, 2, 2)), // inside the second outer
		reversed(square(50, 50, 5)), // inside the first
	}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	polys := g.(Polygon).Split()
	if len(polys) != 2 {
		t.Fatalf("got %d polygons want 2", len(polys))
	}
	if len(polys[0]) != 2 || polys[0][1][0] != (orb.Point{50, 50}) {
		t.Fatalf("first polygon rings=%v", polys[0])
	}
	if len(polys[1]) != 2 || polys[1][1][0] != (orb.Point{202, 2}) {
		t.Fatalf("second polygon rings=%v", polys[1])
	}
}

func TestToGeoJSON_RewindsRings(t *testing.T) {
	g, err := Normalize(shapefile.Polygon{Rings: [][]shapefile.Coord{
		square(0, 0, 10),
		reversed(square(2, 2, 2)),
		square(20, 0, 5),
	}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	mp, ok := ToGeoJSON(g).(orb.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("got %#v want two polygons", ToGeoJSON(g))
	}
	for i, p := range mp {
		if o := p[0].Orientation(); o != orb.CCW {
			t.Fatalf("polygon %d outer orientation=%v want CCW", i, o)
		}
		for j, hole := range p[1:] {
			if o := hole.Orientation(); o != orb.CW {
				t.Fatalf("polygon %d hole %d orientation=%v want CW", i, j, o)
			}
		}
	}

	// ToOrb, and so WKT, keeps the shapefile winding
	if o := ToOrb(g).(orb.MultiPolygon)[0][0].Orientation(); o != orb.CW {
		t.Fatalf("ToOrb outer orientation=%v want CW", o)
	}
}

func TestEncodeWKT(t *testing.T) {
	cases := []struct {
		name  string
		shape shapefile.Shape
		want  string
	}{
		{"point", shapefile.Point{X: 1.5, Y: -2}, "POINT(1.5 -2)"},
		{"line", shapefile.PolyLine{Parts: [][]shapefile.Coord{{{X: 0, Y: 0}, {X: 1, Y: 1}}}}, "LINESTRING(0 0,1 1)"},
		{"multiline", shapefile.PolyLine{Parts: [][]shapefile.Coord{{{X: 0, Y: 0}, {X: 1, Y: 1}}, {{X: 2, Y: 2}, {X: 3, Y: 3}}}}, "MULTILINESTRING((0 0,1 1),(2 2,3 3))"},
		{"polygon", shapefile.Polygon{Rings: [][]shapefile.Coord{square(0, 0, 1)}}, "POLYGON((0 0,0 1,1 1,1 0,0 0))"},
		{"multipolygon", shapefile.Polygon{Rings: [][]shapefile.Coord{square(0, 0, 1), square(5, 5, 1)}}, "MULTIPOLYGON(((0 0,0 1,1 1,1 0,0 0)),((5 5,5 6,6 6,6 5,5 5)))"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := Normalize(tc.shape)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			got, err := EncodeWKT(g)
			if err != nil {
				t.Fatalf("EncodeWKT: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeWKT_RoundTripKeepsPrecision(t *testing.T) {
	pts := []shapefile.Coord{{X: 116.39748123456789, Y: 39.90882198765432}, {X: -0.1234567890123, Y: 51.5}}
	g, err := Normalize(shapefile.PolyLine{Parts: [][]shapefile.Coord{pts}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := EncodeWKT(g)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseWKT(s)
	if err != nil {
		t.Fatalf("ParseWKT(%q): %v", s, err)
	}
	ls, ok := back.(orb.LineString)
	if !ok || len(ls) != 2 {
		t.Fatalf("parsed %T %v", back, back)
	}
	for i, p := range ls {
		if math.Abs(p[0]-pts[i].X) > 1e-9 || math.Abs(p[1]-pts[i].Y) > 1e-9 {
			t.Fatalf("point %d got %v want %v", i, p, pts[i])
		}
	}
}

func TestEncodeWKT_NonFinite(t *testing.T) {
	_, err := EncodeWKT(Point{Coord: orb.Point{math.NaN(), 0}})
	if err == nil || !strings.Contains(err.Error(), "non-finite") {
		t.Fatalf("err=%v want non-finite error", err)
	}
}

func TestProject_ToMercator(t *testing.T) {
	got := Project(Point{Coord: orb.Point{0, 0}}, project.WGS84.ToMercator).(orb.Point)
	if math.Abs(got[0]) > 1e-6 || math.Abs(got[1]) > 1e-6 {
		t.Fatalf("origin projected to %v", got)
	}
}
