// Package geometry turns raw Shapefile shapes into canonical geometries and
// encodes them as WKT or orb geometries.
package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

type RingKind int

const (
	Outer RingKind = iota
	Inner
)

func (k RingKind) String() string {
	if k == Outer {
		return "outer"
	}
	return "inner"
}

type Ring struct {
	Kind   RingKind
	Coords orb.Ring
}

// Geometry is one of Point, Polyline or Polygon.
type Geometry interface {
	geometry()
}

type Point struct {
	Coord orb.Point
}

type Polyline struct {
	Parts []orb.LineString
}

// Polygon holds every ring of one shape in file order. It may carry more
// than one outer ring.
type Polygon struct {
	Rings []Ring
}

func (Point) geometry()    {}
func (Polyline) geometry() {}
func (Polygon) geometry()  {}

// Normalize converts a raw shape. Shapefile outer rings wind clockwise and
// holes counter-clockwise; zero-area rings count as holes.
func Normalize(s shapefile.Shape) (Geometry, error) {
	const op = "geometry.Normalize"
	switch g := s.(type) {
	case shapefile.Point:
		return Point{Coord: orb.Point{g.X, g.Y}}, nil
	case shapefile.PolyLine:
		if len(g.Parts) == 0 {
			return nil, apperr.Newf(apperr.KindMalformedGeometry, op, "", "polyline without parts")
		}
		out := Polyline{Parts: make([]orb.LineString, 0, len(g.Parts))}
		for i, part := range g.Parts {
			if len(part) < 2 {
				return nil, apperr.Newf(apperr.KindMalformedGeometry, op, "", "polyline part %d has %d points", i, len(part))
			}
			out.Parts = append(out.Parts, toLineString(part))
		}
		return out, nil
	case shapefile.Polygon:
		out := Polygon{Rings: make([]Ring, 0, len(g.Rings))}
		outers := 0
		for i, raw := range g.Rings {
			if len(raw) < 3 {
				return nil, apperr.Newf(apperr.KindMalformedGeometry, op, "", "ring %d has %d points", i, len(raw))
			}
			ring := orb.Ring(toLineString(raw))
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			kind := Inner
			if ring.Orientation() == orb.CW {
				kind = Outer
				outers++
			}
			out.Rings = append(out.Rings, Ring{Kind: kind, Coords: ring})
		}
		if outers == 0 {
			return nil, apperr.Newf(apperr.KindMalformedGeometry, op, "", "polygon has no outer ring")
		}
		return out, nil
	case nil:
		return nil, apperr.Newf(apperr.KindMalformedGeometry, op, "", "missing shape")
	default:
		return nil, apperr.Newf(apperr.KindUnsupportedGeometry, op, "", "%s", s.Type())
	}
}

func toLineString(cs []shapefile.Coord) orb.LineString {
	ls := make(orb.LineString, len(cs))
	for i, c := range cs {
		ls[i] = orb.Point{c.X, c.Y}
	}
	return ls
}

// ToOrb maps g onto orb types: Point, LineString or MultiLineString, and
// Polygon or MultiPolygon depending on the number of outer rings.
func ToOrb(g Geometry) orb.Geometry {
	switch g := g.(type) {
	case Point:
		return g.Coord
	case Polyline:
		if len(g.Parts) == 1 {
			return g.Parts[0]
		}
		return orb.MultiLineString(g.Parts)
	case Polygon:
		polys := g.Split()
		if len(polys) == 1 {
			return polys[0]
		}
		return orb.MultiPolygon(polys)
	}
	return nil
}

// ToGeoJSON is ToOrb with polygon rings rewound for RFC 7946: outer rings
// counter-clockwise, holes clockwise. g itself is left untouched.
func ToGeoJSON(g Geometry) orb.Geometry {
	switch og := ToOrb(g).(type) {
	case orb.Polygon:
		return rewind(og)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(og))
		for i, p := range og {
			out[i] = rewind(p)
		}
		return out
	default:
		return og
	}
}

func rewind(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		out[i] = r
		if o := r.Orientation(); o != 0 && o != want {
			out[i] = r.Clone()
			out[i].Reverse()
		}
	}
	return out
}

// EncodeWKT renders g at full precision. Non-finite coordinates are an error.
func EncodeWKT(g Geometry) (string, error) {
	og := ToOrb(g)
	if og == nil {
		return "", fmt.Errorf("encode wkt: unknown geometry %T", g)
	}
	if err := CheckFinite(og); err != nil {
		return "", fmt.Errorf("encode wkt: %w", err)
	}
	return wkt.MarshalString(og), nil
}

func ParseWKT(s string) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}

// CheckFinite reports the first NaN or infinite coordinate in g.
func CheckFinite(g orb.Geometry) error {
	var bad error
	visit(g, func(p orb.Point) {
		if bad != nil {
			return
		}
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			bad = fmt.Errorf("non-finite coordinate (%v, %v)", p[0], p[1])
		}
	})
	return bad
}

func visit(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			visit(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			visit(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			visit(p, fn)
		}
	}
}

// Project reprojects g with proj, e.g. project.WGS84.ToMercator.
func Project(g Geometry, proj orb.Projection) orb.Geometry {
	og := ToOrb(g)
	if og == nil {
		return nil
	}
	return project.Geometry(orb.Clone(og), proj)
}
