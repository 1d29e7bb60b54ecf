package geometry

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type outerEntry struct {
	idx  int
	ring orb.Ring
	area float64
	rect rtreego.Rect
}

func (o *outerEntry) Bounds() rtreego.Rect { return o.rect }

func boundRect(b orb.Bound) rtreego.Rect {
	r, _ := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min[0], b.Min[1]},
		rtreego.Point{b.Max[0], b.Max[1]},
	)
	return r
}

// Split returns one orb.Polygon per outer ring, in file order. Each hole goes
// to the smallest outer ring that contains it; a hole no outer contains is
// attached to the first outer ring.
func (p Polygon) Split() []orb.Polygon {
	var outers []*outerEntry
	for _, r := range p.Rings {
		if r.Kind != Outer {
			continue
		}
		outers = append(outers, &outerEntry{
			idx:  len(outers),
			ring: r.Coords,
			area: math.Abs(planar.Area(r.Coords)),
			rect: boundRect(r.Coords.Bound()),
		})
	}
	if len(outers) == 0 {
		return nil
	}

	polys := make([]orb.Polygon, len(outers))
	for i, o := range outers {
		polys[i] = orb.Polygon{o.ring}
	}

	var tree *rtreego.Rtree
	if len(outers) > 1 {
		tree = rtreego.NewTree(2, 25, 50)
		for _, o := range outers {
			tree.Insert(o)
		}
	}

	for _, r := range p.Rings {
		if r.Kind != Inner {
			continue
		}
		owner := 0
		if tree != nil {
			owner = containing(tree, r.Coords)
		}
		polys[owner] = append(polys[owner], r.Coords)
	}
	return polys
}

func containing(tree *rtreego.Rtree, hole orb.Ring) int {
	best, bestArea := 0, math.Inf(1)
	anchor := hole[0]
	for _, s := range tree.SearchIntersect(boundRect(hole.Bound())) {
		o := s.(*outerEntry)
		if o.area < bestArea && planar.RingContains(o.ring, anchor) {
			best, bestArea = o.idx, o.area
		}
	}
	return best
}
