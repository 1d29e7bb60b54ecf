package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/shapetiles/internal/mapper"
)

// DefaultMaxCells caps a coverage; larger results are coarsened.
const DefaultMaxCells = 1000

type Mapper struct {
	maxCells int
}

func New() *Mapper { return &Mapper{maxCells: DefaultMaxCells} }

func NewWithLimit(maxCells int) *Mapper {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	return &Mapper{maxCells: maxCells}
}

// CellsForBound covers a WGS84 bound at res. When the result would exceed
// the cell cap, cells are replaced by their parents one level at a time.
func (m *Mapper) CellsForBound(b orb.Bound, res int) (mapper.Coverage, error) {
	if err := validateRes(res); err != nil {
		return mapper.Coverage{}, err
	}
	if err := validateGeographic(b); err != nil {
		return mapper.Coverage{}, err
	}

	var cells []string
	// polyfill rejects zero-area loops
	if b.Max.Lon() > b.Min.Lon() && b.Max.Lat() > b.Min.Lat() {
		var err error
		if cells, err = polyfillBound(b, res); err != nil {
			return mapper.Coverage{}, err
		}
	}
	// points, lines and small extents fall between cell centers
	if len(cells) == 0 {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: b.Center().Lat(), Lng: b.Center().Lon()}, res)
		if err != nil {
			return mapper.Coverage{}, fmt.Errorf("h3 point cell: %w", err)
		}
		cells = []string{c.String()}
	}

	cov := mapper.Coverage{Res: res, Cells: cells}
	for len(cov.Cells) > m.maxCells && cov.Res > 0 {
		var err error
		cov.Res--
		cov.Cells, err = m.parents(cov.Cells, cov.Res)
		if err != nil {
			return mapper.Coverage{}, err
		}
	}
	if len(cov.Cells) > m.maxCells {
		cov.Cells = cov.Cells[:m.maxCells]
		cov.Truncated = true
	}
	return cov, nil
}

func (m *Mapper) parents(cells []string, res int) ([]string, error) {
	seen := make(map[string]struct{}, len(cells)/7+1)
	out := make([]string, 0, len(cells)/7+1)
	for _, c := range cells {
		p, err := m.ToParent(c, res)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func validateGeographic(b orb.Bound) error {
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return errors.New("bound is not in geographic coordinates")
	}
	return nil
}

// polyfillBound computes unique cells and returns them sorted for determinism.
func polyfillBound(b orb.Bound, res int) ([]string, error) {
	poly := h3.GeoPolygon{
		GeoLoop: h3.GeoLoop{
			{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
			{Lat: b.Min.Lat(), Lng: b.Max.Lon()},
			{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
			{Lat: b.Max.Lat(), Lng: b.Min.Lon()},
		},
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
