// Package mapper converts geographic extents to H3 cells.
package mapper

import "github.com/paulmach/orb"

// Coverage is the set of cells covering an extent. Res may be coarser than
// requested when the cell cap forced it down.
type Coverage struct {
	Res       int      `json:"res"`
	Cells     []string `json:"cells"`
	Truncated bool     `json:"truncated,omitempty"`
}

type Interface interface {
	CellsForBound(b orb.Bound, res int) (Coverage, error)
}
