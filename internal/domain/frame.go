package domain

import (
	"math"
	"time"
)

// GriddedFrame holds interpolated values on a grid for one source
// granule, tagged with the granule's acquisition timestamp. NaN marks
// cells with no usable observation.
type GriddedFrame struct {
	Source     string
	AcquiredAt time.Time
	Grid       *Grid
	Values     []float64
}

// NewEmptyFrame returns an all-NaN frame on the grid.
func NewEmptyFrame(grid *Grid, source string, acquiredAt time.Time) GriddedFrame {
	values := make([]float64, grid.NumCells())
	for i := range values {
		values[i] = math.NaN()
	}
	return GriddedFrame{Source: source, AcquiredAt: acquiredAt, Grid: grid, Values: values}
}

// ValidCells returns the number of non-NaN cells.
func (f GriddedFrame) ValidCells() int {
	n := 0
	for _, v := range f.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// ValidCellsWithin returns the number of non-NaN cells whose center
// lies inside the boundary.
func (f GriddedFrame) ValidCellsWithin(b Boundary) int {
	n := 0
	for i, lat := range f.Grid.Lat {
		if lat < b.MinLat || lat > b.MaxLat {
			continue
		}
		for j, lon := range f.Grid.Lon {
			if lon < b.MinLon || lon > b.MaxLon {
				continue
			}
			if !math.IsNaN(f.Values[f.Grid.CellIndex(i, j)]) {
				n++
			}
		}
	}
	return n
}
