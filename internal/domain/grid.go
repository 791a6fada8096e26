package domain

import (
	"fmt"
	"math"
)

// ResolutionUnit selects how Resolution values are interpreted.
type ResolutionUnit string

const (
	UnitKilometers ResolutionUnit = "km"
	UnitDegrees    ResolutionUnit = "deg"
)

// Resolution is the target cell size along each axis.
type Resolution struct {
	X    float64 // longitude axis
	Y    float64 // latitude axis
	Unit ResolutionUnit
}

const (
	kmPerLatDegree = 111.32
	earthRadiusKm  = 6371
)

// degrees converts the resolution to (lonDeg, latDeg) at the given
// center latitude. Longitude degrees shrink with cos(lat).
func (r Resolution) degrees(centerLat float64) (float64, float64) {
	if r.Unit == UnitDegrees {
		return r.X, r.Y
	}
	latDeg := r.Y / kmPerLatDegree
	lonDeg := r.X / (earthRadiusKm * math.Cos(centerLat*math.Pi/180) * 2 * math.Pi / 360)
	return lonDeg, latDeg
}

// Grid is an immutable regular mesh over a boundary. Lon and Lat hold
// ascending cell-center coordinates; cell (i, j) = (lat index, lon
// index) maps to flat index i*len(Lon)+j.
type Grid struct {
	Bounds     Boundary
	Resolution Resolution
	Lon        []float64
	Lat        []float64
}

// NewGrid builds the mesh by stepping from the boundary minimum to the
// maximum (inclusive) at the converted resolution.
func NewGrid(b Boundary, res Resolution) (*Grid, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if res.X <= 0 || res.Y <= 0 {
		return nil, fmt.Errorf("%w: grid resolution must be positive, got (%g, %g)", ErrInvalidConfiguration, res.X, res.Y)
	}
	if res.Unit != UnitKilometers && res.Unit != UnitDegrees {
		return nil, fmt.Errorf("%w: unknown resolution unit %q", ErrInvalidConfiguration, res.Unit)
	}
	if math.Abs(b.CenterLat()) > 89.9 && res.Unit == UnitKilometers {
		return nil, fmt.Errorf("%w: kilometre resolution undefined at polar center latitude %.2f", ErrInvalidConfiguration, b.CenterLat())
	}

	lonRes, latRes := res.degrees(b.CenterLat())
	return &Grid{
		Bounds:     b,
		Resolution: res,
		Lon:        axis(b.MinLon, b.MaxLon, lonRes),
		Lat:        axis(b.MinLat, b.MaxLat, latRes),
	}, nil
}

// axis generates cell centers from min to max inclusive. A half-step
// tolerance absorbs floating point drift at the far edge.
func axis(min, max, step float64) []float64 {
	n := int(math.Floor((max-min)/step+0.5)) + 1
	out := make([]float64, 0, n)
	for v := min; v <= max+step/2; v += step {
		out = append(out, v)
	}
	return out
}

// NumCells returns the flat cell count |Lat|*|Lon|.
func (g *Grid) NumCells() int { return len(g.Lat) * len(g.Lon) }

// CellIndex maps (lat index, lon index) to the flat index.
func (g *Grid) CellIndex(i, j int) int { return i*len(g.Lon) + j }
