package domain

import "fmt"

// Boundary is a geographic bounding box in WGS-84 degrees.
type Boundary struct {
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
}

// NewBoundary validates the corner ordering and returns the box.
func NewBoundary(minLon, maxLon, minLat, maxLat float64) (Boundary, error) {
	b := Boundary{MinLon: minLon, MaxLon: maxLon, MinLat: minLat, MaxLat: maxLat}
	if err := b.Validate(); err != nil {
		return Boundary{}, err
	}
	return b, nil
}

// Validate checks min < max on both axes and global coordinate limits.
func (b Boundary) Validate() error {
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: min_lon %.4f must be less than max_lon %.4f", ErrInvalidBoundary, b.MinLon, b.MaxLon)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: min_lat %.4f must be less than max_lat %.4f", ErrInvalidBoundary, b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: box (%.4f, %.4f, %.4f, %.4f) exceeds coordinate limits",
			ErrInvalidBoundary, b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
	}
	return nil
}

// Contains reports whether the point lies inside the box, edges included.
func (b Boundary) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// CenterLat returns the latitude of the box center, used when converting
// kilometre resolutions to longitude degrees.
func (b Boundary) CenterLat() float64 {
	return (b.MinLat + b.MaxLat) / 2
}

func (b Boundary) String() string {
	return fmt.Sprintf("(%g,%g,%g,%g)", b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
}
