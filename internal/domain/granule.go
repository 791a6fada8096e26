package domain

import (
	"fmt"
	"time"
)

// Granule is one file's raw decoded observations: parallel pixel arrays
// of equal length. It is owned by the quality extractor during its
// invocation and not retained afterwards.
type Granule struct {
	Name       string
	AcquiredAt time.Time

	Lat   []float64
	Lon   []float64
	Value []float64
	QA    []float64
}

// Len returns the raw pixel count N.
func (g Granule) Len() int { return len(g.Value) }

// Validate checks that the parallel arrays line up.
func (g Granule) Validate() error {
	n := len(g.Value)
	if n == 0 {
		return fmt.Errorf("%w: %s: no observations", ErrMalformedGranule, g.Name)
	}
	if len(g.Lat) != n || len(g.Lon) != n || len(g.QA) != n {
		return fmt.Errorf("%w: %s: array lengths lat=%d lon=%d value=%d qa=%d",
			ErrMalformedGranule, g.Name, len(g.Lat), len(g.Lon), n, len(g.QA))
	}
	return nil
}

// PointCloud is the quality-filtered subset of a granule: M <= N points
// of (lat, lon, value), in source enumeration order. An empty cloud is
// a valid outcome, not an error.
type PointCloud struct {
	Lat   []float64
	Lon   []float64
	Value []float64
}

// Len returns the filtered point count M.
func (p PointCloud) Len() int { return len(p.Value) }

// Empty reports whether the cloud has no points.
func (p PointCloud) Empty() bool { return len(p.Value) == 0 }
