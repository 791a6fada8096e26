// Package extract filters raw granule pixels down to the usable point
// cloud: inside the boundary, at or above the QA threshold, and not a
// fill/NaN sentinel.
package extract

import (
	"math"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Filter returns the quality-filtered point cloud for a granule.
// Deterministic: the same granule and parameters always produce the
// same cloud, preserving source enumeration order. An empty result is
// a valid outcome; downstream stages treat it as "no contribution".
func Filter(g domain.Granule, b domain.Boundary, qaThreshold float64) (domain.PointCloud, error) {
	if err := g.Validate(); err != nil {
		return domain.PointCloud{}, err
	}
	if err := b.Validate(); err != nil {
		return domain.PointCloud{}, err
	}

	var cloud domain.PointCloud
	for i := 0; i < g.Len(); i++ {
		lat, lon, v, qa := g.Lat[i], g.Lon[i], g.Value[i], g.QA[i]
		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsNaN(v) {
			continue
		}
		if !b.Contains(lat, lon) {
			continue
		}
		if qa < qaThreshold {
			continue
		}
		cloud.Lat = append(cloud.Lat, lat)
		cloud.Lon = append(cloud.Lon, lon)
		cloud.Value = append(cloud.Value, v)
	}
	return cloud, nil
}
