package regrid

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// obsPoint is one source observation in (lat, lon) space carrying its
// measured value. Distances are squared degrees, per the kdtree
// Comparable contract.
type obsPoint struct {
	lat, lon float64
	value    float64
}

func (p obsPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(obsPoint)
	switch d {
	case 0:
		return p.lat - q.lat
	default:
		return p.lon - q.lon
	}
}

func (p obsPoint) Dims() int { return 2 }

func (p obsPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(obsPoint)
	dLat := p.lat - q.lat
	dLon := p.lon - q.lon
	return dLat*dLat + dLon*dLon
}

// obsPoints implements kdtree.Interface over a point cloud.
type obsPoints []obsPoint

func (p obsPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p obsPoints) Len() int                              { return len(p) }
func (p obsPoints) Pivot(d kdtree.Dim) int                { return obsPlane{Dim: d, obsPoints: p}.Pivot() }
func (p obsPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// obsPlane is obsPoints sorted along a dimension, used for pivoting.
type obsPlane struct {
	kdtree.Dim
	obsPoints
}

func (p obsPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.obsPoints[i].lat < p.obsPoints[j].lat
	default:
		return p.obsPoints[i].lon < p.obsPoints[j].lon
	}
}
func (p obsPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p obsPlane) Slice(start, end int) kdtree.SortSlicer {
	p.obsPoints = p.obsPoints[start:end]
	return p
}
func (p obsPlane) Swap(i, j int) {
	p.obsPoints[i], p.obsPoints[j] = p.obsPoints[j], p.obsPoints[i]
}

// newIndex builds the nearest-neighbor index over a point cloud.
func newIndex(cloud domain.PointCloud) *kdtree.Tree {
	pts := make(obsPoints, cloud.Len())
	for i := range pts {
		pts[i] = obsPoint{lat: cloud.Lat[i], lon: cloud.Lon[i], value: cloud.Value[i]}
	}
	return kdtree.New(pts, false)
}

// neighbor is one query result: a source observation and its squared
// distance from the query point.
type neighbor struct {
	obsPoint
	dist2 float64
}

// nearestK returns up to k nearest observations, closest first not
// guaranteed; callers needing the minimum scan the slice.
func nearestK(tree *kdtree.Tree, q obsPoint, k int) []neighbor {
	keep := kdtree.NewNKeeper(k)
	tree.NearestSet(keep, q)

	out := make([]neighbor, 0, len(keep.Heap))
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, neighbor{obsPoint: cd.Comparable.(obsPoint), dist2: cd.Dist})
	}
	return out
}
