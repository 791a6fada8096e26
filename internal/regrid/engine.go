// Package regrid resamples irregular geolocated point observations onto
// a regular grid. A k-d tree over the point cloud serves every grid
// cell lookup; the field value at the cell center is estimated by the
// configured method. Cells whose nearest source point is farther than
// the maximum search distance stay "no data" rather than extrapolated.
package regrid

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Method selects the field estimator.
type Method string

const (
	// MethodNearest assigns the value of the single nearest observation.
	MethodNearest Method = "nearest"
	// MethodIDW estimates by inverse-distance weighting over the local
	// neighborhood.
	MethodIDW Method = "idw"
	// MethodRBF fits an exact-interpolating radial basis function
	// through the local neighborhood; smooth and suited to sparse
	// scattered swath data.
	MethodRBF Method = "rbf"
)

// Options configure the engine. Kernel, neighborhood size, and search
// distance are configuration rather than constants: the right values
// depend on swath geometry and product resolution.
type Options struct {
	Method      Method
	Kernel      string  // RBF kernel: thin_plate, linear, cubic, gaussian
	Neighbors   int     // local neighborhood size for idw/rbf
	MaxDistance float64 // degrees; nearest source farther than this masks the cell
}

// Engine resamples point clouds onto grids. Safe for concurrent use:
// it holds only immutable options.
type Engine struct {
	opts   Options
	kernel func(r float64) float64
}

// NewEngine validates options and returns an engine.
func NewEngine(opts Options) (*Engine, error) {
	switch opts.Method {
	case MethodNearest, MethodIDW, MethodRBF:
	default:
		return nil, fmt.Errorf("%w: unknown interpolation method %q", domain.ErrInvalidConfiguration, opts.Method)
	}
	if opts.MaxDistance <= 0 {
		return nil, fmt.Errorf("%w: max search distance must be positive, got %g", domain.ErrInvalidConfiguration, opts.MaxDistance)
	}
	if opts.Neighbors < 1 {
		return nil, fmt.Errorf("%w: neighborhood size must be at least 1, got %d", domain.ErrInvalidConfiguration, opts.Neighbors)
	}

	e := &Engine{opts: opts}
	if opts.Method == MethodRBF {
		kernel, err := rbfKernel(opts.Kernel, opts.MaxDistance)
		if err != nil {
			return nil, err
		}
		e.kernel = kernel
	}
	return e, nil
}

// Resample interpolates a point cloud onto the grid, producing a frame
// tagged with the source's acquisition timestamp. An empty cloud yields
// an all-NaN frame, not an error. Output values keep the physical units
// and float64 precision of the input.
func (e *Engine) Resample(cloud domain.PointCloud, grid *domain.Grid, source string, acquiredAt time.Time) (domain.GriddedFrame, error) {
	if grid == nil {
		return domain.GriddedFrame{}, fmt.Errorf("%w: resample requires a grid", domain.ErrInvalidConfiguration)
	}
	frame := domain.NewEmptyFrame(grid, source, acquiredAt)
	if cloud.Empty() {
		return frame, nil
	}

	tree := newIndex(cloud)
	maxDist2 := e.opts.MaxDistance * e.opts.MaxDistance

	for i, lat := range grid.Lat {
		for j, lon := range grid.Lon {
			q := obsPoint{lat: lat, lon: lon}
			frame.Values[grid.CellIndex(i, j)] = e.estimate(tree, q, maxDist2)
		}
	}
	return frame, nil
}

// estimate computes one cell value, or NaN when the cell is beyond the
// search distance of every observation.
func (e *Engine) estimate(tree *kdtree.Tree, q obsPoint, maxDist2 float64) float64 {
	if e.opts.Method == MethodNearest {
		c, d2 := tree.Nearest(q)
		if c == nil || d2 > maxDist2 {
			return math.NaN()
		}
		return c.(obsPoint).value
	}

	hood := nearestK(tree, q, e.opts.Neighbors)
	if len(hood) == 0 {
		return math.NaN()
	}
	nearest2 := hood[0].dist2
	for _, n := range hood[1:] {
		if n.dist2 < nearest2 {
			nearest2 = n.dist2
		}
	}
	if nearest2 > maxDist2 {
		return math.NaN()
	}

	if e.opts.Method == MethodRBF {
		if v, ok := e.rbfEstimate(hood, q); ok {
			return v
		}
		// Singular local system (e.g. duplicate observation
		// coordinates): fall back to the distance-weighted estimate.
	}
	return idwEstimate(hood)
}

// idwEstimate is inverse-distance weighting with power 2. A query that
// coincides with an observation returns that observation exactly.
func idwEstimate(hood []neighbor) float64 {
	var num, den float64
	for _, n := range hood {
		if n.dist2 == 0 {
			return n.value
		}
		w := 1 / n.dist2
		num += w * n.value
		den += w
	}
	return num / den
}

// rbfEstimate solves the k-by-k radial basis system through the local
// neighborhood and evaluates it at the query point. With no smoothing
// term the interpolant passes through every neighbor, so a query
// coinciding with an observation reproduces its value to floating
// point tolerance.
func (e *Engine) rbfEstimate(hood []neighbor, q obsPoint) (float64, bool) {
	k := len(hood)
	phi := mat.NewDense(k, k, nil)
	rhs := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		rhs.SetVec(i, hood[i].value)
		for j := 0; j < k; j++ {
			phi.Set(i, j, e.kernel(pointDist(hood[i].obsPoint, hood[j].obsPoint)))
		}
	}

	var w mat.VecDense
	if err := w.SolveVec(phi, rhs); err != nil {
		return 0, false
	}

	var sum float64
	for j := 0; j < k; j++ {
		sum += w.AtVec(j) * e.kernel(pointDist(q, hood[j].obsPoint))
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, false
	}
	return sum, true
}

func pointDist(a, b obsPoint) float64 {
	return math.Sqrt(a.Distance(b))
}

// rbfKernel returns the radial basis function of r. The gaussian shape parameter
// is tied to the search distance so the kernel decays over the scale
// the engine actually queries.
func rbfKernel(name string, maxDistance float64) (func(r float64) float64, error) {
	switch name {
	case "", "thin_plate":
		return func(r float64) float64 {
			if r == 0 {
				return 0
			}
			return r * r * math.Log(r)
		}, nil
	case "linear":
		return func(r float64) float64 { return r }, nil
	case "cubic":
		return func(r float64) float64 { return r * r * r }, nil
	case "gaussian":
		eps := 1 / maxDistance
		return func(r float64) float64 {
			return math.Exp(-(eps * r) * (eps * r))
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown RBF kernel %q", domain.ErrInvalidConfiguration, name)
	}
}
