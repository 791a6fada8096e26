package domain

import (
	"fmt"
	"math"
	"time"
)

// Period selects the temporal bucket width.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Bucket identifies one aggregation window in UTC.
type Bucket struct {
	Period Period
	Start  time.Time
}

// BucketFor truncates a timestamp to its containing bucket.
func BucketFor(t time.Time, p Period) Bucket {
	t = t.UTC()
	switch p {
	case PeriodMonthly:
		return Bucket{Period: p, Start: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)}
	default:
		return Bucket{Period: PeriodDaily, Start: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
	}
}

// Key returns the compact bucket name used in artifact file names:
// "20240426" for daily buckets, "202404" for monthly.
func (b Bucket) Key() string {
	if b.Period == PeriodMonthly {
		return b.Start.Format("200601")
	}
	return b.Start.Format("20060102")
}

func (b Bucket) String() string {
	return fmt.Sprintf("%s %s", b.Period, b.Key())
}

// Composite is the running aggregate for one bucket: a per-cell sum and
// contribution count over the frames folded in so far. The reported
// value is sum/count; cells with zero contributions stay NaN. Folding
// is NaN-aware: a masked frame cell never touches the running mean.
type Composite struct {
	Bucket Bucket
	Grid   *Grid
	Sum    []float64
	Count  []int32
	Frames int
}

// NewComposite returns an empty composite on the grid.
func NewComposite(b Bucket, grid *Grid) *Composite {
	return &Composite{
		Bucket: b,
		Grid:   grid,
		Sum:    make([]float64, grid.NumCells()),
		Count:  make([]int32, grid.NumCells()),
	}
}

// Fold accumulates one frame into the composite. The frame must share
// the composite's grid.
func (c *Composite) Fold(f GriddedFrame) error {
	if len(f.Values) != len(c.Sum) {
		return fmt.Errorf("fold: frame has %d cells, composite has %d", len(f.Values), len(c.Sum))
	}
	for i, v := range f.Values {
		if math.IsNaN(v) {
			continue
		}
		c.Sum[i] += v
		c.Count[i]++
	}
	c.Frames++
	return nil
}

// Mean returns the per-cell mean, NaN where no frame contributed.
func (c *Composite) Mean() []float64 {
	out := make([]float64, len(c.Sum))
	for i := range c.Sum {
		if c.Count[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = c.Sum[i] / float64(c.Count[i])
	}
	return out
}
