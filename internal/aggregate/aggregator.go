// Package aggregate folds gridded frames into per-period composites and
// finalizes them as artifacts. Each bucket is owned by its own lock so
// unrelated buckets never serialize, and folding is NaN-aware: a masked
// frame cell leaves the running mean for that cell untouched.
package aggregate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/observability"
)

// Store persists finalized composites. Implemented by store.ArtifactStore.
type Store interface {
	ArtifactExists(domain.Bucket) bool
	WriteComposite(*domain.Composite) (string, error)
}

// Result reports one bucket's fate after finalization.
type Result struct {
	Bucket     domain.Bucket
	Path       string
	Frames     int
	ValidCells int
	Skipped    bool // artifact already existed before the run
	Err        error
}

// Aggregator accumulates frames into period composites.
type Aggregator struct {
	period  domain.Period
	grid    *domain.Grid
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	buckets map[string]*bucketState
	skip    map[string]bool // existence decided once, before processing
}

type bucketState struct {
	mu        sync.Mutex
	composite *domain.Composite
}

// New creates an aggregator with fixed period and grid; both are
// read-only for the duration of a run.
func New(period domain.Period, grid *domain.Grid, store Store, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		period:  period,
		grid:    grid,
		store:   store,
		logger:  logger,
		metrics: metrics,
		buckets: make(map[string]*bucketState),
		skip:    make(map[string]bool),
	}
}

// ShouldSkip reports whether the bucket containing t already has an
// artifact on disk. The check is made once per bucket and cached, so
// the decision holds for the whole run even if the artifact is written
// mid-run. Skipped buckets are never re-read or re-aggregated; fixing a
// stale artifact requires the caller to delete it explicitly.
func (a *Aggregator) ShouldSkip(t time.Time) bool {
	b := domain.BucketFor(t, a.period)

	a.mu.Lock()
	defer a.mu.Unlock()
	if skip, ok := a.skip[b.Key()]; ok {
		return skip
	}
	skip := a.store.ArtifactExists(b)
	a.skip[b.Key()] = skip
	return skip
}

// Fold accumulates one frame into its bucket's composite. Safe for
// concurrent use; only the affected bucket is locked.
func (a *Aggregator) Fold(f domain.GriddedFrame) error {
	b := domain.BucketFor(f.AcquiredAt, a.period)
	st := a.bucket(b)

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.composite.Fold(f)
}

func (a *Aggregator) bucket(b domain.Bucket) *bucketState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.buckets[b.Key()]
	if !ok {
		st = &bucketState{composite: domain.NewComposite(b, a.grid)}
		a.buckets[b.Key()] = st
	}
	return st
}

// Finalize writes every accumulated composite and reports skipped
// buckets. Buckets with no folded frames are never persisted. Results
// are ordered by bucket start time.
func (a *Aggregator) Finalize() []Result {
	a.mu.Lock()
	states := make(map[string]*bucketState, len(a.buckets))
	for k, st := range a.buckets {
		states[k] = st
	}
	skipped := make([]domain.Bucket, 0, len(a.skip))
	for k, s := range a.skip {
		if !s {
			continue
		}
		if _, folded := a.buckets[k]; !folded {
			skipped = append(skipped, bucketFromKey(k, a.period))
		}
	}
	a.mu.Unlock()

	results := make([]Result, 0, len(states)+len(skipped))
	for _, b := range skipped {
		a.metrics.CompositesSkipped.Inc()
		a.logger.Info("composite skipped, artifact exists", "bucket", b.String())
		results = append(results, Result{Bucket: b, Skipped: true})
	}

	for _, st := range states {
		st.mu.Lock()
		c := st.composite
		st.mu.Unlock()
		if c.Frames == 0 {
			continue
		}

		path, err := a.store.WriteComposite(c)
		res := Result{
			Bucket:     c.Bucket,
			Path:       path,
			Frames:     c.Frames,
			ValidCells: validCells(c),
			Err:        err,
		}
		if err != nil {
			a.logger.Error("composite write failed", "bucket", c.Bucket.String(), "error", err)
		} else {
			a.metrics.CompositesWritten.Inc()
			a.logger.Info("composite written",
				"bucket", c.Bucket.String(),
				"path", path,
				"frames", c.Frames,
				"valid_cells", res.ValidCells,
			)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Bucket.Start.Before(results[j].Bucket.Start)
	})
	return results
}

func validCells(c *domain.Composite) int {
	n := 0
	for _, cnt := range c.Count {
		if cnt > 0 {
			n++
		}
	}
	return n
}

func bucketFromKey(key string, p domain.Period) domain.Bucket {
	layout := "20060102"
	if p == domain.PeriodMonthly {
		layout = "200601"
	}
	t, err := time.Parse(layout, key)
	if err != nil {
		return domain.Bucket{Period: p}
	}
	return domain.Bucket{Period: p, Start: t.UTC()}
}
