// Package pipeline orchestrates one acquisition run: discover products,
// download granules, extract and regrid them concurrently, fold frames
// into period composites, and finalize artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/aggregate"
	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/download"
	"github.com/couchcryptid/atmos-regrid/internal/extract"
	"github.com/couchcryptid/atmos-regrid/internal/observability"
	"github.com/couchcryptid/atmos-regrid/internal/regrid"
	"github.com/couchcryptid/atmos-regrid/internal/source"
)

// Downloader runs the transfer phase. Implemented by download.Manager.
type Downloader interface {
	DownloadAll(ctx context.Context, products []domain.Product, maxConcurrency int) []download.Outcome
}

// Publisher emits finalized composite summaries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, results []aggregate.Result) error
}

// Options fix one pipeline's run parameters.
type Options struct {
	Query          source.Query
	Grid           *domain.Grid
	QAThreshold    float64
	RegionGate     *domain.Boundary // optional; frames with no valid cells inside are dropped
	Period         domain.Period
	MaxConcurrency int
}

// Report summarizes a completed run.
type Report struct {
	Discovered      int
	SkippedProducts int // products in buckets whose artifact already existed
	Downloads       download.Summary
	FramesFolded    int
	FramesDropped   int
	Composites      []aggregate.Result
	Duration        time.Duration
}

// Pipeline wires the five stages together. A single Pipeline may run
// repeatedly (scheduled mode); each run gets a fresh aggregator.
type Pipeline struct {
	src        source.DataSource
	downloader Downloader
	engine     *regrid.Engine
	artifacts  aggregate.Store
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New creates a pipeline.
func New(src source.DataSource, d Downloader, engine *regrid.Engine, artifacts aggregate.Store, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		src:        src,
		downloader: d,
		engine:     engine,
		artifacts:  artifacts,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once at least one run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no pipeline run has completed yet")
	}
	return nil
}

// Run executes one full acquisition cycle. Discovery failure aborts the
// run; individual download or granule failures are reported but do not
// stop the remaining work.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	p.metrics.RunInProgress.Set(1)
	defer p.metrics.RunInProgress.Set(0)

	report := Report{}

	products, err := p.src.Discover(ctx, p.opts.Query)
	if err != nil {
		return report, fmt.Errorf("discover products: %w", err)
	}
	report.Discovered = len(products)
	p.metrics.ProductsDiscovered.Add(float64(len(products)))
	p.logger.Info("products discovered", "source", p.src.Name(), "count", len(products))

	agg := aggregate.New(p.opts.Period, p.opts.Grid, p.artifacts, p.logger, p.metrics)

	// Products whose bucket already has an artifact are dropped before
	// the transfer phase: an existing artifact means zero downloads and
	// zero granule reads for that bucket.
	toFetch := make([]domain.Product, 0, len(products))
	for _, prod := range products {
		if agg.ShouldSkip(prod.AcquiredAt) {
			report.SkippedProducts++
			continue
		}
		toFetch = append(toFetch, prod)
	}
	if report.SkippedProducts > 0 {
		p.logger.Info("products skipped, composites already exist", "count", report.SkippedProducts)
	}

	outcomes := p.downloader.DownloadAll(ctx, toFetch, p.opts.MaxConcurrency)
	report.Downloads = download.Summarize(outcomes)
	for _, o := range download.Failures(outcomes) {
		p.logger.Warn("product unavailable after retries", "product", o.Product.Name, "error", o.Err)
	}

	folded, dropped := p.processGranules(ctx, outcomes, agg)
	report.FramesFolded = folded
	report.FramesDropped = dropped

	report.Composites = agg.Finalize()
	report.Duration = time.Since(start)
	p.ready.Store(true)

	p.logger.Info("run complete",
		"discovered", report.Discovered,
		"downloaded", report.Downloads.Completed,
		"download_skipped", report.Downloads.Skipped,
		"download_failed", report.Downloads.Failed,
		"frames_folded", report.FramesFolded,
		"frames_dropped", report.FramesDropped,
		"composites", len(report.Composites),
		"duration", report.Duration,
	)
	return report, ctx.Err()
}

// processGranules extracts and regrids downloaded granules with a
// bounded worker pool, folding each resulting frame into its bucket.
func (p *Pipeline) processGranules(ctx context.Context, outcomes []download.Outcome, agg *aggregate.Aggregator) (folded, dropped int) {
	workers := p.opts.MaxConcurrency
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	jobs := make(chan download.Outcome)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for o := range jobs {
				ok, err := p.processOne(o.Product, agg)
				mu.Lock()
				if err != nil {
					dropped++
				} else if ok {
					folded++
				} else {
					dropped++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- o:
		}
	}
	close(jobs)
	wg.Wait()
	return folded, dropped
}

// processOne turns a local granule into a folded frame. Returns false
// with a nil error when the frame was gated out rather than malformed.
func (p *Pipeline) processOne(prod domain.Product, agg *aggregate.Aggregator) (bool, error) {
	granule, err := p.src.Read(prod.LocalPath)
	if err != nil {
		p.metrics.GranulesFailed.Inc()
		p.logger.Warn("granule unreadable, skipping", "product", prod.Name, "error", err)
		return false, err
	}

	cloud, err := extract.Filter(granule, p.opts.Query.Boundary, p.opts.QAThreshold)
	if err != nil {
		p.metrics.GranulesFailed.Inc()
		p.logger.Warn("granule rejected", "product", prod.Name, "error", err)
		return false, err
	}
	p.metrics.GranulesExtracted.Inc()
	p.metrics.PointsPerGranule.Observe(float64(cloud.Len()))

	interpStart := time.Now()
	frame, err := p.engine.Resample(cloud, p.opts.Grid, prod.Name, granule.AcquiredAt)
	if err != nil {
		return false, err
	}
	p.metrics.InterpolationDuration.Observe(time.Since(interpStart).Seconds())

	if p.opts.RegionGate != nil && frame.ValidCellsWithin(*p.opts.RegionGate) == 0 {
		p.metrics.FramesDropped.Inc()
		p.logger.Info("frame dropped, no coverage in region of interest", "product", prod.Name)
		return false, nil
	}

	if err := agg.Fold(frame); err != nil {
		return false, err
	}
	return true, nil
}

// PublishResults sends finalized composite summaries to the publisher,
// when one is configured. Publish failure is logged, not fatal: the
// artifacts are already on disk.
func (p *Pipeline) PublishResults(ctx context.Context, pub Publisher, results []aggregate.Result) {
	if pub == nil || len(results) == 0 {
		return
	}
	if err := pub.Publish(ctx, results); err != nil {
		p.logger.Error("publish composite summaries failed", "error", err)
	}
}
