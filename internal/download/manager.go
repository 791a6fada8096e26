// Package download executes bounded-concurrency granule downloads with
// per-product retry and idempotent skip. A failed product never aborts
// the batch; every product's outcome is reported so the caller can
// decide whether to proceed with partial data.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/observability"
	"github.com/couchcryptid/atmos-regrid/internal/store"
)

// Fetcher performs one transfer attempt for a product, streaming the
// remote payload into w. Retry is the manager's job, not the fetcher's.
type Fetcher interface {
	Fetch(ctx context.Context, p domain.Product, w *os.File) (int64, error)
}

// errBatchStopped marks products never attempted because the batch
// context was cancelled before they were fed to a worker.
var errBatchStopped = errors.New("batch stopped before download")

// RetryPolicy bounds transfer retries. Tests inject a zero-backoff
// policy instead of sleeping.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backoff returns the sleep before the given retry attempt (attempt 1
// is the first retry). Exponential, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff && p.MaxBackoff > 0 {
		return p.MaxBackoff
	}
	return d
}

// Outcome is one product's download result.
type Outcome struct {
	Product  domain.Product
	Skipped  bool // local artifact already matched the catalog size
	Bytes    int64
	Attempts int
	Err      error
}

// Manager runs the download worker pool.
type Manager struct {
	fetcher Fetcher
	destFn  func(domain.Product) string
	policy  RetryPolicy
	timeout time.Duration // per-attempt ceiling; 0 = none
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewManager creates a download manager. destFn maps a product to its
// local target path.
func NewManager(f Fetcher, destFn func(domain.Product) string, policy RetryPolicy, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		fetcher: f,
		destFn:  destFn,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// DownloadAll downloads the products with at most maxConcurrency
// transfers in flight. Excess products queue; workers check the context
// between products so an in-progress batch stops cleanly. The returned
// slice has one outcome per input product, in input order.
func (m *Manager) DownloadAll(ctx context.Context, products []domain.Product, maxConcurrency int) []Outcome {
	outcomes := make([]Outcome, len(products))
	if len(products) == 0 {
		return outcomes
	}
	for i, p := range products {
		p.Status = domain.StatusPending
		outcomes[i] = Outcome{Product: p, Err: errBatchStopped}
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxConcurrency > len(products) {
		maxConcurrency = len(products)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(maxConcurrency)
	for w := 0; w < maxConcurrency; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				// Each worker writes only its own slot, so no lock is
				// needed around the results collection.
				outcomes[idx] = m.downloadOne(ctx, products[idx])
			}
		}()
	}

feed:
	for i := range products {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (m *Manager) downloadOne(ctx context.Context, p domain.Product) Outcome {
	dest := m.destFn(p)
	p.LocalPath = dest

	// Idempotent re-run: a local file matching the catalog size counts
	// as already downloaded and performs zero network transfers.
	if store.Exists(dest, p.Size) {
		p.Status = domain.StatusComplete
		m.metrics.DownloadsSkipped.Inc()
		m.logger.Debug("download skipped, local file matches", "product", p.Name, "path", dest)
		return Outcome{Product: p, Skipped: true}
	}

	p.Status = domain.StatusDownloading
	start := time.Now()

	var (
		written  int64
		attempts int
		lastErr  error
	)
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		attempts = attempt
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		written, lastErr = m.attempt(ctx, p, dest)
		if lastErr == nil {
			break
		}

		m.logger.Warn("download attempt failed",
			"product", p.Name,
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"error", lastErr,
		)
		if attempt < m.policy.MaxAttempts {
			if !sleepWithContext(ctx, m.policy.Backoff(attempt)) {
				lastErr = ctx.Err()
				break
			}
		}
	}

	if lastErr != nil {
		// Batch cancellation is not a transfer failure; report it
		// unwrapped so Failures can tell the two apart. A per-attempt
		// deadline with a live parent context still counts as a failure.
		if ctx.Err() != nil && errors.Is(lastErr, ctx.Err()) {
			p.Status = domain.StatusPending
			return Outcome{Product: p, Attempts: attempts, Err: lastErr}
		}
		p.Status = domain.StatusFailed
		m.metrics.DownloadsFailed.Inc()
		return Outcome{
			Product:  p,
			Attempts: attempts,
			Err:      fmt.Errorf("%w: %s: %v", domain.ErrDownloadFailed, p.Name, lastErr),
		}
	}

	p.Status = domain.StatusComplete
	m.metrics.DownloadsCompleted.Inc()
	m.metrics.BytesDownloaded.Add(float64(written))
	m.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	m.logger.Info("download complete", "product", p.Name, "bytes", written, "attempts", attempts)
	return Outcome{Product: p, Bytes: written, Attempts: attempts}
}

// attempt performs a single transfer into a temporary file and renames
// it into place on success, so a truncated payload never lands under
// the final name.
func (m *Manager) attempt(ctx context.Context, p domain.Product, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	written, err := m.fetcher.Fetch(ctx, p, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && p.Size > 0 && written != p.Size {
		err = fmt.Errorf("transfer truncated: got %d of %d bytes", written, p.Size)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return written, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Summary condenses a batch's outcomes for logging and the run report.
type Summary struct {
	Completed int
	Skipped   int
	Failed    int
	Bytes     int64
}

// Summarize tallies a batch of outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			s.Failed++
		case o.Skipped:
			s.Skipped++
		default:
			s.Completed++
			s.Bytes += o.Bytes
		}
	}
	return s
}

// Failures returns the outcomes that exhausted all retries.
func Failures(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, context.Canceled) && !errors.Is(o.Err, errBatchStopped) {
			out = append(out, o)
		}
	}
	return out
}
