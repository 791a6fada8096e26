package download_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/download"
	"github.com/couchcryptid/atmos-regrid/internal/observability"
)

// fakeFetcher serves canned payloads and can fail specific products.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]string
	failures map[string]int // product ID -> remaining failures
	fetches  int
}

func (f *fakeFetcher) Fetch(_ context.Context, p domain.Product, w *os.File) (int64, error) {
	f.mu.Lock()
	f.fetches++
	remaining := f.failures[p.ID]
	if remaining > 0 {
		f.failures[p.ID] = remaining - 1
	}
	payload := f.payloads[p.ID]
	f.mu.Unlock()

	if remaining > 0 {
		return 0, fmt.Errorf("simulated transfer failure")
	}
	n, err := w.WriteString(payload)
	return int64(n), err
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func zeroBackoff() download.RetryPolicy {
	return download.RetryPolicy{MaxAttempts: 3, InitialBackoff: 0, MaxBackoff: 0}
}

func newManager(t *testing.T, f download.Fetcher, dir string, policy download.RetryPolicy) *download.Manager {
	t.Helper()
	destFn := func(p domain.Product) string { return filepath.Join(dir, p.Name) }
	return download.NewManager(f, destFn, policy, 0, slog.Default(), observability.NewMetricsForTesting())
}

func products(n int) []domain.Product {
	out := make([]domain.Product, n)
	for i := range out {
		out[i] = domain.Product{
			ID:         fmt.Sprintf("p-%d", i),
			Name:       fmt.Sprintf("granule_%d.nc", i),
			AcquiredAt: time.Date(2024, time.April, 26, i, 0, 0, 0, time.UTC),
			Size:       int64(len("payload")),
		}
	}
	return out
}

func TestDownloadAll_HappyPath(t *testing.T) {
	dir := t.TempDir()
	ps := products(4)
	fetcher := &fakeFetcher{payloads: map[string]string{}}
	for _, p := range ps {
		fetcher.payloads[p.ID] = "payload"
	}

	m := newManager(t, fetcher, dir, zeroBackoff())
	outcomes := m.DownloadAll(context.Background(), ps, 2)

	require.Len(t, outcomes, 4)
	for i, o := range outcomes {
		assert.NoError(t, o.Err)
		assert.Equal(t, ps[i].ID, o.Product.ID, "outcomes preserve input order")
		assert.Equal(t, domain.StatusComplete, o.Product.Status)

		data, err := os.ReadFile(filepath.Join(dir, o.Product.Name))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}

	s := download.Summarize(outcomes)
	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, int64(4*len("payload")), s.Bytes)
}

func TestDownloadAll_OneFailureDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	ps := products(5)
	fetcher := &fakeFetcher{
		payloads: map[string]string{},
		failures: map[string]int{"p-2": 99}, // always fails
	}
	for _, p := range ps {
		fetcher.payloads[p.ID] = "payload"
	}

	m := newManager(t, fetcher, dir, zeroBackoff())
	outcomes := m.DownloadAll(context.Background(), ps, 3)

	require.Len(t, outcomes, 5)
	for i, o := range outcomes {
		if i == 2 {
			require.ErrorIs(t, o.Err, domain.ErrDownloadFailed)
			assert.Equal(t, domain.StatusFailed, o.Product.Status)
			assert.Equal(t, 3, o.Attempts, "failed product exhausts all attempts")
			continue
		}
		assert.NoError(t, o.Err, "product %d should be isolated from the failure", i)
	}

	failures := download.Failures(outcomes)
	require.Len(t, failures, 1)
	assert.Equal(t, "p-2", failures[0].Product.ID)
}

func TestDownloadAll_RetryThenSucceed(t *testing.T) {
	dir := t.TempDir()
	ps := products(1)
	fetcher := &fakeFetcher{
		payloads: map[string]string{"p-0": "payload"},
		failures: map[string]int{"p-0": 2}, // third attempt succeeds
	}

	m := newManager(t, fetcher, dir, zeroBackoff())
	outcomes := m.DownloadAll(context.Background(), ps, 1)

	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 3, outcomes[0].Attempts)
}

func TestDownloadAll_SecondRunSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	ps := products(3)
	fetcher := &fakeFetcher{payloads: map[string]string{}}
	for _, p := range ps {
		fetcher.payloads[p.ID] = "payload"
	}

	m := newManager(t, fetcher, dir, zeroBackoff())
	first := m.DownloadAll(context.Background(), ps, 2)
	for _, o := range first {
		require.NoError(t, o.Err)
	}
	initialFetches := fetcher.fetchCount()

	second := m.DownloadAll(context.Background(), ps, 2)
	for _, o := range second {
		assert.True(t, o.Skipped)
		assert.Equal(t, domain.StatusComplete, o.Product.Status)
	}
	assert.Equal(t, initialFetches, fetcher.fetchCount(), "rerun performs zero transfers")

	s := download.Summarize(second)
	assert.Equal(t, 3, s.Skipped)
	assert.Equal(t, 0, s.Completed)
}

func TestDownloadAll_SizeMismatchForcesRedownload(t *testing.T) {
	dir := t.TempDir()
	ps := products(1)
	fetcher := &fakeFetcher{payloads: map[string]string{"p-0": "payload"}}

	// A stale partial file with the wrong size must be replaced.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ps[0].Name), []byte("torn"), 0o600))

	m := newManager(t, fetcher, dir, zeroBackoff())
	outcomes := m.DownloadAll(context.Background(), ps, 1)

	require.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[0].Skipped)

	data, err := os.ReadFile(filepath.Join(dir, ps[0].Name))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadAll_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	ps := products(2)
	fetcher := &fakeFetcher{
		payloads: map[string]string{"p-0": "payload", "p-1": "payload"},
		failures: map[string]int{"p-1": 99},
	}

	m := newManager(t, fetcher, dir, zeroBackoff())
	m.DownloadAll(context.Background(), ps, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "failed attempts must clean up their temp file")
	}
}

func TestDownloadAll_CancelledContextStopsFeeding(t *testing.T) {
	dir := t.TempDir()
	ps := products(4)
	fetcher := &fakeFetcher{payloads: map[string]string{}}
	for _, p := range ps {
		fetcher.payloads[p.ID] = "payload"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newManager(t, fetcher, dir, zeroBackoff())
	outcomes := m.DownloadAll(ctx, ps, 1)

	require.Len(t, outcomes, 4)
	assert.Empty(t, download.Failures(outcomes), "cancellation is not a download failure")
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := download.RetryPolicy{MaxAttempts: 5, InitialBackoff: 5 * time.Second, MaxBackoff: 30 * time.Second}

	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
	assert.Equal(t, 30*time.Second, p.Backoff(4), "backoff caps at the maximum")
	assert.Equal(t, 30*time.Second, p.Backoff(10))
}
