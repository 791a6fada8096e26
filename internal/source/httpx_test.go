package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/source"
)

func fastConfig() source.HTTPConfig {
	return source.HTTPConfig{
		Client: &http.Client{},
		Backoff: source.Backoff{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

func requestTo(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resp, err := source.Do(context.Background(), fastConfig(), source.NewBreaker(t.Name()), requestTo(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RetriesRateLimiting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	resp, err := source.Do(context.Background(), fastConfig(), source.NewBreaker(t.Name()), requestTo(srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := source.Do(context.Background(), fastConfig(), source.NewBreaker(t.Name()), requestTo(srv.URL))
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Do(ctx, fastConfig(), source.NewBreaker(t.Name()), requestTo(srv.URL))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_RequiresClient(t *testing.T) {
	cfg := source.HTTPConfig{}
	_, err := source.Do(context.Background(), cfg, source.NewBreaker(t.Name()), requestTo("http://example.com"))
	require.Error(t, err)
}

func TestDo_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := fastConfig()
	cb := source.NewBreaker(t.Name())

	// Two exhausted calls make five consecutive breaker failures, then
	// the sixth attempt short-circuits without reaching the server.
	var calls int
	for i := 0; i < 3; i++ {
		_, err := source.Do(context.Background(), cfg, cb, func() (*http.Request, error) {
			calls++
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		require.Error(t, err)
	}
	assert.Equal(t, 7, calls, "open breaker stops the third call after one build")
}
