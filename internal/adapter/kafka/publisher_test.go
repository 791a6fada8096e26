package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/aggregate"
	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

func TestSerializeResult(t *testing.T) {
	now := time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	bucket := domain.BucketFor(now, domain.PeriodDaily)
	r := aggregate.Result{
		Bucket:     bucket,
		Path:       "/data/processed/NO2/S5P_NO2_daily_20240426.nc",
		Frames:     3,
		ValidCells: 42,
	}

	msg, err := serializeResult(r)
	require.NoError(t, err)

	assert.Equal(t, []byte("20240426"), msg.Key)

	var s Summary
	require.NoError(t, json.Unmarshal(msg.Value, &s))
	assert.Equal(t, "20240426", s.Bucket)
	assert.Equal(t, "daily", s.Period)
	assert.True(t, s.Start.Equal(bucket.Start))
	assert.Equal(t, r.Path, s.Path)
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 42, s.ValidCells)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "period", msg.Headers[0].Key)
	assert.Equal(t, []byte("daily"), msg.Headers[0].Value)
	assert.Equal(t, "published_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-04-26T15:00:00Z"), msg.Headers[1].Value)
}

func TestPublish_NothingToPublish(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "composites", slog.Default())
	t.Cleanup(func() { _ = p.Close() })

	bucket := domain.BucketFor(time.Now(), domain.PeriodDaily)
	results := []aggregate.Result{
		{Bucket: bucket, Skipped: true},
		{Bucket: bucket, Err: errors.New("write failed")},
	}

	// Skipped and failed buckets produce no messages, so no broker
	// round-trip happens and Publish succeeds without one running.
	require.NoError(t, p.Publish(context.Background(), results))
}
