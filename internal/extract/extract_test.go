package extract_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/extract"
)

func testBoundary(t *testing.T) domain.Boundary {
	t.Helper()
	b, err := domain.NewBoundary(119, 123, 21, 26)
	require.NoError(t, err)
	return b
}

func randomGranule(rng *rand.Rand, n int) domain.Granule {
	g := domain.Granule{
		Name:       "random",
		AcquiredAt: time.Date(2024, time.April, 26, 3, 0, 0, 0, time.UTC),
		Lat:        make([]float64, n),
		Lon:        make([]float64, n),
		Value:      make([]float64, n),
		QA:         make([]float64, n),
	}
	for i := 0; i < n; i++ {
		// Spread points well beyond the test boundary so some fall outside.
		g.Lat[i] = 10 + rng.Float64()*25
		g.Lon[i] = 110 + rng.Float64()*25
		g.Value[i] = rng.Float64()
		g.QA[i] = rng.Float64()
	}
	return g
}

func TestFilter_NeverGrowsInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := testBoundary(t)

	for trial := 0; trial < 20; trial++ {
		g := randomGranule(rng, 200)
		cloud, err := extract.Filter(g, b, 0.75)
		require.NoError(t, err)
		assert.LessOrEqual(t, cloud.Len(), g.Len())
	}
}

func TestFilter_KeepsOnlyInBoundsAboveThreshold(t *testing.T) {
	b := testBoundary(t)
	g := domain.Granule{
		Name:       "fixture",
		AcquiredAt: time.Now(),
		Lat:        []float64{23, 23, 23, 40, 21, 26},
		Lon:        []float64{121, 121, 121, 121, 119, 123},
		Value:      []float64{1, 2, 3, 4, 5, 6},
		QA:         []float64{0.9, 0.74, 0.75, 0.9, 0.8, 1.0},
	}

	cloud, err := extract.Filter(g, b, 0.75)
	require.NoError(t, err)

	// Index 1 fails QA, index 3 is out of bounds. Edges (4, 5) and the
	// exact threshold (2) survive. Enumeration order is preserved.
	assert.Equal(t, []float64{1, 3, 5, 6}, cloud.Value)
}

func TestFilter_SkipsNaNCoordinatesAndValues(t *testing.T) {
	b := testBoundary(t)
	g := domain.Granule{
		Name:       "fixture",
		AcquiredAt: time.Now(),
		Lat:        []float64{23, math.NaN(), 23, 23},
		Lon:        []float64{121, 121, math.NaN(), 121},
		Value:      []float64{1, 2, 3, math.NaN()},
		QA:         []float64{1, 1, 1, 1},
	}

	cloud, err := extract.Filter(g, b, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, cloud.Value)
}

func TestFilter_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := testBoundary(t)
	g := randomGranule(rng, 500)

	first, err := extract.Filter(g, b, 0.5)
	require.NoError(t, err)
	second, err := extract.Filter(g, b, 0.5)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
}

func TestFilter_EmptyResultIsValid(t *testing.T) {
	b := testBoundary(t)
	g := domain.Granule{
		Name:       "fixture",
		AcquiredAt: time.Now(),
		Lat:        []float64{50},
		Lon:        []float64{0},
		Value:      []float64{1},
		QA:         []float64{1},
	}

	cloud, err := extract.Filter(g, b, 0.75)
	require.NoError(t, err)
	assert.True(t, cloud.Empty())
}

func TestFilter_MalformedGranule(t *testing.T) {
	b := testBoundary(t)
	g := domain.Granule{
		Name:       "ragged",
		AcquiredAt: time.Now(),
		Lat:        []float64{23, 24},
		Lon:        []float64{121},
		Value:      []float64{1, 2},
		QA:         []float64{1, 1},
	}

	_, err := extract.Filter(g, b, 0.75)
	require.ErrorIs(t, err, domain.ErrMalformedGranule)
}
