package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

func testBoundary(t *testing.T) domain.Boundary {
	t.Helper()
	b, err := domain.NewBoundary(119, 123, 21, 26)
	require.NoError(t, err)
	return b
}

func TestNewGrid_DegreeResolution(t *testing.T) {
	g, err := domain.NewGrid(testBoundary(t), domain.Resolution{X: 0.5, Y: 0.5, Unit: domain.UnitDegrees})
	require.NoError(t, err)

	// 119..123 at 0.5 deg inclusive: 9 centers; 21..26: 11 centers.
	assert.Len(t, g.Lon, 9)
	assert.Len(t, g.Lat, 11)
	assert.Equal(t, 99, g.NumCells())

	assert.Equal(t, 119.0, g.Lon[0])
	assert.InDelta(t, 123.0, g.Lon[len(g.Lon)-1], 1e-9)
	assert.Equal(t, 21.0, g.Lat[0])
	assert.InDelta(t, 26.0, g.Lat[len(g.Lat)-1], 1e-9)
}

func TestNewGrid_KilometreResolution(t *testing.T) {
	b := testBoundary(t)
	g, err := domain.NewGrid(b, domain.Resolution{X: 5.5, Y: 3.5, Unit: domain.UnitKilometers})
	require.NoError(t, err)

	// Latitude step: 3.5 km / 111.32 km per degree.
	latStep := g.Lat[1] - g.Lat[0]
	assert.InDelta(t, 3.5/111.32, latStep, 1e-9)

	// Longitude degrees shrink with cos(center latitude).
	lonStep := g.Lon[1] - g.Lon[0]
	expected := 5.5 / (6371 * math.Cos(b.CenterLat()*math.Pi/180) * 2 * math.Pi / 360)
	assert.InDelta(t, expected, lonStep, 1e-9)

	// Steps are uniform across the axis.
	for i := 1; i < len(g.Lat); i++ {
		assert.InDelta(t, latStep, g.Lat[i]-g.Lat[i-1], 1e-9)
	}
}

func TestNewGrid_Invalid(t *testing.T) {
	b := testBoundary(t)

	_, err := domain.NewGrid(b, domain.Resolution{X: 0, Y: 1, Unit: domain.UnitDegrees})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = domain.NewGrid(b, domain.Resolution{X: 1, Y: 1, Unit: "furlongs"})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	polar, err := domain.NewBoundary(0, 1, 89.9, 90)
	require.NoError(t, err)
	_, err = domain.NewGrid(polar, domain.Resolution{X: 5, Y: 5, Unit: domain.UnitKilometers})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestGrid_CellIndex_RowMajor(t *testing.T) {
	g, err := domain.NewGrid(testBoundary(t), domain.Resolution{X: 1, Y: 1, Unit: domain.UnitDegrees})
	require.NoError(t, err)

	assert.Equal(t, 0, g.CellIndex(0, 0))
	assert.Equal(t, len(g.Lon), g.CellIndex(1, 0))
	assert.Equal(t, g.NumCells()-1, g.CellIndex(len(g.Lat)-1, len(g.Lon)-1))
}
