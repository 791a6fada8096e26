package export_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/export"
)

func testComposite(t *testing.T) *domain.Composite {
	t.Helper()
	b, err := domain.NewBoundary(120, 121, 22, 23)
	require.NoError(t, err)
	grid, err := domain.NewGrid(b, domain.Resolution{X: 1, Y: 1, Unit: domain.UnitDegrees})
	require.NoError(t, err)

	at := time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC)
	c := domain.NewComposite(domain.BucketFor(at, domain.PeriodDaily), grid)

	f := domain.NewEmptyFrame(grid, "test", at)
	f.Values[0] = 1.5
	f.Values[1] = math.NaN()
	f.Values[2] = 3.0
	f.Values[3] = math.NaN()
	require.NoError(t, c.Fold(f))

	g := domain.NewEmptyFrame(grid, "test", at.Add(time.Hour))
	g.Values[0] = 2.5
	require.NoError(t, c.Fold(g))

	return c
}

func TestWriteCSV_SkipsNoDataCells(t *testing.T) {
	c := testComposite(t)

	var buf strings.Builder
	require.NoError(t, export.WriteCSV(&buf, c))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "header plus one row per cell with data")
	assert.Equal(t, "lon,lat,mean,count", lines[0])
	assert.Equal(t, "120,22,2,2", lines[1], "two contributions average to 2")
	assert.Equal(t, "120,23,3,1", lines[2])
}

func TestWriteCSV_EmptyCompositeWritesHeaderOnly(t *testing.T) {
	b, err := domain.NewBoundary(120, 121, 22, 23)
	require.NoError(t, err)
	grid, err := domain.NewGrid(b, domain.Resolution{X: 1, Y: 1, Unit: domain.UnitDegrees})
	require.NoError(t, err)
	c := domain.NewComposite(domain.BucketFor(time.Now(), domain.PeriodDaily), grid)

	var buf strings.Builder
	require.NoError(t, export.WriteCSV(&buf, c))
	assert.Equal(t, "lon,lat,mean,count\n", buf.String())
}
