package era5_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/source"
	"github.com/couchcryptid/atmos-regrid/internal/source/era5"
)

func reanalysisQuery(t *testing.T, start, end time.Time) source.Query {
	t.Helper()
	b, err := domain.NewBoundary(119, 123, 21, 26)
	require.NoError(t, err)
	return source.Query{
		ProductType: "boundary_layer_height",
		Start:       start,
		End:         end,
		Boundary:    b,
	}
}

func TestDiscover_OneProductPerMonth(t *testing.T) {
	s := era5.New(era5.Options{Key: "1234:secret"})

	q := reanalysisQuery(t,
		time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC))

	products, err := s.Discover(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, products, 3, "february through april")

	assert.Equal(t, "era5-blh-202402", products[0].ID)
	assert.Equal(t, "ERA5_blh_202402.nc", products[0].Name)
	assert.True(t, products[0].AcquiredAt.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "era5-blh-202404", products[2].ID)

	// The retrieval parameters ride along in the URI, area as N/W/S/E.
	uri := products[0].RemoteURI
	assert.True(t, strings.HasPrefix(uri, "cds:reanalysis-era5-single-levels?"), uri)
	assert.Contains(t, uri, "variable=boundary_layer_height")
	assert.Contains(t, uri, "area=26%2F119%2F21%2F123")
}

func TestDiscover_LimitBoundsMonths(t *testing.T) {
	s := era5.New(era5.Options{Key: "1234:secret"})

	q := reanalysisQuery(t,
		time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))
	q.Limit = 2

	products, err := s.Discover(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestFetch_SubmitPollDownload(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST /resources/reanalysis-era5-single-levels", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "1234", user)
		assert.Equal(t, "secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "boundary_layer_height", body["variable"])
		assert.Equal(t, "reanalysis", body["product_type"])
		assert.Equal(t, "netcdf", body["data_format"])
		assert.Len(t, body["day"], 31)
		assert.Len(t, body["time"], 24)
		assert.Equal(t, []any{"26", "119", "21", "123"}, body["area"])

		json.NewEncoder(w).Encode(map[string]string{"state": "queued", "request_id": "req-1"})
	})
	mux.HandleFunc("GET /tasks/req-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			json.NewEncoder(w).Encode(map[string]string{"state": "running", "request_id": "req-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"state":      "completed",
			"request_id": "req-1",
			"location":   srv.URL + "/download/req-1",
		})
	})
	mux.HandleFunc("GET /download/req-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "reanalysis-bytes")
	})

	s := era5.New(era5.Options{APIURL: srv.URL, Key: "1234:secret", PollInterval: 10 * time.Millisecond})

	q := reanalysisQuery(t,
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC))
	products, err := s.Discover(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, products, 1)

	f, err := os.Create(filepath.Join(t.TempDir(), products[0].Name))
	require.NoError(t, err)
	defer f.Close()

	n, err := s.Fetch(context.Background(), products[0], f)
	require.NoError(t, err)
	assert.Equal(t, int64(len("reanalysis-bytes")), n)
	assert.Equal(t, 2, polls)
}

func TestFetch_FailedRetrievalSurfacesReason(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST /resources/reanalysis-era5-single-levels", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"state":      "failed",
			"request_id": "req-2",
			"error":      map[string]string{"reason": "bad request", "message": "no data in range"},
		})
	})

	s := era5.New(era5.Options{APIURL: srv.URL, Key: "1234:secret", PollInterval: time.Millisecond})

	f, err := os.Create(filepath.Join(t.TempDir(), "era5.nc"))
	require.NoError(t, err)
	defer f.Close()

	p := domain.Product{RemoteURI: "cds:reanalysis-era5-single-levels?variable=boundary_layer_height&year=2024&month=04"}
	_, err = s.Fetch(context.Background(), p, f)
	require.ErrorContains(t, err, "bad request")
	require.ErrorContains(t, err, "no data in range")
}

func TestFetch_RejectsForeignURI(t *testing.T) {
	s := era5.New(era5.Options{Key: "1234:secret"})

	f, err := os.Create(filepath.Join(t.TempDir(), "era5.nc"))
	require.NoError(t, err)
	defer f.Close()

	_, err = s.Fetch(context.Background(), domain.Product{RemoteURI: "https://example.com/file.nc"}, f)
	require.Error(t, err)
}
