package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// ArtifactStore names and writes composite artifacts. One artifact per
// bucket per product type, e.g. processed/NO2/S5P_NO2_daily_20240426.nc.
// Artifacts are immutable once written; their existence is the
// idempotency signal for reruns.
type ArtifactStore struct {
	Dir         string // e.g. <data>/processed/NO2
	ProviderTag string // e.g. "S5P"
	ProductType string // e.g. "NO2"
	VarName     string // variable name inside the artifact
	Method      string // interpolation method recorded in attributes
	Units       string
}

// Path returns the artifact file name for a bucket.
func (s *ArtifactStore) Path(b domain.Bucket) string {
	name := fmt.Sprintf("%s_%s_%s_%s.nc", s.ProviderTag, s.ProductType, b.Period, b.Key())
	return filepath.Join(s.Dir, name)
}

// ArtifactExists reports whether the bucket's artifact is already on disk.
func (s *ArtifactStore) ArtifactExists(b domain.Bucket) bool {
	return Exists(s.Path(b), 0)
}

// WriteComposite persists a finalized composite: grid axes, the per-cell
// mean, and the per-cell contribution count. The file is written to a
// temporary path and renamed into place so readers never observe a
// truncated artifact.
func (s *ArtifactStore) WriteComposite(c *domain.Composite) (string, error) {
	if c.Frames == 0 {
		return "", fmt.Errorf("refusing to write composite %s with no contributing frames", c.Bucket)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	path := s.Path(c.Bucket)
	tmp := path + ".tmp"

	if err := s.writeTo(tmp, c); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact %s: %w", path, err)
	}
	return path, nil
}

func (s *ArtifactStore) writeTo(path string, c *domain.Composite) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", path, err)
	}

	attrs, err := util.NewOrderedMap(
		[]string{"units", "bucket", "period", "interpolation_method", "contributing_frames"},
		map[string]interface{}{
			"units":                s.Units,
			"bucket":               c.Bucket.Key(),
			"period":               string(c.Bucket.Period),
			"interpolation_method": s.Method,
			"contributing_frames":  int32(c.Frames),
		},
	)
	if err != nil {
		cw.Close()
		return err
	}

	grid := c.Grid
	mean := reshape(c.Mean(), len(grid.Lat), len(grid.Lon))
	count := reshapeInt32(c.Count, len(grid.Lat), len(grid.Lon))

	steps := []struct {
		name string
		v    api.Variable
	}{
		{"latitude", api.Variable{Values: grid.Lat, Dimensions: []string{"latitude"}}},
		{"longitude", api.Variable{Values: grid.Lon, Dimensions: []string{"longitude"}}},
		{s.VarName, api.Variable{Values: mean, Dimensions: []string{"latitude", "longitude"}, Attributes: attrs}},
		{s.VarName + "_count", api.Variable{Values: count, Dimensions: []string{"latitude", "longitude"}}},
	}
	for _, st := range steps {
		if err := cw.AddVar(st.name, st.v); err != nil {
			cw.Close()
			return fmt.Errorf("write artifact %s variable %s: %w", path, st.name, err)
		}
	}
	return cw.Close()
}

func reshape(flat []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out
}

func reshapeInt32(flat []int32, rows, cols int) [][]int32 {
	out := make([][]int32, rows)
	for i := 0; i < rows; i++ {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out
}
