// Package store reads granules and writes composite artifacts in the
// self-describing NetCDF (classic) format, and owns the single
// file-existence predicate used for idempotent reruns.
package store

import (
	"fmt"
	"os"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Exists is the idempotency predicate shared by the download manager
// and the temporal aggregator: a local artifact counts as present when
// the file exists and, if the expected size is known (> 0), matches it.
func Exists(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if size > 0 && info.Size() != size {
		return false
	}
	return !info.IsDir()
}

// ReadGranule decodes a granule file into flattened parallel arrays.
// varName selects the measured variable (e.g.
// "nitrogendioxide_tropospheric_column"); the quality variable
// "qa_value" is optional. Reanalysis fields without one get a QA of
// 1.0 for every pixel, so they pass any threshold.
func ReadGranule(path, varName string) (domain.Granule, error) {
	g := domain.Granule{Name: path}

	nc, err := netcdf.Open(path)
	if err != nil {
		return g, fmt.Errorf("%w: %s: %v", domain.ErrMalformedGranule, path, err)
	}
	defer nc.Close()

	if g.Lat, err = readFloats(nc, "latitude"); err != nil {
		return g, err
	}
	if g.Lon, err = readFloats(nc, "longitude"); err != nil {
		return g, err
	}
	if g.Value, err = readFloats(nc, varName); err != nil {
		return g, err
	}

	if qa, qerr := readFloats(nc, "qa_value"); qerr == nil {
		g.QA = qa
	} else {
		g.QA = make([]float64, len(g.Value))
		for i := range g.QA {
			g.QA[i] = 1.0
		}
	}

	if t, ok := readTimeAttr(nc, varName); ok {
		g.AcquiredAt = t
	}

	if err := g.Validate(); err != nil {
		return g, err
	}
	return g, nil
}

// WriteGranule writes flattened observation arrays as a granule file.
// Used by the synthetic granule generator and by tests.
func WriteGranule(path string, g domain.Granule, varName string) error {
	if err := g.Validate(); err != nil {
		return err
	}

	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create granule %s: %w", path, err)
	}

	attrs, err := util.NewOrderedMap(
		[]string{"acquired_at"},
		map[string]interface{}{"acquired_at": g.AcquiredAt.UTC().Format(time.RFC3339)},
	)
	if err != nil {
		return err
	}

	vars := []struct {
		name   string
		values []float64
		attrs  api.AttributeMap
	}{
		{"latitude", g.Lat, nil},
		{"longitude", g.Lon, nil},
		{varName, g.Value, attrs},
		{"qa_value", g.QA, nil},
	}
	for _, v := range vars {
		if err := cw.AddVar(v.name, api.Variable{
			Values:     v.values,
			Dimensions: []string{"obs"},
			Attributes: v.attrs,
		}); err != nil {
			cw.Close()
			return fmt.Errorf("write %s variable %s: %w", path, v.name, err)
		}
	}
	return cw.Close()
}

// readFloats fetches a variable and flattens it to []float64 regardless
// of rank. Swath products store 2-D or 3-D (time, scanline, ground
// pixel) arrays; the pipeline works on the flattened pixel order.
func readFloats(nc api.Group, name string) ([]float64, error) {
	vr, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %q: %v", domain.ErrMalformedGranule, name, err)
	}
	out, err := flatten(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: variable %q: %v", domain.ErrMalformedGranule, name, err)
	}
	return out, nil
}

func flatten(values interface{}) ([]float64, error) {
	switch v := values.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	case [][]float64:
		var out []float64
		for _, row := range v {
			out = append(out, row...)
		}
		return out, nil
	case [][]float32:
		var out []float64
		for _, row := range v {
			for _, f := range row {
				out = append(out, float64(f))
			}
		}
		return out, nil
	case [][][]float64:
		var out []float64
		for _, plane := range v {
			for _, row := range plane {
				out = append(out, row...)
			}
		}
		return out, nil
	case [][][]float32:
		var out []float64
		for _, plane := range v {
			for _, row := range plane {
				for _, f := range row {
					out = append(out, float64(f))
				}
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", values)
	}
}

func readTimeAttr(nc api.Group, varName string) (time.Time, bool) {
	vr, err := nc.GetVariable(varName)
	if err != nil || vr.Attributes == nil {
		return time.Time{}, false
	}
	raw, ok := vr.Attributes.Get("acquired_at")
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
