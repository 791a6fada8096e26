// Command inspect opens a granule or composite artifact and prints its
// structure: variables, dimensions, coordinate ranges, NaN coverage,
// and summary statistics. Exits non-zero when the file is malformed or
// a named variable is missing, so it doubles as an integrity check in
// scripts.
//
// Usage:
//
//	go run ./cmd/inspect -file data/processed/NO2/S5P_NO2_daily_20240426.nc
//	go run ./cmd/inspect -file data/raw/NO2/2024/04/granule.nc -var no2
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

func main() {
	file := flag.String("file", "", "NetCDF file to inspect")
	varName := flag.String("var", "", "require this variable to be present")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}
	if code := run(*file, *varName); code != 0 {
		os.Exit(code)
	}
}

func run(path, requiredVar string) int {
	nc, err := netcdf.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open %s: %v\n", path, err)
		return 1
	}
	defer nc.Close()

	names := nc.ListVariables()
	sort.Strings(names)

	fmt.Printf("=== %s ===\n", path)
	fmt.Printf("Variables: %d\n\n", len(names))

	failures := 0
	found := false
	for _, name := range names {
		if name == requiredVar {
			found = true
		}
		if err := printVariable(nc, name); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR %s: %v\n", name, err)
			failures++
		}
	}

	if requiredVar != "" && !found {
		fmt.Fprintf(os.Stderr, "\nFATAL: required variable %q not present\n", requiredVar)
		return 1
	}
	if failures > 0 {
		fmt.Fprintf(os.Stderr, "\n%d variable(s) unreadable\n", failures)
		return 1
	}
	return 0
}

func printVariable(nc api.Group, name string) error {
	vr, err := nc.GetVariable(name)
	if err != nil {
		return err
	}

	fmt.Printf("%s  dims=%v\n", name, vr.Dimensions)
	if vr.Attributes != nil {
		for _, key := range vr.Attributes.Keys() {
			if v, ok := vr.Attributes.Get(key); ok {
				fmt.Printf("  :%s = %v\n", key, v)
			}
		}
	}

	values, ok := numericValues(vr.Values)
	if !ok {
		fmt.Printf("  (non-numeric payload %T)\n\n", vr.Values)
		return nil
	}
	printStats(values)
	fmt.Println()
	return nil
}

// numericValues flattens float payloads of rank 1-3; anything else is
// reported but not summarized.
func numericValues(values interface{}) ([]float64, bool) {
	switch v := values.(type) {
	case []float64:
		return v, true
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, true
	case [][]float64:
		var out []float64
		for _, row := range v {
			out = append(out, row...)
		}
		return out, true
	case [][]float32:
		var out []float64
		for _, row := range v {
			for _, f := range row {
				out = append(out, float64(f))
			}
		}
		return out, true
	case [][]int32:
		var out []float64
		for _, row := range v {
			for _, n := range row {
				out = append(out, float64(n))
			}
		}
		return out, true
	case []int32:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, true
	default:
		return nil, false
	}
}

func printStats(values []float64) {
	if len(values) == 0 {
		fmt.Printf("  empty\n")
		return
	}

	nans := 0
	minV, maxV := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) {
			nans++
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += v
	}

	valid := len(values) - nans
	fmt.Printf("  n=%d valid=%d nan=%.1f%%\n", len(values), valid, 100*float64(nans)/float64(len(values)))
	if valid > 0 {
		fmt.Printf("  min=%g max=%g mean=%g\n", minV, maxV, sum/float64(valid))
	}
}
