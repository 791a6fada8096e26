// Package export flattens composites to tabular form for downstream
// analysis tools that do not speak NetCDF.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// WriteCSV writes one row per grid cell with at least one contributing
// frame: lon, lat, mean, count. No-data cells are omitted rather than
// written as empty values, keeping the output loadable without NaN
// handling on the consumer side.
func WriteCSV(w io.Writer, c *domain.Composite) error {
	mean := c.Mean()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lon", "lat", "mean", "count"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, lat := range c.Grid.Lat {
		for j, lon := range c.Grid.Lon {
			idx := c.Grid.CellIndex(i, j)
			if c.Count[idx] == 0 {
				continue
			}
			row := []string{
				strconv.FormatFloat(lon, 'g', -1, 64),
				strconv.FormatFloat(lat, 'g', -1, 64),
				strconv.FormatFloat(mean[idx], 'g', -1, 64),
				strconv.FormatInt(int64(c.Count[idx]), 10),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
