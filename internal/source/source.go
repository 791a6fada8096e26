// Package source defines the data-source capability: catalog discovery
// plus granule transfer and decoding for one upstream provider. Each
// provider lives in its own subpackage (copernicus, earthdata, era5)
// and shares the resilient HTTP helper defined here for catalog calls.
package source

import (
	"context"
	"os"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Query describes one catalog discovery request.
type Query struct {
	ProductType string
	Start       time.Time
	End         time.Time
	Boundary    domain.Boundary
	Limit       int // 0 = no cap
}

// DataSource is the provider capability the pipeline consumes. Discover
// may return partial results alongside a nil error when an upstream
// page fails mid-pagination; callers proceed with what was found.
// Fetch performs a single transfer attempt into w and leaves retrying
// to the download manager. Read decodes a local granule file.
type DataSource interface {
	Name() string
	Discover(ctx context.Context, q Query) ([]domain.Product, error)
	Fetch(ctx context.Context, p domain.Product, w *os.File) (int64, error)
	Read(path string) (domain.Granule, error)
}
