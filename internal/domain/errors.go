package domain

import "errors"

// Error taxonomy for the pipeline. Caller mistakes (boundary,
// configuration) fail fast and are never retried. Catalog availability
// is surfaced to the caller, which owns the retry decision because
// discovery is cheap to redo in full. Download and granule failures are
// per-item: they are recorded in outcome lists and never abort a batch.
var (
	ErrInvalidBoundary      = errors.New("invalid boundary")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrCatalogUnavailable   = errors.New("catalog unavailable")
	ErrDownloadFailed       = errors.New("download failed")
	ErrMalformedGranule     = errors.New("malformed granule")
)
