// Package domain models satellite swath observations and their gridded
// products.
//
// # Data Sources
//
// Granules originate from three catalogs: the Copernicus Data Space
// OData API for Sentinel-5P trace-gas columns (e.g. tropospheric NO2),
// the NASA Earthdata CMR for MODIS aerosol optical depth, and the ECMWF
// Climate Data Store for ERA5 reanalysis fields. Each provider is
// wrapped by a DataSource adapter; everything downstream of download
// operates only on the provider-agnostic types in this package.
//
// # Index Spaces
//
// Arrays in the pipeline live in exactly one of three index spaces:
//
//	raw granule pixels (N)    Granule: latitude, longitude, value, QA
//	filtered points (M <= N)  PointCloud: the QA/boundary-filtered subset
//	grid cells (|lat|*|lon|)  GriddedFrame and Composite, row-major
//	                          with latitude as the slow axis
//
// Crossing between spaces happens only through the quality filter
// (N to M) or the spatial index built by the interpolation engine
// (M to cells). A cell with no usable observation holds NaN, never zero.
//
// # Time Buckets
//
// Composites aggregate frames into UTC buckets, daily or monthly.
// A bucket is identified by its period and its start instant; its key
// ("20240426", "202404") names the output artifact, which doubles as
// the idempotency signal: an existing artifact means the bucket is
// skipped on reruns.
package domain
