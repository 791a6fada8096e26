package domain

import "time"

// DownloadStatus tracks a product through the download manager.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusComplete    DownloadStatus = "complete"
	StatusFailed      DownloadStatus = "failed"
)

// Product is one catalog entry for a downloadable granule. The catalog
// creates it; only the download manager mutates LocalPath and Status,
// and a Complete product is never mutated again.
type Product struct {
	ID         string
	Name       string
	AcquiredAt time.Time
	Size       int64 // bytes as reported by the catalog; 0 when unknown
	RemoteURI  string
	LocalPath  string
	Status     DownloadStatus
}
