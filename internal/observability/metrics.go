package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// acquisition and regridding pipeline.
type Metrics struct {
	ProductsDiscovered prometheus.Counter
	DownloadsCompleted prometheus.Counter
	DownloadsSkipped   prometheus.Counter
	DownloadsFailed    prometheus.Counter
	BytesDownloaded    prometheus.Counter

	GranulesExtracted prometheus.Counter
	GranulesFailed    prometheus.Counter
	FramesDropped     prometheus.Counter // region gate rejections

	CompositesWritten prometheus.Counter
	CompositesSkipped prometheus.Counter

	DownloadDuration      prometheus.Histogram
	InterpolationDuration prometheus.Histogram
	PointsPerGranule      prometheus.Histogram

	RunInProgress prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProductsDiscovered,
		m.DownloadsCompleted,
		m.DownloadsSkipped,
		m.DownloadsFailed,
		m.BytesDownloaded,
		m.GranulesExtracted,
		m.GranulesFailed,
		m.FramesDropped,
		m.CompositesWritten,
		m.CompositesSkipped,
		m.DownloadDuration,
		m.InterpolationDuration,
		m.PointsPerGranule,
		m.RunInProgress,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so
// parallel tests avoid "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProductsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "products_discovered_total",
			Help:      "Total products returned by catalog discovery.",
		}),
		DownloadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "downloads_completed_total",
			Help:      "Total granule downloads that finished successfully.",
		}),
		DownloadsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "downloads_skipped_total",
			Help:      "Total downloads skipped because a matching local file existed.",
		}),
		DownloadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "downloads_failed_total",
			Help:      "Total downloads that exhausted all retry attempts.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes transferred from remote providers.",
		}),
		GranulesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "granules_extracted_total",
			Help:      "Total granules decoded and quality-filtered.",
		}),
		GranulesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "granules_failed_total",
			Help:      "Total granules skipped because they failed to decode.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "frames_dropped_total",
			Help:      "Total interpolated frames dropped by the region gate.",
		}),
		CompositesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "composites_written_total",
			Help:      "Total composite artifacts written.",
		}),
		CompositesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atmos_regrid",
			Name:      "composites_skipped_total",
			Help:      "Total buckets skipped because their artifact already existed.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atmos_regrid",
			Name:      "download_duration_seconds",
			Help:      "Duration of individual granule downloads.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		InterpolationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atmos_regrid",
			Name:      "interpolation_duration_seconds",
			Help:      "Duration of resampling one point cloud onto the grid.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		PointsPerGranule: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atmos_regrid",
			Name:      "points_per_granule",
			Help:      "Quality-filtered point count per granule.",
			Buckets:   []float64{0, 10, 100, 1000, 10000, 100000, 1000000},
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "atmos_regrid",
			Name:      "run_in_progress",
			Help:      "1 while a pipeline run is active, 0 otherwise.",
		}),
	}
}
