package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the prometheus instruments of the pipeline. All
// methods are safe on a nil receiver so components can run without
// metrics.
type Collector struct {
	Registry *prometheus.Registry

	UnitsTotal       *prometheus.CounterVec
	UnitDuration     *prometheus.HistogramVec
	PixelsTotal      *prometheus.CounterVec
	RasterReadsTotal prometheus.Counter
	RasterCacheHits  prometheus.Counter

	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	MergeTasksTotal *prometheus.CounterVec
	CrawlFilesTotal *prometheus.CounterVec

	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the instruments on a private registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,

		UnitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accumulation_units_total",
				Help:      "Accumulation units processed by mode and outcome",
			},
			[]string{"mode", "status"},
		),

		UnitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "accumulation_unit_duration_seconds",
				Help:      "Wall time spent per accumulation unit",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"mode"},
		),

		PixelsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accumulation_pixels_total",
				Help:      "Output pixels computed, split by whether they hold data",
			},
			[]string{"result"},
		),

		RasterReadsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raster_reads_total",
				Help:      "Source rasters decoded from disk",
			},
		),

		RasterCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raster_cache_hits_total",
				Help:      "Source raster lookups served from the buffer cache",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Catalog query duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Catalog errors by query type",
			},
			[]string{"query_type"},
		),

		MergeTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_tasks_total",
				Help:      "Per ROI merge processes by outcome",
			},
			[]string{"status"},
		),

		CrawlFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawl_files_total",
				Help:      "Product sidecars visited by the crawler by outcome",
			},
			[]string{"status"},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Catalog API requests by operation and status",
			},
			[]string{"operation", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Catalog API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (c *Collector) ObserveQuery(queryType string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	if err != nil {
		c.DBErrorsTotal.WithLabelValues(queryType).Inc()
	}
}

func (c *Collector) ObserveUnit(mode string, start time.Time, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	c.UnitsTotal.WithLabelValues(mode, status).Inc()
	c.UnitDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (c *Collector) AddPixels(valid, empty int) {
	if c == nil {
		return
	}
	c.PixelsTotal.WithLabelValues("valid").Add(float64(valid))
	c.PixelsTotal.WithLabelValues("nodata").Add(float64(empty))
}

func (c *Collector) RasterRead(cacheHit bool) {
	if c == nil {
		return
	}
	if cacheHit {
		c.RasterCacheHits.Inc()
		return
	}
	c.RasterReadsTotal.Inc()
}

func (c *Collector) MergeTask(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.MergeTasksTotal.WithLabelValues("failed").Inc()
		return
	}
	c.MergeTasksTotal.WithLabelValues("ok").Inc()
}

func (c *Collector) CrawlFile(status string) {
	if c == nil {
		return
	}
	c.CrawlFilesTotal.WithLabelValues(status).Inc()
}

func (c *Collector) APIRequest(operation string, status int, start time.Time) {
	if c == nil {
		return
	}
	c.APIRequestsTotal.WithLabelValues(operation, statusClass(status)).Inc()
	c.APIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// WriteTextfile dumps the registry in the node exporter textfile
// format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.Registry)
}
