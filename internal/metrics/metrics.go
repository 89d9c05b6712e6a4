package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for visitstat.
type Metrics struct {
	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Visit recording metrics
	VisitsRecordedTotal prometheus.Counter
	VisitsDroppedTotal  prometheus.Counter
	AppendErrorsTotal   prometheus.Counter
	LiveVisitorsGauge   prometheus.GaugeFunc

	// Aggregator metrics
	BucketsMinute prometheus.GaugeFunc
	BucketsHour   prometheus.GaugeFunc
	BucketsDay    prometheus.GaugeFunc

	// SSE metrics
	SSESubscribersGauge prometheus.GaugeFunc

	// Database metrics
	DBSizeBytes   prometheus.GaugeFunc
	DBVisitsTotal prometheus.GaugeFunc
}

// BucketCounts reports retained aggregator buckets per granularity.
type BucketCounts struct {
	Minutes int
	Hours   int
	Days    int
}

// cachedValue caches an expensive provider result so multiple gauge funcs
// evaluated in the same scrape do not repeat the work.
type cachedValue[T any] struct {
	mu       sync.Mutex
	get      func() T
	cached   T
	cachedAt time.Time
}

func newCachedValue[T any](get func() T) *cachedValue[T] {
	return &cachedValue[T]{get: get}
}

func (c *cachedValue[T]) value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.cachedAt) > time.Second {
		c.cached = c.get()
		c.cachedAt = time.Now()
	}
	return c.cached
}

// New creates all Prometheus metrics. The provider funcs are polled on
// scrape; bucket counts are cached for a second per scrape.
func New(
	liveVisitorsFunc func() int,
	bucketCountsFunc func() BucketCounts,
	sseClientCountFunc func() int,
	dbSizeFunc func() int64,
	dbVisitsFunc func() int64,
) *Metrics {
	buckets := newCachedValue(bucketCountsFunc)

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "visitstat",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "visitstat",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		VisitsRecordedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "visitstat",
				Subsystem: "ingest",
				Name:      "visits_total",
				Help:      "Total number of visits recorded",
			},
		),
		VisitsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "visitstat",
				Subsystem: "ingest",
				Name:      "dropped_total",
				Help:      "Visits whose durable append was dropped due to backpressure",
			},
		),
		AppendErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "visitstat",
				Subsystem: "ingest",
				Name:      "append_errors_total",
				Help:      "Durable append failures (in-memory counts unaffected)",
			},
		),
		LiveVisitorsGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "engine",
				Name:      "live_visitors",
				Help:      "Distinct visitors in the default live window",
			},
			func() float64 {
				return float64(liveVisitorsFunc())
			},
		),
		BucketsMinute: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "engine",
				Name:      "buckets_minute",
				Help:      "Retained minute buckets",
			},
			func() float64 {
				return float64(buckets.value().Minutes)
			},
		),
		BucketsHour: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "engine",
				Name:      "buckets_hour",
				Help:      "Retained hour buckets",
			},
			func() float64 {
				return float64(buckets.value().Hours)
			},
		),
		BucketsDay: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "engine",
				Name:      "buckets_day",
				Help:      "Retained day buckets",
			},
			func() float64 {
				return float64(buckets.value().Days)
			},
		),
		SSESubscribersGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "sse",
				Name:      "subscribers",
				Help:      "Current number of SSE subscribers",
			},
			func() float64 {
				return float64(sseClientCountFunc())
			},
		),
		DBSizeBytes: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "db",
				Name:      "size_bytes",
				Help:      "Size of the SQLite database in bytes",
			},
			func() float64 {
				return float64(dbSizeFunc())
			},
		),
		DBVisitsTotal: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "visitstat",
				Subsystem: "db",
				Name:      "visits_total",
				Help:      "Total number of rows in the visits table",
			},
			func() float64 {
				return float64(dbVisitsFunc())
			},
		),
	}

	return m
}

// Register registers all metrics with the default Prometheus registry.
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.VisitsRecordedTotal,
		m.VisitsDroppedTotal,
		m.AppendErrorsTotal,
		m.LiveVisitorsGauge,
		m.BucketsMinute,
		m.BucketsHour,
		m.BucketsDay,
		m.SSESubscribersGauge,
		m.DBSizeBytes,
		m.DBVisitsTotal,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
