package daemon

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the daemon's Prometheus registry. Request metrics are
// recorded by the API middleware; persistence and storage figures are read
// from the Store Context at scrape time.
type metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventClients    prometheus.Gauge
}

func newMetrics(d *Daemon) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowscribe_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowscribe_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		eventClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowscribe_event_stream_clients",
			Help: "Connected event stream clients",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.eventClients, &storeCollector{d: d})
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records the outcome of every request served by next.
func (m *metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

var (
	descJobsIssued = prometheus.NewDesc("flowscribe_persist_jobs_issued_total",
		"Serialization jobs issued, including sync flushes", nil, nil)
	descWrites = prometheus.NewDesc("flowscribe_persist_writes_total",
		"Successful storage writes", nil, nil)
	descStale = prometheus.NewDesc("flowscribe_persist_stale_discarded_total",
		"Serialized payloads discarded because a newer job superseded them", nil, nil)
	descQuota = prometheus.NewDesc("flowscribe_persist_quota_failures_total",
		"Writes rejected because storage was full", nil, nil)
	descWriteErrors = prometheus.NewDesc("flowscribe_persist_write_errors_total",
		"Writes that failed for reasons other than quota", nil, nil)
	descFallbacks = prometheus.NewDesc("flowscribe_persist_fallback_runs_total",
		"Serializations run on the caller side instead of the worker", nil, nil)
	descSyncFlushes = prometheus.NewDesc("flowscribe_persist_sync_flushes_total",
		"Synchronous flushes that wrote a payload", nil, nil)
	descPending = prometheus.NewDesc("flowscribe_persist_pending",
		"1 when state is waiting to be written", nil, nil)
	descWorker = prometheus.NewDesc("flowscribe_persist_worker_active",
		"1 when the serialization worker is running", nil, nil)
	descSessions = prometheus.NewDesc("flowscribe_sessions_cached",
		"Sessions held in the cache", nil, nil)
	descUsed = prometheus.NewDesc("flowscribe_storage_used_bytes",
		"Bytes used by persisted session state", nil, nil)
	descQuotaBytes = prometheus.NewDesc("flowscribe_storage_quota_bytes",
		"Configured storage quota, 0 when unlimited", nil, nil)
)

type storeCollector struct {
	d *Daemon
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		descJobsIssued, descWrites, descStale, descQuota, descWriteErrors, descFallbacks,
		descSyncFlushes, descPending, descWorker, descSessions, descUsed, descQuotaBytes,
	} {
		ch <- desc
	}
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := c.d.Status(ctx)
	stats := status.Persist

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	counter(descJobsIssued, stats.JobsIssued)
	counter(descWrites, stats.Writes)
	counter(descStale, stats.StaleDiscarded)
	counter(descQuota, stats.QuotaFailures)
	counter(descWriteErrors, stats.WriteErrors)
	counter(descFallbacks, stats.FallbackRuns)
	counter(descSyncFlushes, stats.SyncFlushes)
	gauge(descPending, boolGauge(stats.Pending))
	gauge(descWorker, boolGauge(stats.WorkerActive))
	gauge(descSessions, float64(status.SessionCount))
	gauge(descUsed, float64(status.UsedBytes))
	gauge(descQuotaBytes, float64(status.QuotaBytes))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
