// Package metrics provides Prometheus metrics for the tenant store.
package metrics

import (
	"time"

	"botvault/shared/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all store metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RevisionsTotal    *prometheus.CounterVec
	ArchiveBytes      *prometheus.HistogramVec
	OpenTenants       prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the store metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botvault_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botvault_operation_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		RevisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botvault_revisions_total",
				Help: "Total number of revisions appended",
			},
			[]string{"origin"},
		),
		ArchiveBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botvault_archive_bytes",
				Help:    "Size of exported and imported archives in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"direction"},
		),
		OpenTenants: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "botvault_open_tenants",
				Help: "Number of tenant workspaces currently open",
			},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botvault_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "code"},
		),
	}
}

// Observe records the outcome of one operation started at start.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordRevisions counts revs by origin.
func (m *Metrics) RecordRevisions(revs ...shared.Revision) {
	if m == nil {
		return
	}
	for _, rev := range revs {
		m.RevisionsTotal.WithLabelValues(string(rev.Origin)).Inc()
	}
}

// RecordArchive records the size of an archive; direction is "export"
// or "import".
func (m *Metrics) RecordArchive(direction string, size int) {
	if m == nil {
		return
	}
	m.ArchiveBytes.WithLabelValues(direction).Observe(float64(size))
}

func (m *Metrics) TenantOpened() {
	if m != nil {
		m.OpenTenants.Inc()
	}
}

func (m *Metrics) TenantClosed() {
	if m != nil {
		m.OpenTenants.Dec()
	}
}

// RecordRequest counts one HTTP response.
func (m *Metrics) RecordRequest(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, statusClass(code)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
