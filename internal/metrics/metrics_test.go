package metrics

import (
	stderrors "errors"
	"testing"
	"time"

	"botvault/shared/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("write", time.Now(), nil)
	m.Observe("write", time.Now(), nil)
	m.Observe("write", time.Now(), stderrors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("write", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("write", StatusError)))
}

func TestRecordRevisions(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRevisions(
		shared.Revision{Origin: shared.OriginWrite},
		shared.Revision{Origin: shared.OriginRevert},
		shared.Revision{Origin: shared.OriginWrite},
	)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RevisionsTotal.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevisionsTotal.WithLabelValues("revert")))
}

func TestTenantsGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TenantOpened()
	m.TenantOpened()
	m.TenantClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenTenants))
}

func TestRecordRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRequest("GET", 200)
	m.RecordRequest("GET", 404)
	m.RecordRequest("POST", 501)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "5xx")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("read", time.Now(), nil)
		m.RecordRevisions(shared.Revision{Origin: shared.OriginImport})
		m.RecordArchive("export", 10)
		m.TenantOpened()
		m.TenantClosed()
		m.RecordRequest("GET", 200)
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
