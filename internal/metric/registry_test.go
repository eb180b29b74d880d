package metric

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
)

func TestCoreMetricsCount(t *testing.T) {
	r := NewMetricsRegistry()
	r.Core().BytesPut.WithLabelValues("fox").Add(3000)
	assert.Equal(t, 3000.0, testutil.ToFloat64(r.Core().BytesPut.WithLabelValues("fox")))
}

func TestNilRegistryCore(t *testing.T) {
	var r *MetricsRegistry
	assert.Nil(t, r.Core())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewMetricsRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "x"})
	require.NoError(t, r.Register("svc", "extra", c))

	err := r.Register("svc", "extra", c)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("svc", "extra"))
	assert.False(t, r.Unregister("svc", "extra"))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	r.Core().PutsTotal.WithLabelValues("fox").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ringbus_ring_puts_total{ring="fox"} 1`))
}
