package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetricsRegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.MessagesProcessed.WithLabelValues("a@x.com").Inc()
	m.Classifications.WithLabelValues("Interested").Add(2)
	m.ActiveSessions.Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesProcessed.WithLabelValues("a@x.com")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Classifications.WithLabelValues("Interested")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
