package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordMatch("AMBULANCE", "available")
	m.RecordMatch("AMBULANCE", "available")
	m.RecordRoute("synthetic")
	m.RecordStep("EN_ROUTE")
	m.ObserveRouteLatency(0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.matches.WithLabelValues("AMBULANCE", "available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routes.WithLabelValues("synthetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("EN_ROUTE")))
}

func TestMetricsReuseRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.RecordRoute("external")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.routes.WithLabelValues("external")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMatch("FIRE", "none")
		m.RecordRoute("cache")
		m.RecordStep("ARRIVED")
		m.ObserveRouteLatency(1)
	})
}
