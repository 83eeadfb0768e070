package selfmetrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveTickAndSamplerError(t *testing.T) {
	c := New(0.5, nil)
	c.ObserveTick(100 * time.Millisecond)
	c.ObserveSamplerError("slabinfo")
	c.ObserveSamplerError("slabinfo")
	c.ObserveReconnect()
	c.ObserveWriteFailure()

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	out, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Greater(t, out, 0)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	var sawSamplerErr, sawTicks bool
	for _, mf := range metrics {
		if mf.GetName() == "metricsd_sampler_errors_total" {
			sawSamplerErr = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
		if mf.GetName() == "metricsd_ticks_total" {
			sawTicks = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, sawSamplerErr)
	assert.True(t, sawTicks)
}

func TestCollector_NoHealthFuncOmitsTCPInfoMetrics(t *testing.T) {
	c := New(0.5, nil)
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	metrics, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		assert.False(t, strings.Contains(mf.GetName(), "rtt"))
	}
}

func TestCollector_HealthFuncErrorSkipsTCPInfoMetricsForThatScrape(t *testing.T) {
	c := New(0.5, func() (uint32, uint32, error) {
		return 0, 0, assertErr{}
	})
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	metrics, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		assert.NotEqual(t, "metricsd_carbon_rtt_microseconds", mf.GetName())
	}
}

func TestCollector_HealthFuncSuccessEmitsTCPInfoMetrics(t *testing.T) {
	c := New(0.5, func() (uint32, uint32, error) {
		return 1500, 3, nil
	})
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	metrics, err := registry.Gather()
	require.NoError(t, err)
	var sawRTT bool
	for _, mf := range metrics {
		if mf.GetName() == "metricsd_carbon_rtt_microseconds" {
			sawRTT = true
			assert.Equal(t, 1500.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, sawRTT)
}

type assertErr struct{}

func (assertErr) Error() string { return "tcp_info failed" }
