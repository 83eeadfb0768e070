// Package selfmetrics exposes the daemon's own operability counters — ticks
// run, sampler errors, shipper reconnects, carbon write failures, an
// EMA-smoothed tick duration, and (on Linux) the shipper's live TCP_INFO —
// as a Prometheus collector.
package selfmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arjunpillai/metricsd/pkg/system/util"
)

// HealthFunc reads the carbon shipper's current connection health. It is
// optional: a nil HealthFunc just omits the TCP_INFO gauges from Collect.
type HealthFunc func() (rttMicros, totalRetrans uint32, err error)

// Collector is a custom prometheus.Collector (pull-based, like
// runZeroInc-sockstats' TCPInfoCollector): counters accumulate via the
// Observe* methods as the driver runs, and Collect renders a snapshot plus,
// if HealthFunc is set, a live read of the shipper's socket on every scrape.
type Collector struct {
	mu sync.Mutex

	ticks         uint64
	samplerErrors map[string]uint64
	reconnects    uint64
	writeFailures uint64
	tickEMA       *util.EMA
	lastTickSec   float64

	health HealthFunc

	ticksDesc         *prometheus.Desc
	samplerErrDesc    *prometheus.Desc
	reconnectsDesc    *prometheus.Desc
	writeFailuresDesc *prometheus.Desc
	tickDurationDesc  *prometheus.Desc
	rttDesc           *prometheus.Desc
	retransDesc       *prometheus.Desc
}

// New builds a Collector. alpha is the EMA smoothing factor for tick
// duration (pkg/system/util.EMA); health may be nil.
func New(alpha float64, health HealthFunc) *Collector {
	return &Collector{
		samplerErrors: make(map[string]uint64),
		tickEMA:       util.NewEMA(alpha),
		health:        health,

		ticksDesc: prometheus.NewDesc(
			"metricsd_ticks_total", "Number of scheduler ticks run.", nil, nil),
		samplerErrDesc: prometheus.NewDesc(
			"metricsd_sampler_errors_total", "Sampler read errors by sampler name.", []string{"sampler"}, nil),
		reconnectsDesc: prometheus.NewDesc(
			"metricsd_carbon_reconnects_total", "Carbon shipper reconnects.", nil, nil),
		writeFailuresDesc: prometheus.NewDesc(
			"metricsd_carbon_write_failures_total", "Carbon shipper write failures.", nil, nil),
		tickDurationDesc: prometheus.NewDesc(
			"metricsd_tick_duration_seconds_ema", "EMA-smoothed tick duration in seconds.", nil, nil),
		rttDesc: prometheus.NewDesc(
			"metricsd_carbon_rtt_microseconds", "Carbon TCP connection smoothed RTT.", nil, nil),
		retransDesc: prometheus.NewDesc(
			"metricsd_carbon_retransmits_total", "Carbon TCP connection total retransmits.", nil, nil),
	}
}

// ObserveTick records one completed scheduler tick and folds its duration
// into the EMA.
func (c *Collector) ObserveTick(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	c.lastTickSec = c.tickEMA.Next(d.Seconds())
}

// ObserveSamplerError records a failed sampler.Read() call.
func (c *Collector) ObserveSamplerError(sampler string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samplerErrors[sampler]++
}

// ObserveReconnect records a successful carbon reconnect.
func (c *Collector) ObserveReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// ObserveWriteFailure records a failed carbon socket write.
func (c *Collector) ObserveWriteFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeFailures++
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticksDesc
	ch <- c.samplerErrDesc
	ch <- c.reconnectsDesc
	ch <- c.writeFailuresDesc
	ch <- c.tickDurationDesc
	if c.health != nil {
		ch <- c.rttDesc
		ch <- c.retransDesc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	ticks := c.ticks
	errs := make(map[string]uint64, len(c.samplerErrors))
	for k, v := range c.samplerErrors {
		errs[k] = v
	}
	reconnects := c.reconnects
	writeFailures := c.writeFailures
	tickSec := c.lastTickSec
	health := c.health
	c.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.ticksDesc, prometheus.CounterValue, float64(ticks))
	for sampler, n := range errs {
		ch <- prometheus.MustNewConstMetric(c.samplerErrDesc, prometheus.CounterValue, float64(n), sampler)
	}
	ch <- prometheus.MustNewConstMetric(c.reconnectsDesc, prometheus.CounterValue, float64(reconnects))
	ch <- prometheus.MustNewConstMetric(c.writeFailuresDesc, prometheus.CounterValue, float64(writeFailures))
	ch <- prometheus.MustNewConstMetric(c.tickDurationDesc, prometheus.GaugeValue, tickSec)

	if health == nil {
		return
	}
	rtt, retrans, err := health()
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, float64(rtt))
	ch <- prometheus.MustNewConstMetric(c.retransDesc, prometheus.CounterValue, float64(retrans))
}
