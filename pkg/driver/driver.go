// Package driver runs the fixed-interval sampling-and-shipping loop.
package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/arjunpillai/metricsd/pkg/carbon"
	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/samplers"
)

// Recorder receives tick-level observability events. pkg/selfmetrics'
// Collector satisfies this structurally; Options.Metrics is nil-able so the
// driver works without a self-metrics endpoint wired up.
type Recorder interface {
	ObserveTick(duration time.Duration)
	ObserveSamplerError(sampler string)
}

// Options configures a Driver.
type Options struct {
	Interval time.Duration
	DryRun   bool
	Logger   *slog.Logger
	Metrics  Recorder
}

// Driver owns the tick loop: before each tick it reads every registered
// sampler in registration order, ships the concatenated result, then sleeps
// until the next multiple of Interval after the previous scheduled tick —
// skipping any ticks missed while reading or shipping ran long.
type Driver struct {
	samplers []samplers.Sampler
	cache    *ratecache.Cache
	shipper  *carbon.Shipper
	opts     Options
}

func New(cache *ratecache.Cache, shipper *carbon.Shipper, opts Options, samplerList ...samplers.Sampler) *Driver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	opts.Logger = log
	return &Driver{samplers: samplerList, cache: cache, shipper: shipper, opts: opts}
}

// Run blocks until ctx is cancelled or a non-recoverable shipping error
// occurs (e.g. the carbon shipper's reconnect budget is exhausted).
func (d *Driver) Run(ctx context.Context) error {
	if d.opts.Interval <= 0 {
		return ErrBadInterval
	}
	intervalSec := int64(d.opts.Interval / time.Second)
	if intervalSec <= 0 {
		intervalSec = 1
	}

	ts := time.Now().Unix()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tickStart := time.Now()
		id := xid.New()
		var data []ratecache.Datapoint
		for _, s := range d.samplers {
			dps, err := s.Read()
			if err != nil {
				d.opts.Logger.Warn("sampler error", "tick", id.String(), "sampler", s.Name(), "err", err)
				if d.opts.Metrics != nil {
					d.opts.Metrics.ObserveSamplerError(s.Name())
				}
				continue
			}
			data = append(data, dps...)
		}

		tsNow := time.Now().Unix()
		d.opts.Logger.Debug("tick", "id", id.String(), "datapoints", len(data), "dry_run", d.opts.DryRun)

		if !d.opts.DryRun {
			if err := d.shipper.Send(ctx, d.cache, tsNow, data); err != nil {
				d.opts.Logger.Error("carbon send failed", "tick", id.String(), "err", err)
				return err
			}
		}

		if d.opts.Metrics != nil {
			d.opts.Metrics.ObserveTick(time.Since(tickStart))
		}

		for ts <= tsNow {
			ts += intervalSec
		}
		sleepFor := time.Duration(ts-time.Now().Unix()) * time.Second
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
	}
}
