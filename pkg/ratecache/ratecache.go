//go:build linux

// Package ratecache implements the uniform sample record (Datapoint) and the
// counter-to-rate conversion (Cache) shared by every sampler. Centralizing
// the conversion here keeps samplers stateless and guarantees identical
// overflow/eviction semantics for every counter source in the daemon.
package ratecache

import (
	"fmt"
	"sync"

	"github.com/arjunpillai/metricsd/pkg/system/util"
)

// Kind distinguishes a gauge (reported as-is) from a counter (converted to a
// per-second rate against the previous observation).
type Kind int

const (
	Gauge Kind = iota
	Counter
)

func (k Kind) String() string {
	if k == Counter {
		return "counter"
	}
	return "gauge"
}

// Datapoint is an immutable value record produced by a sampler and consumed
// by the shipper via the Cache. Name is a dotted metric path; Ts is an
// optional Unix-epoch-seconds override — zero means "unset, use the
// fallback timestamp supplied to Resolve".
type Datapoint struct {
	Name  string
	Kind  Kind
	Value float64
	Ts    int64
}

// entry is the last-observed (raw value, timestamp) pair for one counter
// name.
type entry struct {
	value float64
	ts    int64
}

// Cache converts counter Datapoints into per-second rates, tracking one
// entry per counter name. It is safe for concurrent use: the cache is
// process-wide and shared across every sampler in a tick.
//
// Eviction is opportunistic, not LRU: Resolve triggers a sweep at most once
// per ttl/sweepDivisor, and during a sweep removes every entry whose
// (nowTs - ttl) > entry.ts. This matches the upstream collector's behavior
// exactly, including the somewhat unusual comparison direction.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]entry
	ttl          int64
	sweepDivisor int64
	nextSweepTs  int64 // zero-valued: the first Resolve runs a sweep
}

const (
	// DefaultTTL is the default counter_cache_ttl: entries idle longer than
	// this are evicted.
	DefaultTTL int64 = 12 * 60 * 60
	// DefaultSweepDivisor is the default counter_cache_sweep_divisor: a
	// sweep runs at most once per DefaultTTL/DefaultSweepDivisor.
	DefaultSweepDivisor int64 = 4
)

// New builds a Cache with the given ttl (seconds) and sweep divisor. A
// zero or negative ttl or divisor falls back to the package defaults.
func New(ttlSeconds, sweepDivisor int64) *Cache {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTL
	}
	if sweepDivisor <= 0 {
		sweepDivisor = DefaultSweepDivisor
	}
	return &Cache{
		entries:      make(map[string]entry),
		ttl:          ttlSeconds,
		sweepDivisor: sweepDivisor,
	}
}

// Resolve converts dp into a shipped (name, value, ts) tuple, or reports
// ok=false when nothing should be emitted this tick: a counter's first
// observation, or a detected counter reset/overflow (negative delta).
//
// ts = dp.Ts if set, else fallbackTs. fallbackTs is the driver's current
// tick time; it also drives the opportunistic eviction sweep, since a
// per-datapoint Ts override should not perturb global cache housekeeping.
func (c *Cache) Resolve(dp Datapoint, fallbackTs int64) (name string, value float64, ts int64, ok bool) {
	ts = dp.Ts
	if ts == 0 {
		ts = fallbackTs
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeSweepLocked(fallbackTs)

	switch dp.Kind {
	case Gauge:
		return dp.Name, dp.Value, ts, true
	case Counter:
		prev, seen := c.entries[dp.Name]
		c.entries[dp.Name] = entry{value: dp.Value, ts: ts}
		if !seen {
			return "", 0, 0, false
		}
		dt := ts - prev.ts
		rate := util.SafeDiv(dp.Value-prev.value, float64(dt))
		if rate < 0 {
			return "", 0, 0, false
		}
		return dp.Name, rate, ts, true
	default:
		panic(fmt.Sprintf("ratecache: unknown kind %v for %q", dp.Kind, dp.Name))
	}
}

// maybeSweepLocked runs the eviction sweep when nowTs has passed the next
// scheduled sweep time, then schedules the next one. Callers must hold mu.
func (c *Cache) maybeSweepLocked(nowTs int64) {
	if nowTs < c.nextSweepTs {
		return
	}
	for name, e := range c.entries {
		if nowTs-c.ttl > e.ts {
			delete(c.entries, name)
		}
	}
	c.nextSweepTs = nowTs + c.ttl/c.sweepDivisor
}

// Len reports the current number of tracked counter entries. Intended for
// tests and self-metrics, not for control flow.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
