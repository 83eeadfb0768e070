//go:build linux

package ratecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Gauge_AlwaysEmits(t *testing.T) {
	c := New(0, 0)
	name, value, ts, ok := c.Resolve(Datapoint{Name: "mem.free", Kind: Gauge, Value: 42}, 100)
	require.True(t, ok)
	assert.Equal(t, "mem.free", name)
	assert.Equal(t, 42.0, value)
	assert.Equal(t, int64(100), ts)
}

func TestCache_Counter_FirstObservationEmitsNothing(t *testing.T) {
	c := New(0, 0)
	_, _, _, ok := c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 100}, 10)
	assert.False(t, ok, "first observation of a counter must not emit")
	assert.Equal(t, 1, c.Len())
}

func TestCache_Counter_Rate(t *testing.T) {
	c := New(0, 0)
	_, _, _, ok := c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 100}, 10)
	require.False(t, ok)

	name, value, ts, ok := c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 400}, 11)
	require.True(t, ok)
	assert.Equal(t, "cpu", name)
	assert.Equal(t, 300.0, value)
	assert.Equal(t, int64(11), ts)
}

func TestCache_Counter_OverflowEmitsNothingButUpdatesState(t *testing.T) {
	c := New(0, 0)
	_, _, _, _ = c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 100}, 10)

	_, _, _, ok := c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 50}, 11)
	assert.False(t, ok, "negative delta must not emit")

	// Per the documented invariant the entry is still updated to (50, 11):
	// the following observation's delta is measured from there, not from
	// the pre-overflow value.
	name, value, ts, ok := c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 150}, 12)
	require.True(t, ok)
	assert.Equal(t, "cpu", name)
	assert.Equal(t, 100.0, value)
	assert.Equal(t, int64(12), ts)
}

func TestCache_Datapoint_TsOverridesFallback(t *testing.T) {
	c := New(0, 0)
	name, value, ts, ok := c.Resolve(Datapoint{Name: "mem.free", Kind: Gauge, Value: 1, Ts: 555}, 100)
	require.True(t, ok)
	assert.Equal(t, "mem.free", name)
	assert.Equal(t, 1.0, value)
	assert.Equal(t, int64(555), ts, "an explicit datapoint ts must win over the fallback")
}

func TestCache_UnknownKind_Panics(t *testing.T) {
	c := New(0, 0)
	assert.Panics(t, func() {
		c.Resolve(Datapoint{Name: "bogus", Kind: Kind(99), Value: 1}, 1)
	})
}

func TestCache_EvictionThresholds(t *testing.T) {
	const ttl = int64(100)
	c := New(ttl, 4) // sweep at most once per ttl/4 = 25s

	// Seed an entry at ts=0.
	_, _, _, _ = c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 1}, 0)
	require.Equal(t, 1, c.Len())

	// A tick well inside the TTL window must not evict, regardless of how
	// many opportunistic sweeps run.
	_, _, _, _ = c.Resolve(Datapoint{Name: "other", Kind: Gauge, Value: 1}, 50)
	assert.Equal(t, 2, c.Len(), "entry within ttl must survive a sweep")

	// nowTs - ttl > last_ts is the documented eviction condition: at
	// nowTs=201, 201-100=101 > 0, so the idle "cpu" entry must be gone.
	// "other" was refreshed at ts=50, so 101 > 50 evicts it too.
	_, _, _, _ = c.Resolve(Datapoint{Name: "trigger", Kind: Gauge, Value: 1}, 201)
	assert.Equal(t, 1, c.Len(), "only the freshly-observed trigger entry should remain")
}

func TestCache_SweepRunsAtMostOncePerTtlOverDivisor(t *testing.T) {
	const ttl = int64(100)
	c := New(ttl, 4)

	_, _, _, _ = c.Resolve(Datapoint{Name: "cpu", Kind: Counter, Value: 1}, 0)
	// First sweep happens at ts=0 (nextSweepTs starts at zero), scheduling
	// the next one at ts=25. A call at ts=10 must not evict "cpu" even if
	// it were old enough, because no sweep runs before ts=25.
	_, _, _, _ = c.Resolve(Datapoint{Name: "fresh", Kind: Gauge, Value: 1}, 10)
	assert.Equal(t, 2, c.Len())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "gauge", Gauge.String())
	assert.Equal(t, "counter", Counter.String())
}
