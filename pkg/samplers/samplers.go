//go:build linux

// Package samplers implements the host-wide kernel samplers: slab
// allocator usage, memory/vmstat/meminfo gauges, /proc/stat counters, page
// fragmentation, IRQ distribution, and cron job lifecycle events parsed
// from a durably-tailed log.
package samplers

import "github.com/arjunpillai/metricsd/pkg/ratecache"

// Sampler is implemented by every host-wide collector. Read is invoked
// once per driver tick; implementations must not block on anything beyond
// reading small pseudo-files (CronJobs is the one exception, backed by a
// non-blocking durable tailer).
type Sampler interface {
	Name() string
	Read() ([]ratecache.Datapoint, error)
}
