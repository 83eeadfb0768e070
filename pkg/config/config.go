// Package config loads an optional TOML file seeding the daemon's
// rarely-changed sampler tunables. CLI flags remain authoritative; where a
// flag and a config value overlap, the flag wins.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arjunpillai/metricsd/pkg/device"
	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/samplers"
)

// SlabInfo mirrors samplers.SlabInfo's tunables.
type SlabInfo struct {
	IncludePrefixes []string `toml:"include_prefixes"`
	ExcludePrefixes []string `toml:"exclude_prefixes"`
	PassZeroes      bool     `toml:"pass_zeroes"`
}

// CronAlias is one entry of a user-supplied alias table override.
type CronAlias struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

// CronJobs mirrors samplers.CronJobs' tunables.
type CronJobs struct {
	LogPath string      `toml:"log_path"`
	Aliases []CronAlias `toml:"aliases"`
}

// Device mirrors pkg/device's tunables.
type Device struct {
	Globs      []string `toml:"globs"`
	TTLSeconds int64    `toml:"ttl_seconds"`
}

// CounterCache mirrors pkg/ratecache's tunables.
type CounterCache struct {
	TTLSeconds   int64 `toml:"ttl_seconds"`
	SweepDivisor int64 `toml:"sweep_divisor"`
}

// Config is the full set of sampler tunables loadable from TOML.
type Config struct {
	SlabInfo     SlabInfo     `toml:"slabinfo"`
	CronJobs     CronJobs     `toml:"cronjobs"`
	Device       Device       `toml:"device"`
	CounterCache CounterCache `toml:"counter_cache"`
}

// DefaultCronLogPath is the cron log the daemon tails when no --config
// overrides it.
const DefaultCronLogPath = "/var/log/processing/cron.log"

// Default returns a Config seeded with the same defaults each component
// uses when left zero-valued.
func Default() Config {
	return Config{
		SlabInfo: SlabInfo{
			ExcludePrefixes: append([]string(nil), samplers.DefaultSlabExcludePrefixes...),
		},
		CronJobs: CronJobs{
			LogPath: DefaultCronLogPath,
		},
		Device: Device{
			Globs:      append([]string(nil), device.DefaultGlobs...),
			TTLSeconds: int64(device.DefaultTTL / time.Second),
		},
		CounterCache: CounterCache{
			TTLSeconds:   ratecache.DefaultTTL,
			SweepDivisor: ratecache.DefaultSweepDivisor,
		},
	}
}

// Load reads path as TOML into a Config seeded with Default(). An empty
// path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// BuildCronAliases compiles the config's alias table into
// samplers.CronAlias entries, or returns nil if none were configured (the
// caller should then fall back to samplers.DefaultCronAliases).
func (c Config) BuildCronAliases() ([]samplers.CronAlias, error) {
	if len(c.CronJobs.Aliases) == 0 {
		return nil, nil
	}
	out := make([]samplers.CronAlias, 0, len(c.CronJobs.Aliases))
	for _, a := range c.CronJobs.Aliases {
		alias, err := samplers.NewCronAlias(a.Name, a.Pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, alias)
	}
	return out, nil
}
