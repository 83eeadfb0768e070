package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDefault_SeedsCronLogPath(t *testing.T) {
	assert.Equal(t, DefaultCronLogPath, Default().CronJobs.LogPath)
}

func TestLoad_FlagsFileOverridesSelectively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metricsd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[slabinfo]
pass_zeroes = true
exclude_prefixes = ["kmalloc-"]

[cronjobs]
log_path = "/var/log/cron.log"

[[cronjobs.aliases]]
name = "backups"
pattern = "\\bbackup\\b"

[device]
ttl_seconds = 30

[counter_cache]
ttl_seconds = 3600
sweep_divisor = 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.SlabInfo.PassZeroes)
	assert.Equal(t, []string{"kmalloc-"}, cfg.SlabInfo.ExcludePrefixes)
	assert.Equal(t, "/var/log/cron.log", cfg.CronJobs.LogPath)
	require.Len(t, cfg.CronJobs.Aliases, 1)
	assert.Equal(t, "backups", cfg.CronJobs.Aliases[0].Name)
	assert.Equal(t, int64(30), cfg.Device.TTLSeconds)
	assert.Equal(t, int64(3600), cfg.CounterCache.TTLSeconds)
	assert.Equal(t, int64(2), cfg.CounterCache.SweepDivisor)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Device.Globs, cfg.Device.Globs)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_BuildCronAliasesEmptyReturnsNil(t *testing.T) {
	cfg := Default()
	aliases, err := cfg.BuildCronAliases()
	require.NoError(t, err)
	assert.Nil(t, aliases)
}

func TestConfig_BuildCronAliasesCompilesPatterns(t *testing.T) {
	cfg := Default()
	cfg.CronJobs.Aliases = []CronAlias{{Name: "backups", Pattern: `\bbackup\b`}}

	aliases, err := cfg.BuildCronAliases()
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "backups", aliases[0].Name)
	assert.True(t, aliases[0].Regex.MatchString("nightly backup job"))
}

func TestConfig_BuildCronAliasesRejectsBadPattern(t *testing.T) {
	cfg := Default()
	cfg.CronJobs.Aliases = []CronAlias{{Name: "bad", Pattern: `(unterminated`}}

	_, err := cfg.BuildCronAliases()
	assert.Error(t, err)
}
