//go:build linux

package samplers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

func TestStats_EmitsKnownCountersOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stat")
	writeTestFile(t, path, "cpu  100 200 300\nintr 555 0 0\nsoftirq 222 0\nprocesses 77\nctxt 999\n")

	s := &Stats{Path: path}
	dps, err := s.Read()
	require.NoError(t, err)

	byName := map[string]ratecache.Datapoint{}
	for _, dp := range dps {
		byName[dp.Name] = dp
	}
	assert.Equal(t, 555.0, byName["irq.total.hard"].Value)
	assert.Equal(t, 222.0, byName["irq.total.soft"].Value)
	assert.Equal(t, 77.0, byName["processes.forks"].Value)
	assert.Equal(t, ratecache.Counter, byName["irq.total.hard"].Kind)
	assert.Len(t, dps, 3, "cpu and ctxt lines must not produce datapoints")
}
