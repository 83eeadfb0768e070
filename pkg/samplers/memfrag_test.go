//go:build linux

package samplers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemfrag_BuddyinfoAndFirstPagetypeSection(t *testing.T) {
	dir := t.TempDir()
	buddyinfo := filepath.Join(dir, "buddyinfo")
	pagetypeinfo := filepath.Join(dir, "pagetypeinfo")
	writeTestFile(t, buddyinfo, "Node 0, zone   DMA      1      2      0\n")
	writeTestFile(t, pagetypeinfo,
		"Page block order: 9\n"+
			"Pages per block:  512\n\n"+
			"Free pages count per migrate type at order       0      1      2\n"+
			"Node    0, zone      DMA, type    Unmovable      3      0      0\n"+
			"\n"+
			"Number of blocks type     Unmovable  Movable\n"+
			"Node 0, zone      DMA            1        2\n",
	)

	m := &Memfrag{BuddyinfoPath: buddyinfo, PagetypeinfoPath: pagetypeinfo}
	dps, err := m.Read()
	require.NoError(t, err)

	var foundAvailable, foundUnmovable bool
	for _, dp := range dps {
		if dp.Name == "memory.fragmentation.node_0.dma.available.4k" {
			foundAvailable = true
			assert.Equal(t, 1.0, dp.Value)
		}
		if dp.Name == "memory.fragmentation.node_0.dma.unmovable.4k" {
			foundUnmovable = true
			assert.Equal(t, 3.0, dp.Value)
		}
	}
	assert.True(t, foundAvailable)
	assert.True(t, foundUnmovable)
}

func TestMemfrag_AllZeroBlockDropped(t *testing.T) {
	dir := t.TempDir()
	buddyinfo := filepath.Join(dir, "buddyinfo")
	pagetypeinfo := filepath.Join(dir, "pagetypeinfo")
	writeTestFile(t, buddyinfo, "Node 0, zone   DMA      0      0      0\n")
	writeTestFile(t, pagetypeinfo, "Free pages count per migrate type at order       0\nNode 0, zone DMA, type Unmovable 0\n")

	m := &Memfrag{BuddyinfoPath: buddyinfo, PagetypeinfoPath: pagetypeinfo}
	dps, err := m.Read()
	require.NoError(t, err)
	assert.Empty(t, dps)
}
