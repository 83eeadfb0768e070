//go:build linux

package samplers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabInfo_ParsesAndFiltersDefaultExcludes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slabinfo")
	writeTestFile(t, path,
		"slabinfo - version: 2.1\n"+
			"# name            <active_objs> <num_objs> <objsize> <objperslab> <pagesperslab> : tunables <limit> <batchcount> <sharedfactor> : slabdata <active_slabs> <num_slabs> <sharedavail>\n"+
			"kmalloc-64            10     20      64            64             1 : tunables  120   60    8 : slabdata      1      1      0\n"+
			"my_cache               5     10     128             32            1 : tunables   54   27    8 : slabdata      2      2      0\n",
	)

	s := &SlabInfo{Path: path}
	dps, err := s.Read()
	require.NoError(t, err)

	var names []string
	for _, dp := range dps {
		names = append(names, dp.Name)
	}
	for _, n := range names {
		assert.NotContains(t, n, "kmalloc-64", "default exclude prefixes must drop kmalloc- rows")
	}
	assert.Contains(t, names, "memory.slabs.my_cache.bytes_obj_active")
}

func TestSlabInfo_HeaderMismatchDisablesSampler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slabinfo")
	writeTestFile(t, path, "slabinfo - version: 2.1\nnot a valid header at all\n")

	s := &SlabInfo{Path: path}
	dps, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, dps)
}

func TestSlabInfo_DropsAllZeroRowsUnlessPassZeroes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slabinfo")
	writeTestFile(t, path,
		"slabinfo - version: 2.1\n"+
			"# name            <active_objs> <num_objs> <objsize> <objperslab> <pagesperslab> : tunables <limit> <batchcount> <sharedfactor> : slabdata <active_slabs> <num_slabs> <sharedavail>\n"+
			"zeroed_cache          0      0      0             0             1 : tunables   0   0    0 : slabdata      0      0      0\n",
	)

	s := &SlabInfo{Path: path}
	dps, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, dps)

	s2 := &SlabInfo{Path: path, PassZeroes: true}
	dps, err = s2.Read()
	require.NoError(t, err)
	assert.NotEmpty(t, dps)
}
