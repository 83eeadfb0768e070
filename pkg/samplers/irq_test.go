//go:build linux

package samplers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRQ_EmitsPerCPUCountersAndSkipsAllZeroRows(t *testing.T) {
	dir := t.TempDir()
	interrupts := filepath.Join(dir, "interrupts")
	softirqs := filepath.Join(dir, "softirqs")
	writeTestFile(t, interrupts, "           CPU0       CPU1\n  0:        100         50   IO-APIC   timer\n  1:          0          0   IO-APIC   x\n")
	writeTestFile(t, softirqs, "           CPU0       CPU1\n  TIMER:        10         20\n")

	i := &IRQ{InterruptsPath: interrupts, SoftirqsPath: softirqs}
	dps, err := i.Read()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, dp := range dps {
		byName[dp.Name] = dp.Value
	}
	assert.Equal(t, 100.0, byName["irq.0.cpu0"])
	assert.Equal(t, 50.0, byName["irq.0.cpu1"])
	assert.NotContains(t, byName, "irq.1.cpu0", "all-zero irq row must be skipped")
	assert.Equal(t, 10.0, byName["irq.timer.cpu0"])
}

func TestIRQ_DuplicateIRQIdSkipsSecondOccurrence(t *testing.T) {
	dir := t.TempDir()
	interrupts := filepath.Join(dir, "interrupts")
	softirqs := filepath.Join(dir, "softirqs")
	writeTestFile(t, interrupts, "           CPU0\n  0:        10   IO-APIC   timer\n  0:        99   IO-APIC   dup\n")
	writeTestFile(t, softirqs, "           CPU0\n")

	i := &IRQ{InterruptsPath: interrupts, SoftirqsPath: softirqs}
	dps, err := i.Read()
	require.NoError(t, err)

	for _, dp := range dps {
		assert.NotEqual(t, 99.0, dp.Value, "the second occurrence of a duplicate irq id must be skipped")
	}
}
