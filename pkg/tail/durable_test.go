//go:build linux

package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDurableTailer_ChecksRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")
	writeFile(t, path, "one\ntwo\n")

	dt, err := Open(path, DurableOptions{
		Options:         Options{ReadIntervalMin: 0},
		MinDumpInterval: 0,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	line, ok, err := dt.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(line))

	line, ok, err = dt.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(line))

	require.NoError(t, dt.Close())

	// Reopening must resume after "two", not replay it.
	dt2, err := Open(path, DurableOptions{
		Options:         Options{ReadIntervalMin: 0},
		MinDumpInterval: 0,
	})
	require.NoError(t, err)
	defer dt2.Close()

	writeFile(t, path, "one\ntwo\nthree\n")

	line, ok, err = dt2.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "three", string(line))
}

func TestDurableTailer_CorruptedCheckpointResetsToZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")
	writeFile(t, path, "one\ntwo\n")

	f, err := os.Open(path)
	require.NoError(t, err)
	opts := DurableOptions{}.withDefaults()
	err = unix.Fsetxattr(int(f.Fd()), opts.XattrName, []byte("not-a-valid-checkpoint"), 0)
	_ = f.Close()
	if err != nil {
		t.Skipf("extended attributes unsupported on this filesystem: %v", err)
	}

	dt, err := Open(path, DurableOptions{Options: Options{ReadIntervalMin: 0}, MinDumpInterval: 0})
	require.NoError(t, err)
	defer dt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	line, ok, err := dt.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(line), "a corrupted checkpoint must reset position to 0")
}

func TestDurableTailer_RespectsMinDumpInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")
	writeFile(t, path, "one\ntwo\n")

	dt, err := Open(path, DurableOptions{
		Options:         Options{ReadIntervalMin: 0},
		MinDumpInterval: time.Hour,
	})
	require.NoError(t, err)
	defer dt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The first line is checkpointed at once (no checkpoint written yet);
	// the second falls inside the dump interval.
	_, ok, err := dt.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = dt.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, dt.dirty, "a line within the dump interval should remain pending, not yet flushed")
}
