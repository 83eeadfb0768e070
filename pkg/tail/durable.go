//go:build linux

package tail

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultXattrName is the extended attribute the durable tailer persists
// its checkpoint under.
const DefaultXattrName = "user.collectd.logtail.pos"

// checkpointSize is len(pos uint64) + len(hashedLen uint32) + sha1 digest:
// 8 + 4 + 20 = 32 bytes.
const checkpointSize = 8 + 4 + sha1.Size

// checkpoint is the packed record persisted in the xattr: the byte offset
// the next read should resume at, the length of the last yielded line (used
// to locate the hashed span on reopen), and the SHA-1 of that line.
type checkpoint struct {
	pos       uint64
	hashedLen uint32
	sha1      [sha1.Size]byte
}

func (c checkpoint) marshal() []byte {
	buf := make([]byte, checkpointSize)
	binary.BigEndian.PutUint64(buf[0:8], c.pos)
	binary.BigEndian.PutUint32(buf[8:12], c.hashedLen)
	copy(buf[12:], c.sha1[:])
	return buf
}

func unmarshalCheckpoint(buf []byte) (checkpoint, error) {
	if len(buf) != checkpointSize {
		return checkpoint{}, fmt.Errorf("tail: checkpoint has %d bytes, want %d", len(buf), checkpointSize)
	}
	var c checkpoint
	c.pos = binary.BigEndian.Uint64(buf[0:8])
	c.hashedLen = binary.BigEndian.Uint32(buf[8:12])
	copy(c.sha1[:], buf[12:])
	return c, nil
}

// DurableOptions configures a DurableTailer.
type DurableOptions struct {
	Options
	// XattrName overrides DefaultXattrName.
	XattrName string
	// MinDumpInterval is the minimum time between checkpoint writes.
	MinDumpInterval time.Duration
	Logger          *slog.Logger
}

func (o DurableOptions) withDefaults() DurableOptions {
	o.Options = o.Options.withDefaults()
	if o.XattrName == "" {
		o.XattrName = DefaultXattrName
	}
	if o.MinDumpInterval <= 0 {
		o.MinDumpInterval = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DurableTailer wraps a Tailer, persisting its read position across
// restarts in a file extended attribute validated by a trailing-bytes
// SHA-1 hash.
type DurableTailer struct {
	t    *Tailer
	opts DurableOptions

	lastDump   time.Time
	dirty      bool
	lastLine   []byte
	lastOffset int64
}

// Open starts a DurableTailer on path. It always opens at the checkpointed
// position when one validates; Options.OpenTail only applies when no valid
// checkpoint is found.
func Open(path string, opts DurableOptions) (*DurableTailer, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tail: open %s: %w", path, err)
	}

	pos, ok := restoreCheckpoint(f, opts)
	tailOpts := opts.Options
	if ok {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			opts.Logger.Warn("tail: seek to checkpoint failed, resetting to 0", "path", path, "err", err)
			ok = false
		}
	}
	if !ok {
		// No valid checkpoint: fall back to Options.OpenTail like a plain
		// Tailer would. NewFromFile always opens at the handle's current
		// position, so seek explicitly to 0 or EOF here.
		var seekErr error
		if tailOpts.OpenTail {
			_, seekErr = f.Seek(0, io.SeekEnd)
		} else {
			_, seekErr = f.Seek(0, io.SeekStart)
		}
		if seekErr != nil {
			_ = f.Close()
			return nil, fmt.Errorf("tail: seek on %s: %w", path, seekErr)
		}
		tailOpts.OpenTail = false // position already decided above
	}

	inner, err := NewFromFile(path, f, tailOpts)
	if err != nil {
		return nil, err
	}
	return &DurableTailer{t: inner, opts: opts}, nil
}

// restoreCheckpoint reads and validates the xattr checkpoint against the
// currently-open file. A missing or unreadable xattr reports ok=false
// without logging; a malformed checkpoint, a failed read of the hashed span
// or a hash mismatch is logged and reports ok=false. ok=false means the
// caller should not trust any stored position.
func restoreCheckpoint(f *os.File, opts DurableOptions) (pos int64, ok bool) {
	buf := make([]byte, checkpointSize)
	n, err := unix.Fgetxattr(int(f.Fd()), opts.XattrName, buf)
	if err != nil {
		return 0, false
	}
	cp, err := unmarshalCheckpoint(buf[:n])
	if err != nil {
		opts.Logger.Warn("tail: malformed checkpoint, resetting to 0", "err", err)
		return 0, false
	}
	if cp.hashedLen == 0 {
		return int64(cp.pos), true
	}

	start := int64(cp.pos) - int64(cp.hashedLen)
	if start < 0 {
		opts.Logger.Warn("tail: checkpoint offset precedes hashed span, resetting to 0")
		return 0, false
	}
	span := make([]byte, cp.hashedLen)
	if _, err := f.ReadAt(span, start); err != nil {
		opts.Logger.Warn("tail: checkpoint read failed, resetting to 0", "err", err)
		return 0, false
	}
	sum := sha1.Sum(span)
	if sum != cp.sha1 {
		opts.Logger.Warn("tail: checkpoint hash mismatch, resetting to 0")
		return 0, false
	}
	return int64(cp.pos), true
}

// Next returns the next complete line, transparently persisting a
// checkpoint no more often than MinDumpInterval.
func (d *DurableTailer) Next(ctx context.Context) (line []byte, ok bool, err error) {
	line, ok, err = d.t.Next(ctx)
	if err != nil || !ok {
		return line, ok, err
	}
	if len(line) == 0 {
		// Empty yield: force a flush on the next eligible tick.
		d.dirty = true
		d.maybeFlush()
		return line, ok, nil
	}
	// The on-disk span ending at the current offset includes the trailing
	// newline the tailer strips before returning line, so the hashed span
	// (and its length) must include it too for the reopen seek math to
	// land on the exact bytes that were hashed.
	d.lastLine = append(d.lastLine[:0], line...)
	d.lastLine = append(d.lastLine, '\n')
	d.lastOffset = d.t.Offset()
	d.dirty = true
	d.maybeFlush()
	return line, ok, nil
}

func (d *DurableTailer) maybeFlush() {
	if !d.dirty {
		return
	}
	if time.Since(d.lastDump) < d.opts.MinDumpInterval {
		return
	}
	if len(d.lastLine) == 0 {
		d.lastDump = time.Now()
		d.dirty = false
		return
	}
	cp := checkpoint{
		pos:       uint64(d.lastOffset),
		hashedLen: uint32(len(d.lastLine)),
		sha1:      sha1.Sum(d.lastLine),
	}
	f := d.t.File()
	if f == nil {
		return
	}
	if err := unix.Fsetxattr(int(f.Fd()), d.opts.XattrName, cp.marshal(), 0); err != nil {
		d.opts.Logger.Warn("tail: checkpoint write failed", "err", err)
		return
	}
	d.lastDump = time.Now()
	d.dirty = false
}

// Close flushes a final checkpoint best-effort and releases the handle.
func (d *DurableTailer) Close() error {
	d.lastDump = time.Time{} // force the final flush regardless of interval
	d.maybeFlush()
	return d.t.Close()
}
