//go:build linux

// Package tail implements a rotation- and truncation-aware line follower
// for append-only text logs, plus a durable variant that persists its read
// position across restarts in a file extended attribute.
package tail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Options configures a Tailer. Zero values fall back to the documented
// defaults.
type Options struct {
	// OpenTail skips to EOF on first open. Ignored when a handle is
	// supplied directly via NewFromFile.
	OpenTail bool
	// ReadIntervalMin is the backoff floor after an empty read. A zero
	// value means "yield empty reads immediately instead of sleeping".
	ReadIntervalMin time.Duration
	ReadIntervalMax time.Duration
	ReadIntervalMul float64
	// RotationCheckInterval is how often the tailer re-stats the path to
	// detect rotation or truncation.
	RotationCheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadIntervalMax <= 0 {
		o.ReadIntervalMax = 20 * time.Second
	}
	if o.ReadIntervalMul <= 1 {
		o.ReadIntervalMul = 1.1
	}
	if o.RotationCheckInterval <= 0 {
		o.RotationCheckInterval = 20 * time.Second
	}
	return o
}

// Tailer yields complete lines from a growing text file, reopening across
// logrotate-style renames and in-place truncation.
type Tailer struct {
	path string
	opts Options

	f         *os.File
	r         *bufio.Reader
	ino, dev  uint64
	nextCheck time.Time
	backoff   time.Duration
	pending   []byte
	pos       int64 // byte offset of r within f
}

// New opens path and returns a Tailer. When opts.OpenTail is set, the
// initial read position is end-of-file.
func New(path string, opts Options) (*Tailer, error) {
	opts = opts.withDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tail: open %s: %w", path, err)
	}
	t := &Tailer{path: path, opts: opts, backoff: opts.ReadIntervalMin}
	if err := t.adopt(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	if opts.OpenTail {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("tail: seek to end of %s: %w", path, err)
		}
		t.pos = off
	}
	return t, nil
}

// NewFromFile wraps an already-open handle; OpenTail is ignored.
func NewFromFile(path string, f *os.File, opts Options) (*Tailer, error) {
	opts = opts.withDefaults()
	t := &Tailer{path: path, opts: opts, backoff: opts.ReadIntervalMin}
	if err := t.adopt(f); err != nil {
		return nil, err
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("tail: tell %s: %w", path, err)
	}
	t.pos = pos
	return t, nil
}

func (t *Tailer) adopt(f *os.File) error {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return fmt.Errorf("tail: fstat %s: %w", t.path, err)
	}
	t.f = f
	t.r = bufio.NewReader(f)
	t.ino = st.Ino
	t.dev = uint64(st.Dev)
	t.nextCheck = time.Now().Add(t.opts.RotationCheckInterval)
	t.pending = t.pending[:0]
	return nil
}

// File returns the tailer's current open handle, for callers (C4) that need
// to stamp a checkpoint against the exact file identity a line came from.
func (t *Tailer) File() *os.File { return t.f }

// Offset returns the current read offset within the active handle.
func (t *Tailer) Offset() int64 { return t.pos }

// Close releases the underlying handle.
func (t *Tailer) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

// Next blocks (respecting backoff and ctx cancellation) until a complete
// line is available, returning it without the trailing newline. An empty,
// non-nil []byte with ok=true signals "no data right now" when
// ReadIntervalMin is zero; callers that don't use that mode can treat it as
// a no-op and loop. ok=false means the tailer was closed or ctx was
// canceled.
func (t *Tailer) Next(ctx context.Context) (line []byte, ok bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, nil
		}
		t.maybeCheckRotation()

		chunk, rerr := t.r.ReadBytes('\n')
		if len(chunk) > 0 {
			t.pos += int64(len(chunk))
			t.pending = append(t.pending, chunk...)
			t.backoff = t.opts.ReadIntervalMin
			if len(t.pending) > 0 && t.pending[len(t.pending)-1] == '\n' {
				out := t.pending[:len(t.pending)-1]
				t.pending = nil
				return out, true, nil
			}
			// Partial line (no trailing \n yet): keep accumulating.
			continue
		}
		if rerr != nil && rerr != io.EOF {
			return nil, false, fmt.Errorf("tail: read %s: %w", t.path, rerr)
		}

		// Empty read.
		if t.opts.ReadIntervalMin == 0 {
			return []byte{}, true, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-time.After(t.backoff):
		}
		t.backoff = time.Duration(float64(t.backoff) * t.opts.ReadIntervalMul)
		if t.backoff > t.opts.ReadIntervalMax {
			t.backoff = t.opts.ReadIntervalMax
		}
	}
}

// maybeCheckRotation re-stats the path past the scheduled deadline and
// reopens on identity change or seeks to 0 on in-place truncation. Stat
// failures are treated as "no rotation" for this tick.
func (t *Tailer) maybeCheckRotation() {
	if time.Now().Before(t.nextCheck) {
		return
	}
	t.nextCheck = time.Now().Add(t.opts.RotationCheckInterval)

	var st unix.Stat_t
	if err := unix.Stat(t.path, &st); err != nil {
		return
	}
	if st.Ino != t.ino || uint64(st.Dev) != t.dev {
		nf, err := os.Open(t.path)
		if err != nil {
			return
		}
		_ = t.f.Close()
		t.pos = 0
		if err := t.adopt(nf); err != nil {
			return
		}
		return
	}
	if st.Size < t.pos {
		if _, err := t.f.Seek(0, io.SeekStart); err == nil {
			t.pos = 0
			t.r = bufio.NewReader(t.f)
			t.pending = t.pending[:0]
		}
	}
}
