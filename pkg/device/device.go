//go:build linux

// Package device maps block-device (major, minor) numbers to the symbolic
// names the blkio cgroup accounting wants to emit, by periodically
// rescanning /dev/mapper and /dev/sd*.
package device

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTTL is the default dev_cache_ttl: the map is rebuilt at most this
// often.
const DefaultTTL = 610 * time.Second

// DefaultGlobs are the two patterns scanned on every refresh.
var DefaultGlobs = []string{"/dev/mapper/*", "/dev/sd*"}

type key struct{ major, minor uint32 }

// Map resolves (major, minor) device numbers to symbolic names. It is safe
// for concurrent use.
type Map struct {
	mu          sync.Mutex
	ttl         time.Duration
	globs       []string
	lastRefresh time.Time
	names       map[key]string
}

// New builds a Map with the given refresh ttl; a zero or negative ttl
// falls back to DefaultTTL. Scans DefaultGlobs.
func New(ttl time.Duration) *Map {
	return NewWithGlobs(ttl, DefaultGlobs)
}

// NewWithGlobs is like New but scans the given glob patterns instead of
// DefaultGlobs; used by tests to point the scan at a fixture directory.
func NewWithGlobs(ttl time.Duration, globs []string) *Map {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Map{ttl: ttl, globs: globs, names: make(map[key]string)}
}

// Resolve returns the symbolic name for (major, minor), rebuilding the map
// first if it is empty or past its ttl. Returns ok=false when nothing
// matches even after a refresh.
func (m *Map) Resolve(major, minor uint32) (name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{major, minor}
	if name, ok := m.names[k]; ok {
		return name, true
	}
	if len(m.names) == 0 || time.Since(m.lastRefresh) > m.ttl {
		m.refreshLocked()
	}
	name, ok = m.names[k]
	return name, ok
}

func (m *Map) refreshLocked() {
	fresh := make(map[key]string)
	for _, pattern := range m.globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			var st unix.Stat_t
			if err := unix.Stat(path, &st); err != nil {
				// Permission or transient error: skip silently.
				continue
			}
			dev := st.Rdev
			k := key{major: unix.Major(dev), minor: unix.Minor(dev)}
			name := strings.ReplaceAll(filepath.Base(path), ".", "_")
			fresh[k] = name
		}
	}
	m.names = fresh
	m.lastRefresh = time.Now()
}

// String is a debugging helper; not used on any hot path.
func (k key) String() string { return fmt.Sprintf("%d:%d", k.major, k.minor) }
