// Package carbon ships rate-resolved datapoints to a Carbon/Graphite
// plaintext-protocol TCP receiver.
package carbon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

const DefaultReconnectDelay = 5 * time.Second

// Options configures a Shipper.
type Options struct {
	Host string
	Port int

	// ReconnectDelay is how long Connect waits between failed dial
	// attempts. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// MaxReconnects bounds the number of consecutive failed dial attempts
	// before Connect gives up with ErrReconnectsExhausted. Zero means
	// unlimited.
	MaxReconnects int

	DialTimeout time.Duration

	// HostPrefix overrides the local hostname used as the metric path
	// prefix. Empty means os.Hostname(), dots replaced with underscores.
	HostPrefix string

	Logger *slog.Logger

	// OnReconnect, if set, is called each time connectLocked succeeds after
	// at least one failed dial attempt — for self-metrics reconnect
	// counting. It is not called on the very first successful connect.
	OnReconnect func()

	// OnWriteFailure, if set, is called each time a write to the carbon
	// socket fails, before the shipper closes and reconnects.
	OnWriteFailure func()
}

// Shipper owns a single sequential TCP connection to a carbon receiver.
type Shipper struct {
	opts       Options
	hostPrefix string
	log        *slog.Logger

	mu         sync.Mutex
	conn       net.Conn
	closed     bool
	reconnects int
}

func New(opts Options) (*Shipper, error) {
	prefix := opts.HostPrefix
	if prefix == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("carbon: resolve hostname: %w", err)
		}
		prefix = h
	}
	prefix = strings.ReplaceAll(prefix, ".", "_")

	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Shipper{opts: opts, hostPrefix: prefix, log: log}, nil
}

// Connect dials (host, port), retrying after ReconnectDelay on failure. If
// MaxReconnects is set and exhausted, it returns ErrReconnectsExhausted.
// Cancelling ctx unblocks the retry sleep.
func (s *Shipper) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Shipper) connectLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	for {
		dialer := net.Dialer{Timeout: s.opts.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			s.conn = conn
			if s.reconnects > 0 && s.opts.OnReconnect != nil {
				s.opts.OnReconnect()
			}
			s.reconnects = 0
			return nil
		}
		s.reconnects++
		s.log.Warn("carbon: dial failed", "addr", addr, "attempt", s.reconnects, "err", err)
		if s.opts.MaxReconnects > 0 && s.reconnects >= s.opts.MaxReconnects {
			return fmt.Errorf("%w: %d attempts to %s", ErrReconnectsExhausted, s.reconnects, addr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.ReconnectDelay):
		}
	}
}

// ReconnectCount returns the number of dial attempts that failed since the
// last successful connect, for self-metrics reporting.
func (s *Shipper) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Conn returns the live connection, if any, for TCP_INFO introspection.
func (s *Shipper) Conn() (net.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.conn != nil
}

// Send resolves every datapoint through cache (skipping datapoints the
// cache declines to emit), concatenates the resulting lines, and writes the
// whole buffer with a single write-all. On write failure it closes the
// connection, reconnects per the connect policy, and retries the same
// payload — no partial or line-level recovery.
func (s *Shipper) Send(ctx context.Context, cache *ratecache.Cache, fallbackTs int64, dps []ratecache.Datapoint) error {
	var buf strings.Builder
	for _, dp := range dps {
		name, value, ts, ok := cache.Resolve(dp, fallbackTs)
		if !ok {
			continue
		}
		fmt.Fprintf(&buf, "%s.%s %v %d\n", s.hostPrefix, name, value, ts)
	}
	if buf.Len() == 0 {
		return nil
	}
	payload := []byte(buf.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for {
		if s.conn == nil {
			if err := s.connectLocked(ctx); err != nil {
				return err
			}
		}
		_, err := s.conn.Write(payload)
		if err == nil {
			return nil
		}
		s.log.Warn("carbon: write failed, reconnecting", "err", err)
		if s.opts.OnWriteFailure != nil {
			s.opts.OnWriteFailure()
		}
		s.conn.Close()
		s.conn = nil
		if err := s.connectLocked(ctx); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection. Subsequent Send calls fail with
// ErrClosed.
func (s *Shipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
