package carbon

import "errors"

var (
	// ErrReconnectsExhausted means MaxReconnects consecutive dial attempts
	// have failed and the shipper is giving up for good.
	ErrReconnectsExhausted = errors.New("carbon: max reconnects exhausted")

	// ErrClosed means Send was called after Close.
	ErrClosed = errors.New("carbon: shipper closed")

	// ErrNotConnected means health introspection was attempted with no
	// live TCP connection.
	ErrNotConnected = errors.New("carbon: not connected")
)
