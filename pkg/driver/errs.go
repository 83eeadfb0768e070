package driver

import "errors"

// ErrBadInterval means a non-positive tick interval was configured.
var ErrBadInterval = errors.New("driver: interval must be > 0")
