//go:build linux

package proc

import (
	"fmt"
	"os"
	"strconv"
)

// ClockTicks returns the kernel's jiffy rate (USER_HZ), used to convert
// /sys/fs/cgroup cpuacct.stat figures (expressed in jiffies) into seconds.
// It first checks the env var CLK_TCK (useful for testing), otherwise
// falls back to 100 (the common default).
//
// Note: the authoritative source is `sysconf(_SC_CLK_TCK)`, but calling
// that requires cgo. For a pure-Go binary this fallback is acceptable.
func ClockTicks() int {
	v, _ := strconv.Atoi(os.Getenv("CLK_TCK"))
	if v > 0 {
		return v
	}
	return 100
}

// PageSize returns the system memory page size in bytes, used by the
// slab, memfrag and hugepage computations. Like ClockTicks, it checks an
// env override (PAGE_SIZE) to ease testing before falling back to
// os.Getpagesize().
func PageSize() int {
	if ps := os.Getenv("PAGE_SIZE"); ps != "" {
		if v, _ := strconv.Atoi(ps); v > 0 {
			return v
		}
	}
	return os.Getpagesize()
}

// Exists reports whether a given PID currently exists in /proc. Used by
// the cgroup lifecycle to decide whether a cgroup directory is still
// worth probing.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
