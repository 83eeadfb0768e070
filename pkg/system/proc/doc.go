// Package proc provides the small set of host-wide facts that multiple
// samplers and the cgroup lifecycle need: the kernel's jiffy rate, the
// memory page size, and a cheap /proc/<pid> existence check. Everything
// here is read-only and side-effect free.
package proc
