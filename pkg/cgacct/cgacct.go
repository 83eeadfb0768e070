//go:build linux

// Package cgacct implements the sticky cgroup lifecycle and per-controller
// accounting samplers (cpuacct, blkio, memory) described for the daemon's
// service-level CPU/IO/memory metrics.
package cgacct

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/arjunpillai/metricsd/pkg/device"
	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/system/cgroup"
	"github.com/arjunpillai/metricsd/pkg/system/proc"
)

// UnitLister abstracts the init system's service enumeration: the contract
// is "running *.service units, suffix stripped, foo@instance collapsed to
// foo@". Production code uses SystemdUnitLister; tests supply a fake.
type UnitLister interface {
	RunningServices() ([]string, error)
}

// StickyFileName is the sticky-list file created under the cgroup root.
const StickyFileName = "sticky.cgacct"

// Manager owns the sticky cgroup lifecycle for one cgroup_root across every
// discovered controller, and the accounting samplers that read from it.
type Manager struct {
	root        string
	controllers []string
	lister      UnitLister
	devices     *device.Map
	log         *slog.Logger

	lockFile *os.File

	mu    sync.Mutex
	stuck map[string]map[string]struct{} // controller -> set(service)
}

// Open discovers mounted controllers under root, opens and locks the
// sticky-list file, and restores prior stuck-service state from it. Another
// running instance holding the lock causes Open to fail.
func Open(root string, lister UnitLister, devices *device.Map, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	controllers, err := cgroup.DiscoverControllers(root)
	if err != nil {
		return nil, fmt.Errorf("cgacct: discover controllers: %w", err)
	}
	sort.Strings(controllers)

	f, err := os.OpenFile(filepath.Join(root, StickyFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cgacct: open sticky-list file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cgacct: sticky-list file locked by another instance: %w", err)
	}

	m := &Manager{
		root:        root,
		controllers: controllers,
		lister:      lister,
		devices:     devices,
		log:         log,
		lockFile:    f,
		stuck:       make(map[string]map[string]struct{}),
	}
	if err := m.restoreLocked(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the advisory lock and closes the sticky-list file.
func (m *Manager) Close() error {
	return m.lockFile.Close()
}

// Controllers returns the set of discovered, mounted controllers.
func (m *Manager) Controllers() []string { return m.controllers }

func (m *Manager) restoreLocked() error {
	if _, err := m.lockFile.Seek(0, 0); err != nil {
		return fmt.Errorf("cgacct: seek sticky-list file: %w", err)
	}
	sc := bufio.NewScanner(m.lockFile)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		m.addStuck(parts[0], parts[1])
	}
	return sc.Err()
}

func (m *Manager) addStuck(controller, service string) {
	set, ok := m.stuck[controller]
	if !ok {
		set = make(map[string]struct{})
		m.stuck[controller] = set
	}
	set[service] = struct{}{}
}

func (m *Manager) isStuck(controller, service string) bool {
	_, ok := m.stuck[controller][service]
	return ok
}

func (m *Manager) removeStuck(controller, service string) {
	delete(m.stuck[controller], service)
}

// rewriteLocked truncates and rewrites the sticky-list file from the
// in-memory state, flushing before returning. Called only when the stuck
// set actually changed.
func (m *Manager) rewriteLocked() error {
	if err := m.lockFile.Truncate(0); err != nil {
		return fmt.Errorf("cgacct: truncate sticky-list file: %w", err)
	}
	if _, err := m.lockFile.Seek(0, 0); err != nil {
		return fmt.Errorf("cgacct: seek sticky-list file: %w", err)
	}
	w := bufio.NewWriter(m.lockFile)
	controllers := make([]string, 0, len(m.stuck))
	for c := range m.stuck {
		controllers = append(controllers, c)
	}
	sort.Strings(controllers)
	for _, c := range controllers {
		services := make([]string, 0, len(m.stuck[c]))
		for s := range m.stuck[c] {
			services = append(services, s)
		}
		sort.Strings(services)
		for _, s := range services {
			if _, err := fmt.Fprintf(w, "%s %s\n", c, s); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("cgacct: flush sticky-list file: %w", err)
	}
	return m.lockFile.Sync()
}

// Tick runs one collection cycle: it asks the unit lister for running
// services, reconciles the sticky set for every controller, and returns the
// datapoints sampled from each controller's working set.
func (m *Manager) Tick(fallbackTs int64) ([]ratecache.Datapoint, error) {
	services, err := m.lister.RunningServices()
	if err != nil {
		return nil, fmt.Errorf("cgacct: list running services: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	var all []ratecache.Datapoint
	for _, controller := range m.controllers {
		working, ctlChanged := m.reconcileLocked(controller, services)
		changed = changed || ctlChanged

		dps, err := m.sampleController(controller, working)
		if err != nil {
			m.log.Warn("cgacct: sampler failed", "controller", controller, "err", err)
			continue
		}
		all = append(all, dps...)
	}
	if changed {
		if err := m.rewriteLocked(); err != nil {
			m.log.Warn("cgacct: failed to persist sticky-list file", "err", err)
		}
	}
	return all, nil
}

// reconcileLocked applies steps 1-2 of the sticky lifecycle for one
// controller and returns the working set to sample this tick, plus whether
// the stuck set changed. Callers must hold m.mu.
func (m *Manager) reconcileLocked(controller string, services []string) (working []string, changed bool) {
	seen := make(map[string]struct{}, len(services))
	for _, svc := range services {
		seen[svc] = struct{}{}
		if m.isStuck(controller, svc) {
			working = append(working, svc)
			continue
		}
		path := m.tasksPath(controller, svc)
		if err := stickyPin(path); err != nil {
			// Failure to stat/chmod: service treated as not running this tick.
			continue
		}
		m.addStuck(controller, svc)
		changed = true
		working = append(working, svc)
	}

	for svc := range m.stuck[controller] {
		if _, ok := seen[svc]; ok {
			continue
		}
		dir := m.cgroupDir(controller, svc)
		tasksPath := m.tasksPath(controller, svc)
		if err := os.Remove(dir); err == nil {
			m.removeStuck(controller, svc)
			changed = true
			continue
		}
		if hasLiveTask(tasksPath) {
			// A straggling process is still attributed to this cgroup:
			// keep it pinned and worth probing for one more tick.
			working = append(working, svc)
			continue
		}
		// rmdir failed but no live task remains: clear the sticky bit and
		// forget it rather than keep probing a stale directory.
		_ = stickyUnpin(tasksPath)
		m.removeStuck(controller, svc)
		changed = true
	}
	return working, changed
}

// hasLiveTask reports whether tasksPath still lists at least one pid that
// exists in /proc, used to decide whether a cgroup that failed to rmdir is
// still worth sampling or just a stale, empty directory.
func hasLiveTask(tasksPath string) bool {
	f, err := os.Open(tasksPath)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil {
			continue
		}
		if proc.Exists(pid) {
			return true
		}
	}
	return false
}

func (m *Manager) cgroupDir(controller, service string) string {
	return filepath.Join(m.root, controller, "system", service+".service")
}

func (m *Manager) tasksPath(controller, service string) string {
	return filepath.Join(m.cgroupDir(controller, service), "tasks")
}

func stickyPin(tasksPath string) error {
	st, err := os.Stat(tasksPath)
	if err != nil {
		return err
	}
	return os.Chmod(tasksPath, st.Mode()|os.ModeSticky)
}

func stickyUnpin(tasksPath string) error {
	st, err := os.Stat(tasksPath)
	if err != nil {
		return err
	}
	return os.Chmod(tasksPath, st.Mode()&^os.ModeSticky)
}

func (m *Manager) sampleController(controller string, working []string) ([]ratecache.Datapoint, error) {
	dir := filepath.Join(m.root, controller)
	switch controller {
	case "cpuacct":
		return sampleCPUAcct(dir, working)
	case "blkio":
		return sampleBlkio(dir, working, m.devices)
	case "memory":
		return sampleMemory(dir, working)
	default:
		return nil, fmt.Errorf("no sampler registered for controller %q", controller)
	}
}

// StripInstance strips the `.service` suffix from a systemd unit name and
// collapses `foo@instance` to `foo@`.
func StripInstance(unit string) string {
	name := strings.TrimSuffix(unit, ".service")
	if i := strings.Index(name, "@"); i >= 0 {
		return name[:i+1]
	}
	return name
}

// StripAt removes '@' from a service name for use in a metric path.
func StripAt(service string) string {
	return strings.ReplaceAll(service, "@", "")
}
