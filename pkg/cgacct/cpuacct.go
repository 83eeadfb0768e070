//go:build linux

package cgacct

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/system/proc"
)

// sampleCPUAcct emits user/system CPU-second counters and per-CPU usage
// counters for every service in working, plus a "total" series from the
// controller's own top-level files.
func sampleCPUAcct(controllerDir string, working []string) ([]ratecache.Datapoint, error) {
	var dps []ratecache.Datapoint
	hz := float64(proc.ClockTicks())

	for _, svc := range working {
		if svc == "total" {
			slog.Default().Warn("cgacct: service literally named \"total\" collides with the aggregate series, skipping", "controller", "cpuacct")
			continue
		}
		svcDir := filepath.Join(controllerDir, "system", svc+".service")
		dps = append(dps, cpuAcctStatDatapoints(svcDir, svc, hz)...)
		dps = append(dps, cpuAcctPerCPUDatapoints(svcDir, svc)...)
		dps = append(dps, cpuAcctTaskCountDatapoint(svcDir, svc))
	}

	dps = append(dps, cpuAcctStatDatapoints(controllerDir, "total", hz)...)
	dps = append(dps, cpuAcctPerCPUDatapoints(controllerDir, "total")...)

	return dps, nil
}

func cpuAcctStatDatapoints(dir, svc string, hz float64) []ratecache.Datapoint {
	f, err := os.Open(filepath.Join(dir, "cpuacct.stat"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var dps []ratecache.Datapoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		raw, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		var suffix string
		switch fields[0] {
		case "user":
			suffix = "user"
		case "system":
			suffix = "sys"
		default:
			continue
		}
		dps = append(dps, ratecache.Datapoint{
			Name:  fmt.Sprintf("processes.services.%s.cpu.total.%s", StripAt(svc), suffix),
			Kind:  ratecache.Counter,
			Value: raw / hz,
		})
	}
	return dps
}

func cpuAcctPerCPUDatapoints(dir, svc string) []ratecache.Datapoint {
	b, err := os.ReadFile(filepath.Join(dir, "cpuacct.usage_percpu"))
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(b))
	dps := make([]ratecache.Datapoint, 0, len(fields))
	for i, f := range fields {
		ns, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		dps = append(dps, ratecache.Datapoint{
			Name:  fmt.Sprintf("processes.services.%s.cpu.total.%d", StripAt(svc), i),
			Kind:  ratecache.Counter,
			Value: ns,
		})
	}
	return dps
}

func cpuAcctTaskCountDatapoint(svcDir, svc string) ratecache.Datapoint {
	count := 0
	if f, err := os.Open(filepath.Join(svcDir, "tasks")); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if strings.TrimSpace(sc.Text()) != "" {
				count++
			}
		}
		f.Close()
	}
	return ratecache.Datapoint{
		Name:  fmt.Sprintf("processes.services.%s.count", StripAt(svc)),
		Kind:  ratecache.Gauge,
		Value: float64(count),
	}
}
