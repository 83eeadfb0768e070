//go:build linux

package samplers

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/types"
)

var (
	camelBoundary1 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	camelBoundary2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	underscoreRuns = regexp.MustCompile(`_+`)
)

// camelToSnake mirrors the two-stage boundary rule used to mangle
// /proc/meminfo's CamelCase keys into dotted metric suffixes.
func camelToSnake(name string) string {
	s := camelBoundary1.ReplaceAllString(name, "${1}_${2}")
	s = camelBoundary2.ReplaceAllString(s, "${1}_${2}")
	s = underscoreRuns.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// MemStats reads /proc/vmstat and /proc/meminfo.
type MemStats struct {
	VmstatPath  string
	MeminfoPath string
	Logger      *slog.Logger
}

func (MemStats) Name() string { return "memstats" }

func (m *MemStats) vmstatPath() string {
	if m.VmstatPath == "" {
		return "/proc/vmstat"
	}
	return m.VmstatPath
}

func (m *MemStats) meminfoPath() string {
	if m.MeminfoPath == "" {
		return "/proc/meminfo"
	}
	return m.MeminfoPath
}

func (m *MemStats) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *MemStats) Read() ([]ratecache.Datapoint, error) {
	dps, err := m.readVmstat()
	if err != nil {
		return nil, err
	}
	meminfoDps, err := m.readMeminfo()
	if err != nil {
		return nil, err
	}
	return append(dps, meminfoDps...), nil
}

func (m *MemStats) readVmstat() ([]ratecache.Datapoint, error) {
	f, err := os.Open(m.vmstatPath())
	if err != nil {
		return nil, fmt.Errorf("samplers: open %s: %w", m.vmstatPath(), err)
	}
	defer f.Close()

	var dps []ratecache.Datapoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		metric, valStr := fields[0], fields[1]
		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			continue
		}
		var name string
		if strings.HasPrefix(metric, "nr_") {
			name = "memory.pages.allocation." + strings.TrimPrefix(metric, "nr_")
		} else {
			name = "memory.pages.activity." + metric
		}
		dps = append(dps, ratecache.Datapoint{Name: name, Kind: ratecache.Gauge, Value: val})
	}
	return dps, sc.Err()
}

func (m *MemStats) readMeminfo() ([]ratecache.Datapoint, error) {
	f, err := os.Open(m.meminfoPath())
	if err != nil {
		return nil, fmt.Errorf("samplers: open %s: %w", m.meminfoPath(), err)
	}
	defer f.Close()

	raw := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		raw[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var hugepageSizeKB float64
	haveHugepageSize := false
	if v, ok := raw["Hugepagesize"]; ok {
		if n, err := parseKBValue(v); err == nil {
			hugepageSizeKB = n
			haveHugepageSize = true
		}
	}
	if !haveHugepageSize {
		m.logger().Warn("samplers: unable to get hugepage size from /proc/meminfo")
	}

	var dps []ratecache.Datapoint
	for key, rawVal := range raw {
		if key == "Hugepagesize" {
			continue
		}
		if strings.HasPrefix(key, "DirectMap") {
			continue
		}
		metric := camelToSnake(strings.NewReplacer("(", "_", ")", "_").Replace(key))
		switch {
		case strings.HasPrefix(metric, "s_"):
			metric = "slab_" + strings.TrimPrefix(metric, "s_")
		case strings.HasPrefix(metric, "mem_"):
			metric = strings.TrimPrefix(metric, "mem_")
		case metric == "slab":
			metric = "slab_total"
		}

		val, unit, hasUnit := splitValueUnit(rawVal)
		var bytesVal float64
		switch {
		case hasUnit && unit == "kB":
			bytesVal = val * 1024
		case hasUnit:
			m.logger().Warn("samplers: unhandled unit type in /proc/meminfo", "unit", unit, "metric", metric)
			continue
		case !hasUnit && strings.HasPrefix(metric, "huge_pages_") && haveHugepageSize:
			bytesVal = val * hugepageSizeKB * 1024
		default:
			m.logger().Warn("samplers: unhandled page-measured metric in /proc/meminfo", "metric", metric)
			continue
		}
		dps = append(dps, ratecache.Datapoint{Name: "memory.allocation." + metric, Kind: ratecache.Gauge, Value: bytesVal})
		m.logger().Debug("samplers: meminfo value", "metric", metric, "size", types.Bytes(bytesVal).Humanized())
	}
	return dps, nil
}

// splitValueUnit splits a meminfo value field like "123456 kB" into its
// numeric and unit parts; hasUnit is false for a bare integer.
func splitValueUnit(raw string) (val float64, unit string, hasUnit bool) {
	fields := strings.Fields(raw)
	switch len(fields) {
	case 1:
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, "", false
		}
		return v, "", false
	case 2:
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, "", false
		}
		return v, fields[1], true
	default:
		return 0, "", false
	}
}

func parseKBValue(raw string) (float64, error) {
	val, unit, hasUnit := splitValueUnit(raw)
	if !hasUnit || unit != "kB" {
		return 0, fmt.Errorf("samplers: expected a kB value, got %q", raw)
	}
	return val, nil
}
