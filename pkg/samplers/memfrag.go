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
	"github.com/arjunpillai/metricsd/pkg/system/proc"
)

var (
	buddyinfoLineRE = regexp.MustCompile(`^Node\s+(\d+),\s+zone\s+(\S+)\s+(.*)$`)
	pagetypeLineRE  = regexp.MustCompile(`^Node\s+(\d+),\s+zone\s+(\S+),\s+type\s+(\S+)\s+(.*)$`)
)

// Memfrag parses /proc/buddyinfo and the first "Free pages count" section
// of /proc/pagetypeinfo into a node/zone/migration-type fragmentation map.
type Memfrag struct {
	BuddyinfoPath    string
	PagetypeinfoPath string
	Logger           *slog.Logger
}

func (Memfrag) Name() string { return "memfrag" }

func (m *Memfrag) buddyinfoPath() string {
	if m.BuddyinfoPath == "" {
		return "/proc/buddyinfo"
	}
	return m.BuddyinfoPath
}

func (m *Memfrag) pagetypeinfoPath() string {
	if m.PagetypeinfoPath == "" {
		return "/proc/pagetypeinfo"
	}
	return m.PagetypeinfoPath
}

func (m *Memfrag) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// fragKey identifies one leaf in the node/zone/mtype/size map.
type fragKey struct {
	node, zone, mtype, sizeKB string
}

func (m *Memfrag) Read() ([]ratecache.Datapoint, error) {
	pageSizeKB := float64(proc.PageSize()) / 1024

	counts := make(map[fragKey]float64)
	// Track per (node,zone,mtype) block sums so an all-zero block can be
	// dropped as a unit, matching the upstream semantics.
	blockSum := make(map[[3]string]float64)

	if err := m.readBuddyinfo(pageSizeKB, counts, blockSum); err != nil {
		return nil, err
	}
	if err := m.readPagetypeinfo(pageSizeKB, counts, blockSum); err != nil {
		return nil, err
	}

	var dps []ratecache.Datapoint
	for k, v := range counts {
		block := [3]string{k.node, k.zone, k.mtype}
		if blockSum[block] == 0 {
			continue
		}
		name := fmt.Sprintf("memory.fragmentation.node_%s.%s.%s.%s", k.node, k.zone, k.mtype, k.sizeKB)
		dps = append(dps, ratecache.Datapoint{Name: name, Kind: ratecache.Gauge, Value: v})
	}
	return dps, nil
}

func (m *Memfrag) readBuddyinfo(pageSizeKB float64, counts map[fragKey]float64, blockSum map[[3]string]float64) error {
	f, err := os.Open(m.buddyinfoPath())
	if err != nil {
		return fmt.Errorf("samplers: open %s: %w", m.buddyinfoPath(), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		match := buddyinfoLineRE.FindStringSubmatch(line)
		if match == nil {
			m.logger().Warn("samplers: unrecognized line in /proc/buddyinfo, skipping", "line", line)
			continue
		}
		node, zone := match[1], strings.ToLower(match[2])
		block := [3]string{node, zone, "available"}
		for order, field := range strings.Fields(match[3]) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			sizeKB := pageSizeKB * float64(int(1)<<uint(order))
			counts[fragKey{node, zone, "available", fmt.Sprintf("%gk", sizeKB)}] = v
			blockSum[block] += v
		}
	}
	return sc.Err()
}

func (m *Memfrag) readPagetypeinfo(pageSizeKB float64, counts map[fragKey]float64, blockSum map[[3]string]float64) error {
	f, err := os.Open(m.pagetypeinfoPath())
	if err != nil {
		return fmt.Errorf("samplers: open %s: %w", m.pagetypeinfoPath(), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	found := false
	inSection := false
	for sc.Scan() {
		line := sc.Text()
		if !inSection {
			if strings.Contains(line, "Free pages count") {
				if found {
					m.logger().Warn("samplers: more than one free pages counters section found in /proc/pagetypeinfo")
					// Skip this (and only this) block's body by scanning
					// until a blank line, same as the upstream skip-loop.
					for sc.Scan() && strings.TrimSpace(sc.Text()) != "" {
					}
					continue
				}
				found = true
				inSection = true
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			inSection = false
			continue
		}
		match := pagetypeLineRE.FindStringSubmatch(trimmed)
		if match == nil {
			m.logger().Warn("samplers: unrecognized line in /proc/pagetypeinfo, skipping", "line", trimmed)
			continue
		}
		node, zone, mtype := match[1], strings.ToLower(match[2]), strings.ToLower(match[3])
		block := [3]string{node, zone, mtype}
		for order, field := range strings.Fields(match[4]) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			sizeKB := pageSizeKB * float64(int(1)<<uint(order))
			counts[fragKey{node, zone, mtype, fmt.Sprintf("%gk", sizeKB)}] = v
			blockSum[block] += v
		}
	}
	if !found {
		m.logger().Warn("samplers: failed to find free pages counters in /proc/pagetypeinfo")
	}
	return sc.Err()
}
