//go:build linux

package samplers

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

// Stats reads /proc/stat for the handful of counters the daemon cares
// about; every other line in that file is ignored.
type Stats struct {
	Path string
}

func (Stats) Name() string { return "stats" }

func (s *Stats) path() string {
	if s.Path == "" {
		return "/proc/stat"
	}
	return s.Path
}

func (s *Stats) Read() ([]ratecache.Datapoint, error) {
	f, err := os.Open(s.path())
	if err != nil {
		return nil, fmt.Errorf("samplers: open %s: %w", s.path(), err)
	}
	defer f.Close()

	var dps []ratecache.Datapoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		label := fields[0]
		var name string
		switch label {
		case "intr":
			name = "irq.total.hard"
		case "softirq":
			name = "irq.total.soft"
		case "processes":
			name = "processes.forks"
		default:
			continue
		}
		total, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		dps = append(dps, ratecache.Datapoint{Name: name, Kind: ratecache.Counter, Value: total})
	}
	return dps, sc.Err()
}
