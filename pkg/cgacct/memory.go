//go:build linux

package cgacct

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

// memoryCounterKeys are the total_* keys (after the prefix is stripped)
// that are counters rather than gauges.
var memoryCounterKeys = map[string]bool{
	"pgpgin":     true,
	"pgpgout":    true,
	"pgfault":    true,
	"pgmajfault": true,
}

func sampleMemory(controllerDir string, working []string) ([]ratecache.Datapoint, error) {
	var dps []ratecache.Datapoint
	for _, svc := range working {
		svcDir := filepath.Join(controllerDir, "system", svc+".service")
		dps = append(dps, memoryStatDatapoints(svcDir, svc)...)
	}
	return dps, nil
}

func memoryStatDatapoints(svcDir, svc string) []ratecache.Datapoint {
	f, err := os.Open(filepath.Join(svcDir, "memory.stat"))
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
		key, valStr := fields[0], fields[1]
		if !strings.HasPrefix(key, "total_") {
			continue
		}
		key = strings.TrimPrefix(key, "total_")
		value, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			continue
		}
		kind := ratecache.Gauge
		if memoryCounterKeys[key] {
			kind = ratecache.Counter
		}
		dps = append(dps, ratecache.Datapoint{
			Name:  fmt.Sprintf("processes.services.%s.memory.%s", StripAt(svc), key),
			Kind:  kind,
			Value: value,
		})
	}
	return dps
}
