//go:build linux

package cgacct

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/device"
	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

var blkioFiles = []struct {
	file   string
	suffix string
}{
	{"blkio.io_service_bytes", "bytes"},
	{"blkio.io_merged", "iops.merged"},
	{"blkio.io_serviced", "iops.total"},
}

func sampleBlkio(controllerDir string, working []string, devices *device.Map) ([]ratecache.Datapoint, error) {
	var dps []ratecache.Datapoint
	for _, svc := range working {
		svcDir := filepath.Join(controllerDir, "system", svc+".service")
		for _, bf := range blkioFiles {
			dps = append(dps, blkioFileDatapoints(svcDir, svc, bf.file, bf.suffix, devices)...)
		}
	}
	return dps, nil
}

func blkioFileDatapoints(svcDir, svc, file, suffix string, devices *device.Map) []ratecache.Datapoint {
	f, err := os.Open(filepath.Join(svcDir, file))
	if err != nil {
		return nil
	}
	defer f.Close()

	var dps []ratecache.Datapoint
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		majMin, op, valStr := fields[0], strings.ToLower(fields[1]), fields[2]
		if op == "total" {
			continue
		}
		mm := strings.SplitN(majMin, ":", 2)
		if len(mm) != 2 {
			continue
		}
		major, err := strconv.ParseUint(mm[0], 10, 32)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(mm[1], 10, 32)
		if err != nil {
			continue
		}
		devName, ok := devices.Resolve(uint32(major), uint32(minor))
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			continue
		}
		dps = append(dps, ratecache.Datapoint{
			Name:  fmt.Sprintf("processes.services.%s.io.%s.%s.%s", StripAt(svc), devName, suffix, op),
			Kind:  ratecache.Counter,
			Value: value,
		})
	}
	return dps
}
