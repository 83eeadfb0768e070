//go:build linux

package samplers

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/system/proc"
)

// ExpectedSlabinfoVersion is the schema version logged against
// /proc/slabinfo's header; a mismatch is logged, not fatal.
const ExpectedSlabinfoVersion = "2.1"

// DefaultSlabExcludePrefixes are the row-name prefixes dropped unless
// overridden by IncludePrefixes.
var DefaultSlabExcludePrefixes = []string{"kmalloc-", "kmem_cache", "dma-kmalloc-"}

// SlabInfo parses /proc/slabinfo.
type SlabInfo struct {
	Path            string
	IncludePrefixes []string
	ExcludePrefixes []string
	PassZeroes      bool
	Logger          *slog.Logger

	// columnIdx maps the fields this sampler needs to their column index
	// in a slabinfo data row, resolved once against the header on first
	// Read. A nil map (after a header mismatch) makes Read a no-op.
	columnIdx map[string]int
	checked   bool
	usable    bool
}

var slabWantedColumns = []string{"active_objs", "objsize", "active_slabs", "pagesperslab", "num_slabs"}

func (s *SlabInfo) path() string {
	if s.Path == "" {
		return "/proc/slabinfo"
	}
	return s.Path
}

func (s *SlabInfo) excludePrefixes() []string {
	if s.ExcludePrefixes != nil {
		return s.ExcludePrefixes
	}
	return DefaultSlabExcludePrefixes
}

func (s *SlabInfo) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (SlabInfo) Name() string { return "slabinfo" }

func (s *SlabInfo) Read() ([]ratecache.Datapoint, error) {
	if !s.checked {
		s.checked = true
		s.usable = s.parseHeader()
	}
	if !s.usable {
		return nil, nil
	}

	f, err := os.Open(s.path())
	if err != nil {
		return nil, fmt.Errorf("samplers: open %s: %w", s.path(), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // version line
	sc.Scan() // header line

	pageSize := float64(proc.PageSize())
	var dps []ratecache.Datapoint
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if !s.included(name) {
			continue
		}
		activeObjs, objsize, activeSlabs, pagesPerSlab, numSlabs, ok := s.rowValues(fields)
		if !ok {
			continue
		}
		objActive := activeObjs * objsize
		slabActive := activeSlabs * pagesPerSlab * pageSize
		slabAllocated := numSlabs * pagesPerSlab * pageSize
		if !s.PassZeroes && objActive+slabActive+slabAllocated == 0 {
			continue
		}
		dps = append(dps,
			ratecache.Datapoint{Name: fmt.Sprintf("memory.slabs.%s.bytes_obj_active", name), Kind: ratecache.Gauge, Value: objActive},
			ratecache.Datapoint{Name: fmt.Sprintf("memory.slabs.%s.bytes_slab_active", name), Kind: ratecache.Gauge, Value: slabActive},
			ratecache.Datapoint{Name: fmt.Sprintf("memory.slabs.%s.bytes_slab_allocated", name), Kind: ratecache.Gauge, Value: slabAllocated},
		)
	}
	return dps, sc.Err()
}

func (s *SlabInfo) included(name string) bool {
	for _, prefix := range s.IncludePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, prefix := range s.excludePrefixes() {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

func (s *SlabInfo) rowValues(fields []string) (activeObjs, objsize, activeSlabs, pagesPerSlab, numSlabs float64, ok bool) {
	get := func(col string) (float64, bool) {
		idx, present := s.columnIdx[col]
		if !present || idx >= len(fields) {
			return 0, false
		}
		v, err := strconv.ParseFloat(fields[idx], 64)
		return v, err == nil
	}
	var okAll bool
	if activeObjs, okAll = get("active_objs"); !okAll {
		return
	}
	if objsize, okAll = get("objsize"); !okAll {
		return
	}
	if activeSlabs, okAll = get("active_slabs"); !okAll {
		return
	}
	if pagesPerSlab, okAll = get("pagesperslab"); !okAll {
		return
	}
	if numSlabs, okAll = get("num_slabs"); !okAll {
		return
	}
	return activeObjs, objsize, activeSlabs, pagesPerSlab, numSlabs, true
}

// parseHeader reads the two /proc/slabinfo header lines and resolves
// column positions. It logs and returns false (disabling the sampler for
// the session) when the header doesn't match the expected "# name <...>"
// shape.
func (s *SlabInfo) parseHeader() bool {
	f, err := os.Open(s.path())
	if err != nil {
		s.logger().Warn("samplers: cannot open slabinfo", "err", err)
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false
	}
	versionLine := sc.Text()
	if parts := strings.SplitN(versionLine, ":", 2); len(parts) == 2 {
		version := strings.TrimSpace(parts[1])
		if version != ExpectedSlabinfoVersion {
			s.logger().Warn("samplers: slabinfo header version mismatch", "expected", ExpectedSlabinfoVersion, "got", version)
		}
	}

	if !sc.Scan() {
		return false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 2 || fields[0] != "#" || fields[1] != "name" {
		s.logger().Error("samplers: unexpected slabinfo format, not processing it")
		return false
	}

	idx := map[string]int{"name": 0}
	for i, header := range fields[2:] {
		if len(header) >= 2 && strings.HasPrefix(header, "<") && strings.HasSuffix(header, ">") {
			idx[header[1:len(header)-1]] = i + 1
		}
	}
	for _, want := range slabWantedColumns {
		if _, ok := idx[want]; !ok {
			s.logger().Error("samplers: slabinfo header missing expected column, not processing it", "column", want)
			return false
		}
	}
	s.columnIdx = idx
	return true
}
