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
)

// IRQ parses /proc/interrupts and /proc/softirqs, emitting one counter per
// (irq, cpu) cell.
type IRQ struct {
	InterruptsPath string
	SoftirqsPath   string
	Logger         *slog.Logger
}

func (IRQ) Name() string { return "irq" }

func (i *IRQ) interruptsPath() string {
	if i.InterruptsPath == "" {
		return "/proc/interrupts"
	}
	return i.InterruptsPath
}

func (i *IRQ) softirqsPath() string {
	if i.SoftirqsPath == "" {
		return "/proc/softirqs"
	}
	return i.SoftirqsPath
}

func (i *IRQ) logger() *slog.Logger {
	if i.Logger == nil {
		return slog.Default()
	}
	return i.Logger
}

func (i *IRQ) Read() ([]ratecache.Datapoint, error) {
	var dps []ratecache.Datapoint
	for _, path := range []string{i.interruptsPath(), i.softirqsPath()} {
		bindings, rows, err := i.parseTable(path)
		if err != nil {
			return nil, err
		}
		for irq, counts := range rows {
			var sum float64
			for _, c := range counts {
				sum += c
			}
			if sum == 0 {
				continue
			}
			for idx, bind := range bindings {
				if idx >= len(counts) {
					break
				}
				dps = append(dps, ratecache.Datapoint{
					Name:  fmt.Sprintf("irq.%s.%s", irq, bind),
					Kind:  ratecache.Counter,
					Value: counts[idx],
				})
			}
		}
	}
	return dps, nil
}

// parseTable parses the /proc/interrupts-shaped table: a header row of CPU
// bindings followed by one row per IRQ id/name.
func (i *IRQ) parseTable(path string) (bindings []string, rows map[string][]float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("samplers: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, nil, sc.Err()
	}
	for _, b := range strings.Fields(sc.Text()) {
		bindings = append(bindings, strings.ToLower(b))
	}
	n := len(bindings)

	rows = make(map[string][]float64)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 1 {
			continue
		}
		irq := strings.ToLower(strings.TrimSuffix(fields[0], ":"))
		if _, dup := rows[irq]; dup {
			i.logger().Warn("samplers: conflicting irq name/id, skipping", "irq", irq, "file", path)
			continue
		}
		rest := fields[1:]
		if len(rest) > n {
			rest = rest[:n]
		}
		counts := make([]float64, 0, len(rest))
		for _, f := range rest {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				break
			}
			counts = append(counts, v)
		}
		rows[irq] = counts
	}
	return bindings, rows, sc.Err()
}
