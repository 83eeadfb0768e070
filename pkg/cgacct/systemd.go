//go:build linux

package cgacct

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// SystemdUnitLister implements UnitLister by shelling out to systemctl.
// This is the one place the daemon depends on the init system; the format
// of its output is systemd's own documented table, not something this
// package parses opportunistically.
type SystemdUnitLister struct {
	// Timeout bounds the systemctl invocation. Zero means 5s.
	Timeout time.Duration
}

func (l SystemdUnitLister) timeout() time.Duration {
	if l.Timeout <= 0 {
		return 5 * time.Second
	}
	return l.Timeout
}

// RunningServices runs `systemctl list-units --type=service --no-legend
// --plain --all`, keeps rows whose SUB column is "running", strips the
// .service suffix, and collapses instance units.
func (l SystemdUnitLister) RunningServices() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemctl", "list-units",
		"--type=service", "--no-legend", "--plain", "--all")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("cgacct: systemctl list-units: %w", err)
	}
	return parseSystemctlUnits(out), nil
}

// parseSystemctlUnits parses the --no-legend --plain table:
//
//	UNIT LOAD ACTIVE SUB DESCRIPTION...
//
// keeping only SUB == "running", and collapsing "foo@bar.service" to
// "foo@".
func parseSystemctlUnits(out []byte) []string {
	var services []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		unit, sub := fields[0], fields[3]
		if sub != "running" {
			continue
		}
		if !strings.HasSuffix(unit, ".service") {
			continue
		}
		services = append(services, StripInstance(unit))
	}
	return services
}
