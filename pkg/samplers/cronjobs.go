//go:build linux

package samplers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/tail"
)

// cronEventRegexes are the five recognized task lifecycle events, checked
// in map-iteration order exactly like the upstream collector. Map order is
// unspecified, so when one line matches several events (see parseLine) the
// order of the resulting datapoints is not defined.
var cronEventRegexes = map[string]*regexp.Regexp{
	"init":     regexp.MustCompile(`task\[(\d+|-)\]: Queued\b[^:]*: (?P<job>.*)$`),
	"start":    regexp.MustCompile(`task\[(\d+|-)\]: Started\b[^:]*: (?P<job>.*)$`),
	"finish":   regexp.MustCompile(`task\[(\d+|-)\]: Finished\b[^:]*: (?P<job>.*)$`),
	"duration": regexp.MustCompile(`task\[(\d+|-)\]: Finished \([^):]*\bduration=(?P<val>\d+)[,)][^:]*: (?P<job>.*)$`),
	"error":    regexp.MustCompile(`task\[(\d+|-)\]: Finished \([^):]*\bstatus=0*[^0]+0*[,)][^:]*: (?P<job>.*)$`),
}

// CronAlias is one entry of the ordered alias table: Name is used
// literally unless it begins with "_", in which case the named capture
// group (the group name with the leading underscore stripped) supplies the
// job name instead.
type CronAlias struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultCronAliases mirrors the production alias table: specific job
// patterns first, with a generic "_name" fallback last that extracts the
// basename of a script path.
var DefaultCronAliases = []CronAlias{
	{"logrotate", regexp.MustCompile(`(^|\b)logrotate\b`)},
	{"locate", regexp.MustCompile(`(^|\b)updatedb\b`)},
	{"backup_grab", regexp.MustCompile(`\bfs_backup\b`)},
	{"backup_toss", regexp.MustCompile(`\btoss_cron\b`)},
	{"ufs_sync", regexp.MustCompile(`\bufs\.sync\b`)},
	{"getmail", regexp.MustCompile(`\bgetmail\.service\b`)},
	{"maildir_maintenance", regexp.MustCompile(`\bmaildir_git\b`)},
	{"forager_music", regexp.MustCompile(`\bforager_music\.py\b`)},
	{"forager_scm", regexp.MustCompile(`\bforager_scm\.py\b`)},
	{"feedjack_update", regexp.MustCompile(`\bfeedjack_update\.py\b`)},
	{"_name", regexp.MustCompile(`/etc/(\S+/)*(?P<name>\S+)(\s+|$)`)},
}

var cronSanitizeRE = regexp.MustCompile(`\s+|-`)

// NewCronAlias compiles a pattern into a CronAlias entry, for building an
// alias table from configuration rather than the compiled-in default.
func NewCronAlias(name, pattern string) (CronAlias, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return CronAlias{}, fmt.Errorf("samplers: compile cron alias %q: %w", name, err)
	}
	return CronAlias{Name: name, Regex: re}, nil
}

// CronJobs wraps a durable tailer over a cron log and turns its lines into
// gauge datapoints keyed by canonical job alias and event kind.
type CronJobs struct {
	Tailer  *tail.DurableTailer
	Aliases []CronAlias
	Logger  *slog.Logger
}

func (CronJobs) Name() string { return "cronjobs" }

func (c *CronJobs) aliases() []CronAlias {
	if c.Aliases != nil {
		return c.Aliases
	}
	return DefaultCronAliases
}

func (c *CronJobs) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Read drains every complete line currently buffered by the tailer. It
// never blocks: an empty (ok=true, len==0) yield from the tailer ends the
// drain for this tick.
func (c *CronJobs) Read() ([]ratecache.Datapoint, error) {
	if c.Tailer == nil {
		return nil, nil
	}
	ctx := context.Background()

	var dps []ratecache.Datapoint
	for {
		line, ok, err := c.Tailer.Next(ctx)
		if err != nil {
			return dps, fmt.Errorf("samplers: cron tailer: %w", err)
		}
		if !ok || len(line) == 0 {
			return dps, nil
		}
		dps = append(dps, c.parseLine(string(line))...)
	}
}

// parseLine checks a cron log line against every event regex, not just the
// first to match: a single "Finished (duration=5,status=1)" line matches
// finish, duration and error simultaneously (with status=0, only finish and
// duration) and yields one datapoint per matching event, exactly like the
// upstream collector's unconditional loop
// body (it never breaks out of the event loop on a match).
func (c *CronJobs) parseLine(line string) []ratecache.Datapoint {
	tsField, rest, found := strings.Cut(strings.TrimSpace(line), " ")
	if !found {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, tsField)
	if err != nil {
		c.logger().Warn("samplers: unparseable cron log timestamp, skipping line", "ts", tsField)
		return nil
	}

	var dps []ratecache.Datapoint
	for event, re := range cronEventRegexes {
		match := re.FindStringSubmatch(rest)
		if match == nil {
			continue
		}
		jobIdx := re.SubexpIndex("job")
		if jobIdx < 0 || jobIdx >= len(match) {
			continue
		}
		job := match[jobIdx]

		job, aliasMatch, aliasRegex, ok := c.resolveAlias(job)
		if !ok {
			c.logger().Warn("samplers: no alias for cron job, skipping", "line", line)
			continue
		}

		// Preserves the upstream bug: the duration value is read from the
		// alias regex's match, not the event regex's match, so a "val"
		// group is effectively never present and duration events always
		// report 1 like every other event kind.
		value := 1.0
		if aliasMatch != nil {
			if valIdx := aliasRegex.SubexpIndex("val"); valIdx >= 0 && valIdx < len(aliasMatch) {
				if v, err := strconv.ParseFloat(aliasMatch[valIdx], 64); err == nil {
					value = v
				}
			}
		}

		dps = append(dps, ratecache.Datapoint{
			Name:  fmt.Sprintf("cron.tasks.%s.%s", job, event),
			Kind:  ratecache.Gauge,
			Value: value,
			Ts:    ts.Unix(),
		})
	}
	return dps
}

// resolveAlias walks the ordered alias table, returning the canonical job
// name plus the alias regex and its match (needed only to reproduce the
// preserved duration-value bug above).
func (c *CronJobs) resolveAlias(job string) (canonical string, match []string, re *regexp.Regexp, ok bool) {
	for _, alias := range c.aliases() {
		m := alias.Regex.FindStringSubmatch(job)
		if m == nil {
			continue
		}
		if strings.HasPrefix(alias.Name, "_") {
			groupName := strings.TrimPrefix(alias.Name, "_")
			idx := alias.Regex.SubexpIndex(groupName)
			if idx < 0 || idx >= len(m) {
				return "", nil, nil, false
			}
			return cronSanitizeRE.ReplaceAllString(m[idx], "_"), m, alias.Regex, true
		}
		return alias.Name, m, alias.Regex, true
	}
	return "", nil, nil, false
}
