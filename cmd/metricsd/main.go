//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arjunpillai/metricsd/pkg/carbon"
	"github.com/arjunpillai/metricsd/pkg/cgacct"
	"github.com/arjunpillai/metricsd/pkg/config"
	"github.com/arjunpillai/metricsd/pkg/device"
	"github.com/arjunpillai/metricsd/pkg/driver"
	"github.com/arjunpillai/metricsd/pkg/ratecache"
	"github.com/arjunpillai/metricsd/pkg/samplers"
	"github.com/arjunpillai/metricsd/pkg/selfmetrics"
	"github.com/arjunpillai/metricsd/pkg/system/cgroup"
	"github.com/arjunpillai/metricsd/pkg/tail"
)

const defaultCarbonPort = 2003

// DefaultCgroupRoot is where the sticky cgroup lifecycle looks for
// controllers; it is not exposed as a flag.
const DefaultCgroupRoot = "/sys/fs/cgroup"

type opts struct {
	interval    int
	dryRun      bool
	debug       bool
	configPath  string
	metricsAddr string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "metricsd remote",
		Short: "Collect and dispatch Linux host metrics to a carbon daemon",
		Long: `metricsd samples kernel, cgroup and cron counters, converts monotonic
counters to rates, and ships line-protocol datapoints to a Carbon/Graphite
TCP receiver on a fixed interval.

Positional argument:
  remote    host[:port] of the carbon destination (default port 2003)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0])
		},
	}

	root.Flags().IntVarP(&o.interval, "interval", "i", 60, "interval between datapoints, in seconds")
	root.Flags().BoolVarP(&o.dryRun, "dry-run", "n", false, "do not actually send data")
	root.Flags().BoolVar(&o.debug, "debug", false, "verbose operation mode")
	root.Flags().StringVar(&o.configPath, "config", "", "optional TOML file seeding sampler tunables")
	root.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus self-metrics on")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, remote string) error {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if o.interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}

	host, port, err := parseRemote(remote)
	if err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	cronAliases, err := cfg.BuildCronAliases()
	if err != nil {
		return err
	}

	cache := ratecache.New(cfg.CounterCache.TTLSeconds, cfg.CounterCache.SweepDivisor)

	// shipper is assigned below; the health closure captures the variable,
	// not its (still nil) value, so it's safe to build the collector first
	// and keep a single metrics.Collector for the whole process lifetime.
	var shipper *carbon.Shipper
	metrics := selfmetrics.New(0.3, func() (uint32, uint32, error) {
		if o.dryRun || shipper == nil {
			return 0, 0, carbon.ErrNotConnected
		}
		h, err := shipper.Health()
		if err != nil {
			return 0, 0, err
		}
		return h.RTTMicros, h.TotalRetrans, nil
	})

	shipper, err = carbon.New(carbon.Options{
		Host:           host,
		Port:           port,
		ReconnectDelay: carbon.DefaultReconnectDelay,
		Logger:         logger,
		OnReconnect:    metrics.ObserveReconnect,
		OnWriteFailure: metrics.ObserveWriteFailure,
	})
	if err != nil {
		return fmt.Errorf("carbon: %w", err)
	}
	defer shipper.Close()

	if !o.dryRun {
		if err := shipper.Connect(ctx); err != nil {
			return fmt.Errorf("carbon: connect: %w", err)
		}
	}

	controllers, err := cgroup.DiscoverControllers(DefaultCgroupRoot)
	if err != nil {
		logger.Warn("cgroup discovery failed, service-level accounting disabled", "err", err)
	}

	devices := device.NewWithGlobs(time.Duration(cfg.Device.TTLSeconds)*time.Second, cfg.Device.Globs)

	var samplerList []samplers.Sampler
	samplerList = append(samplerList,
		&samplers.SlabInfo{
			Path:            "/proc/slabinfo",
			IncludePrefixes: cfg.SlabInfo.IncludePrefixes,
			ExcludePrefixes: cfg.SlabInfo.ExcludePrefixes,
			PassZeroes:      cfg.SlabInfo.PassZeroes,
			Logger:          logger,
		},
		&samplers.MemStats{
			VmstatPath:  "/proc/vmstat",
			MeminfoPath: "/proc/meminfo",
			Logger:      logger,
		},
		&samplers.Stats{Path: "/proc/stat"},
		&samplers.Memfrag{
			BuddyinfoPath:    "/proc/buddyinfo",
			PagetypeinfoPath: "/proc/pagetypeinfo",
			Logger:           logger,
		},
		&samplers.IRQ{
			InterruptsPath: "/proc/interrupts",
			SoftirqsPath:   "/proc/softirqs",
			Logger:         logger,
		},
	)

	if len(controllers) > 0 {
		mgr, err := cgacct.Open(DefaultCgroupRoot, cgacct.SystemdUnitLister{Timeout: 5 * time.Second}, devices, logger)
		if err != nil {
			return fmt.Errorf("cgacct: %w", err)
		}
		defer mgr.Close()
		samplerList = append(samplerList, cgacct.Sampler{Manager: mgr})
	}

	if cfg.CronJobs.LogPath != "" {
		tailer, err := tail.Open(cfg.CronJobs.LogPath, tail.DurableOptions{
			Options: tail.Options{OpenTail: true},
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("cron log tailer unavailable, cron sampler disabled", "path", cfg.CronJobs.LogPath, "err", err)
		} else {
			defer tailer.Close()
			samplerList = append(samplerList, &samplers.CronJobs{
				Tailer:  tailer,
				Aliases: cronAliases,
				Logger:  logger,
			})
		}
	}

	if o.metricsAddr != "" {
		go func() {
			if err := selfmetrics.Serve(ctx, o.metricsAddr, metrics); err != nil {
				logger.Error("self-metrics server failed", "err", err)
			}
		}()
	}

	d := driver.New(cache, shipper, driver.Options{
		Interval: time.Duration(o.interval) * time.Second,
		DryRun:   o.dryRun,
		Logger:   logger,
		Metrics:  metrics,
	}, samplerList...)

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func parseRemote(remote string) (host string, port int, err error) {
	host, portStr, found := strings.Cut(remote, ":")
	if !found {
		return host, defaultCarbonPort, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid remote %q: %w", remote, err)
	}
	return host, port, nil
}
