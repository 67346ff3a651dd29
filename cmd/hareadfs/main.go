// Command hareadfs mounts several directory trees as one read-only filesystem
// that fails over between them when one hangs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/hareadfs/hareadfs/internal/api"
	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/config"
	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/fuse"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/logging"
	"github.com/hareadfs/hareadfs/internal/metrics"
	"github.com/hareadfs/hareadfs/internal/union"
)

const (
	exitOK      = 0
	exitFailure = 1

	shutdownTimeout = 10 * time.Second
)

// options are the parsed command line.
type options struct {
	mountOpts   []string
	configPath  string
	logLevel    string
	statusAddr  string
	writeConfig string
	debug       bool
	help        bool
	version     bool
	args        []string
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func usage(w io.Writer, prog string, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: %s comma,separated,list,of,underlying-fss-paths mountpoint [options]\n"+
		"\n"+
		"   Mounts paths as a read-only mount at mountpoint\n"+
		"\n"+
		"general options:\n", prog)
	fmt.Fprint(w, flags.FlagUsages())
	fmt.Fprintln(w)
}

func parseArgs(prog string, argv []string, stderr io.Writer) (*options, *pflag.FlagSet, error) {
	o := &options{}
	flags := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SortFlags = false
	flags.Usage = func() {}

	flags.StringArrayVarP(&o.mountOpts, "options", "o", nil, "mount options (opt,[opt...])")
	flags.StringVarP(&o.configPath, "config", "c", "", "configuration file (YAML)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&o.statusAddr, "status-addr", "", "serve /health, /status and /metrics on this address")
	flags.StringVar(&o.writeConfig, "write-config", "", "write the effective configuration to this file and exit")
	flags.BoolVarP(&o.debug, "debug", "d", false, "enable FUSE debug output")
	flags.BoolVarP(&o.help, "help", "h", false, "print help")
	flags.BoolVarP(&o.version, "version", "V", false, "print version")

	if err := flags.Parse(argv); err != nil {
		return nil, flags, err
	}
	o.args = flags.Args()
	return o, flags, nil
}

// applyArgs layers the command line over the loaded configuration.
func applyArgs(cfg *config.Configuration, o *options) error {
	if len(o.args) > 2 {
		return fmt.Errorf("unexpected argument %q", o.args[2])
	}
	if len(o.args) >= 1 {
		set, err := backend.ParseSet(o.args[0], cfg.Backends.Delimiter)
		if err != nil {
			return err
		}
		cfg.Backends.Roots = set.Roots()
	}
	if len(o.args) == 2 {
		mountPoint, err := filepath.Abs(o.args[1])
		if err != nil {
			return err
		}
		cfg.Mount.MountPoint = mountPoint
	}
	if o.logLevel != "" {
		cfg.Global.LogLevel = o.logLevel
	}
	if o.statusAddr != "" {
		cfg.Monitoring.Status.Enabled = true
		cfg.Monitoring.Status.Address = o.statusAddr
	}
	if o.debug {
		cfg.Mount.Debug = true
	}
	cfg.Mount.Options = append(cfg.Mount.Options, o.mountOpts...)
	return nil
}

func mountOptions(cfg *config.Configuration) (*fuse.MountOptions, error) {
	base := fuse.DefaultMountOptions()
	base.FSName = cfg.Mount.FSName
	base.Subtype = cfg.Mount.Subtype
	base.AllowOther = cfg.Mount.AllowOther
	base.Debug = cfg.Mount.Debug
	base.AttrTimeout = cfg.Mount.AttrTimeout
	base.EntryTimeout = cfg.Mount.EntryTimeout
	return fuse.ParseMountOptions(base, cfg.Mount.Options)
}

func run(argv []string, stdout, stderr io.Writer) int {
	prog := filepath.Base(argv[0])
	seeUsage := func() int {
		fmt.Fprintf(stderr, "see `%s -h' for usage\n", prog)
		return exitFailure
	}

	o, flags, err := parseArgs(prog, argv[1:], stderr)
	if err != nil {
		fmt.Fprintln(stderr, "Invalid arguments")
		return seeUsage()
	}
	if o.help {
		usage(stdout, prog, flags)
		return exitOK
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return exitFailure
	}
	if o.version {
		fmt.Fprintf(stdout, "%s version %s\n", cfg.Global.Name, cfg.Global.Version)
		return exitOK
	}

	if len(o.args) == 0 && len(cfg.Backends.Roots) == 0 {
		fmt.Fprintln(stderr, "Missing path")
		return seeUsage()
	}
	if err := applyArgs(cfg, o); err != nil {
		fmt.Fprintf(stderr, "Invalid arguments: %v\n", err)
		return seeUsage()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return exitFailure
	}
	mountOpts, err := mountOptions(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return exitFailure
	}

	if o.writeConfig != "" {
		if err := cfg.SaveToFile(o.writeConfig); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", o.writeConfig)
		return exitOK
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return exitFailure
	}
	defer closer.Close()

	if err := serve(cfg, mountOpts, logger); err != nil {
		logger.Error().Err(err).Msg("hareadfs stopped")
		return exitFailure
	}
	return exitOK
}

// serve wires the components, mounts and blocks until a signal or an external unmount.
func serve(cfg *config.Configuration, mountOpts *fuse.MountOptions, logger zerolog.Logger) error {
	set, err := backend.NewSet(cfg.Backends.Roots)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	})
	if err != nil {
		return err
	}

	exec := executor.New()
	if err := collector.WatchExecutor(exec); err != nil {
		return err
	}
	registry := health.NewRegistry()
	osfs := backend.NewOSFileSystem()

	logger.Info().Strs("backends", set.Roots()).Str("mount_point", cfg.Mount.MountPoint).
		Str("version", cfg.Global.Version).Msg("starting hareadfs")

	// Monitor loops run for the life of the process.
	monitor := health.NewMonitor(set, registry, osfs, exec, cfg.MonitorConfig(), logger, collector)
	if err := monitor.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	dispatcher := union.NewDispatcher(set, registry, osfs, exec, cfg.UnionConfig(), logger, collector)
	fsys := fuse.NewFileSystem(dispatcher, union.NewMerger(dispatcher), logger)

	manager := fuse.CreatePlatformMountManager(fsys, &fuse.MountConfig{
		MountPoint: cfg.Mount.MountPoint,
		Options:    mountOpts,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Mount(ctx); err != nil {
		return err
	}

	var status *api.Server
	if cfg.Monitoring.Status.Enabled {
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = cfg.Monitoring.Status.Address
		status = api.NewServer(apiConfig, api.Sources{
			Name:     cfg.Global.Name,
			Version:  cfg.Global.Version,
			Backends: set,
			Registry: registry,
			Executor: exec,
			Stats:    manager,
			Metrics:  collector,
		}, logger)
		if err := status.Start(); err != nil {
			logger.Error().Err(err).Msg("status API disabled")
			status = nil
		}
	}

	served := make(chan struct{})
	go func() {
		manager.Wait()
		close(served)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("signal received, unmounting")
	case <-served:
		logger.Info().Msg("filesystem unmounted externally")
	}

	var errs []error
	if manager.IsMounted() {
		if err := manager.Unmount(); err != nil {
			errs = append(errs, err)
		}
	}
	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := status.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	stats := manager.GetStats()
	logger.Info().Int64("reads", stats.Reads).Int64("bytes_read", stats.BytesRead).
		Int64("errors", stats.Errors).Int64("orphaned_workers", exec.Orphans()).Msg("hareadfs stopped")
	return errors.Join(errs...)
}
