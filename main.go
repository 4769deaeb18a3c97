package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/direttanode/cmd"
	"github.com/smazurov/direttanode/internal/bridge"
	"github.com/smazurov/direttanode/internal/config"
	"github.com/smazurov/direttanode/internal/diretta"
	"github.com/smazurov/direttanode/internal/events"
	"github.com/smazurov/direttanode/internal/logging"
	"github.com/smazurov/direttanode/internal/metrics"
	"github.com/smazurov/direttanode/internal/pipe"
	"github.com/smazurov/direttanode/internal/process"
)

// Exit codes: 1 for any init failure, 2 for a stream protocol desync.
const (
	exitInitFailure = 1
	exitDesync      = 2
)

// Options is the flat flag/TOML/env surface.
type Options struct {
	Config string

	// Squeezelite passthrough.
	Server    string `toml:"squeezelite.server" env:"SERVER"`
	Name      string `toml:"squeezelite.name" env:"NAME"`
	MAC       string `toml:"squeezelite.mac" env:"MAC"`
	Model     string `toml:"squeezelite.model" env:"MODEL"`
	Codecs    string `toml:"squeezelite.codecs" env:"CODECS"`
	Rates     string `toml:"squeezelite.rates" env:"RATES"`
	Depth     int    `toml:"squeezelite.depth" env:"DEPTH"`
	WavHeader bool   `toml:"squeezelite.wav_header" env:"WAV_HEADER"`
	DSD       string `toml:"squeezelite.dsd" env:"DSD"`

	// Child binary.
	Squeezelite string `toml:"squeezelite.binary" env:"SQUEEZELITE"`

	// Target selection and Diretta tuning.
	Target      int    `toml:"diretta.target" env:"TARGET"`
	ListTargets bool
	ThreadMode  int    `toml:"diretta.thread_mode" env:"THREAD_MODE"`
	CycleTime   int    `toml:"diretta.cycle_time" env:"CYCLE_TIME"`
	MTU         uint32 `toml:"diretta.mtu" env:"MTU"`

	// Logging and observability.
	Verbose     bool
	Quiet       bool
	LogFormat   string `toml:"logging.format" env:"LOG_FORMAT"`
	MetricsAddr string `toml:"metrics.addr" env:"METRICS_ADDR"`
}

func main() {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "direttanode",
		Short: "Squeezelite to Diretta bridge",
		Long: `direttanode runs squeezelite as a child process and streams its ` +
			`audio output to a Diretta-protocol network DAC, handling PCM, ` +
			`native DSD and DoP with gapless format switching.`,
		Run: func(c *cobra.Command, _ []string) {
			os.Exit(run(c, opts))
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.Server, "server", "s", "", "LMS server address host[:port] (default: autodiscovery)")
	flags.StringVarP(&opts.Name, "name", "n", "direttanode", "player name")
	flags.StringVarP(&opts.MAC, "mac", "m", "", "player MAC address ab:cd:ef:12:34:56")
	flags.StringVarP(&opts.Model, "model", "M", "SqueezeLite", "model name")
	flags.StringVarP(&opts.Codecs, "codecs", "c", "", "restrict codecs (flac,pcm,mp3,ogg,aac,dsd,...)")
	flags.StringVarP(&opts.Rates, "rates", "r", "", "supported sample rates (default 44100-768000)")
	flags.IntVarP(&opts.Depth, "depth", "a", 0, "sample format: 16, 24 or 32")
	flags.BoolVarP(&opts.WavHeader, "wav-header", "W", false, "read wave/aiff format from file header")
	flags.StringVarP(&opts.DSD, "dsd", "D", "", "DSD output mode: u32be, u32le or dop")
	flags.Lookup("dsd").NoOptDefVal = "u32be"
	flags.StringVar(&opts.Squeezelite, "squeezelite", "", "path to the squeezelite binary")

	flags.IntVarP(&opts.Target, "target", "t", 0, "Diretta target number (1-based, default first)")
	flags.BoolVarP(&opts.ListTargets, "list-targets", "l", false, "list Diretta targets and exit")
	flags.IntVar(&opts.ThreadMode, "thread-mode", 1, "SDK thread mode bitmask")
	flags.IntVar(&opts.CycleTime, "cycle-time", 0, "transfer cycle time in microseconds (default auto)")
	flags.Uint32Var(&opts.MTU, "mtu", 0, "MTU override in bytes (default auto-measured)")

	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "warnings and errors only")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Prometheus listener address (empty: disabled)")
	flags.StringVar(&opts.Config, "config", "direttanode.toml", "path to configuration file")

	root.AddCommand(cmd.CreateListTargetsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitInitFailure)
	}
}

func run(c *cobra.Command, opts *Options) int {
	if err := config.Load(opts, c); err != nil {
		logging.GetLogger("main").Error("Failed to load config", "error", err)
		return exitInitFailure
	}

	level := "info"
	switch {
	case opts.Verbose:
		level = "debug"
	case opts.Quiet:
		level = "warn"
	}
	logging.Initialize(logging.Config{
		Level:   level,
		Format:  opts.LogFormat,
		Modules: config.ModuleLevels(opts.Config),
	})
	defer func() {
		if dropped := logging.Shutdown(); dropped > 0 {
			os.Stderr.WriteString("warning: log records dropped under load\n")
		}
	}()

	logger := logging.GetLogger("main")

	if opts.ListTargets {
		if err := diretta.ListTargets(os.Stdout); err != nil {
			logger.Error("Target listing failed", "error", err)
			return exitInitFailure
		}
		return 0
	}

	bus := events.New()

	transport := diretta.New(diretta.Config{
		CycleTime:   time.Duration(opts.CycleTime) * time.Microsecond,
		ThreadMode:  opts.ThreadMode,
		MTU:         opts.MTU,
		TargetIndex: opts.Target - 1,
		PlayerName:  opts.Name,
	}, logging.GetLogger("diretta"), bus)

	if err := transport.Enable(); err != nil {
		logger.Error("Failed to enable Diretta transport", "error", err)
		logger.Error("Check that a target is reachable; use list-targets to scan")
		return exitInitFailure
	}
	defer transport.Disable()

	child := process.NewRunner(process.SqueezeliteOptions{
		BinaryPath: opts.Squeezelite,
		Server:     opts.Server,
		Name:       opts.Name,
		MAC:        opts.MAC,
		Model:      opts.Model,
		Codecs:     opts.Codecs,
		Rates:      opts.Rates,
		Depth:      opts.Depth,
		WavHeader:  opts.WavHeader,
		DSD:        opts.DSD != "",
		DSDFormat:  opts.DSD,
		Verbose:    opts.Verbose,
	}.Args(), logging.GetLogger("process"), logging.GetLogger("squeezelite"))

	if err := child.Start(); err != nil {
		logger.Error("Failed to start squeezelite", "error", err)
		return exitInitFailure
	}

	reader := pipe.NewReader(child.Stdout())
	pump := bridge.New(reader, transport, logging.GetLogger("bridge"), bus)

	var metricsServer interface{ Close() error }
	if opts.MetricsAddr != "" {
		collector := metrics.NewCollector(transport, pump, bus)
		defer collector.Close()
		metricsServer = metrics.Serve(opts.MetricsAddr, collector, logging.GetLogger("metrics"))
	}

	watcher := config.NewWatcher(opts.Config, func(modules map[string]string) {
		for module, moduleLevel := range modules {
			logging.SetModuleLevel(module, moduleLevel)
		}
	}, logging.GetLogger("config"))
	if err := watcher.Start(); err != nil {
		logger.Debug("Config watcher not started", "error", err)
	} else {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGUSR1 {
				transport.DumpStats()
				headers, bytesIn, silence := pump.Stats()
				logger.Info("Bridge stats", "headers", headers,
					"bytes_in", bytesIn, "silence_chunks", silence)
				continue
			}
			logger.Info("Signal received, shutting down", "signal", sig.String())
			child.Shutdown()
			cancel()
			return
		}
	}()

	err := pump.Run(ctx)

	child.Shutdown()
	exitCode := child.Wait()
	events.Publish(bus, events.ChildExited{ExitCode: exitCode})

	transport.Disable()
	if metricsServer != nil {
		_ = metricsServer.Close()
	}

	if errors.Is(err, bridge.ErrStreamDesync) {
		return exitDesync
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bridge terminated", "error", err)
		return exitInitFailure
	}
	logger.Info("Stopped")
	return 0
}
