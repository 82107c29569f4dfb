// Command regbus-ctrl connects to a register bus peer and exposes the board's
// registers and linked variables.
//
// Usage:
//
//	regbus-ctrl [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-host string          Peer host (default "127.0.0.1")
//	-port int             Peer port (default 8192)
//	-network string       Transport: udp or tcp (default "udp")
//	-reliable             Run the reliability session over udp
//	-simulate             Serve all access from in-process emulated memory
//	-board string         Board: ionpump or frontend[:N] (default "ionpump")
//	-description string   YAML device description, replaces -board
//	-poll duration        Enable background polling at this interval
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Capture protocol events to this file
//	-metrics-addr string  Serve prometheus metrics on this address
//	-interactive          Enable interactive command mode
//
// Flags given on the command line override the configuration file.
//
// Examples:
//
//	# Explore the ion pump board without hardware
//	regbus-ctrl -simulate -interactive
//
//	# Connect to an emulator over the reliability session
//	regbus-ctrl -host 10.0.0.5 -reliable -interactive
//
//	# Poll every second and export metrics
//	regbus-ctrl -config ctrl.yaml -poll 1s -metrics-addr :9102
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/regbus/regbus-go/cmd/regbus-ctrl/interactive"
	"github.com/regbus/regbus-go/internal/cli"
	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/service"
)

// Flags holds the command-line options.
type Flags struct {
	ConfigFile  string
	Host        string
	Port        int
	Network     string
	Reliable    bool
	Simulate    bool
	Board       string
	Description string
	Poll        time.Duration
	LogLevel    string
	ProtocolLog string
	MetricsAddr string
	Interactive bool
}

var flags Flags

func init() {
	def := config.Default()
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Host, "host", def.Host, "Peer host")
	flag.IntVar(&flags.Port, "port", def.Port, "Peer port")
	flag.StringVar(&flags.Network, "network", def.Network, "Transport: udp or tcp")
	flag.BoolVar(&flags.Reliable, "reliable", false, "Run the reliability session over udp")
	flag.BoolVar(&flags.Simulate, "simulate", false, "Serve all access from in-process emulated memory")
	flag.StringVar(&flags.Board, "board", "ionpump", "Board: ionpump or frontend[:N]")
	flag.StringVar(&flags.Description, "description", "", "YAML device description, replaces -board")
	flag.DurationVar(&flags.Poll, "poll", 0, "Enable background polling at this interval")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Capture protocol events to this file")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	out := cli.NewSwitchWriter(os.Stderr)
	logger, err := cli.NewLogger(out, flags.LogLevel)
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	space, err := cli.LoadSpace(flags.Board, settings.Description)
	if err != nil {
		return fmt.Errorf("failed to build address space: %w", err)
	}

	plog, closePlog, err := cli.OpenProtocolLog(settings.ProtocolLog, settings.ProtocolLogMaxSize, logger, flags.LogLevel == "debug")
	if err != nil {
		return err
	}
	defer closePlog()

	cfg := service.Config{
		Settings:       settings,
		Logger:         logger,
		ProtocolLogger: plog,
	}
	if settings.MetricsAddr != "" {
		m, err := cli.StartMetrics(settings.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = m.Stop(ctx)
		}()
		cfg.Metrics = m.Metrics
	}

	root, err := service.New(space, cfg)
	if err != nil {
		return err
	}

	logger.Info("regbus controller",
		"board", flags.Board,
		"simulate", settings.Simulate,
		"peer", settings.Address(),
		"network", settings.Network,
		"reliable", settings.Reliable,
		"mux", settings.Mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := root.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := root.Close(); err != nil {
			logger.Warn("error closing controller", "error", err)
		}
	}()
	logger.Info("controller started", "state", root.State().String())

	if flags.Interactive {
		sh, err := interactive.New(root)
		if err != nil {
			return err
		}
		// Keep log lines from tearing the prompt.
		out.Set(sh.Stdout())
		go sh.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return nil
}

// loadSettings reads the configuration file, then applies the flags that
// were given explicitly.
func loadSettings() (config.Config, error) {
	settings := config.Default()
	if flags.ConfigFile != "" {
		var err error
		if settings, err = config.Load(flags.ConfigFile); err != nil {
			return config.Config{}, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			settings.Host = flags.Host
		case "port":
			settings.Port = flags.Port
		case "network":
			settings.Network = flags.Network
		case "reliable":
			settings.Reliable = flags.Reliable
		case "simulate":
			settings.Simulate = flags.Simulate
		case "description":
			settings.Description = flags.Description
		case "poll":
			settings.Poll.Enabled = flags.Poll > 0
			settings.Poll.Interval = flags.Poll
		case "protocol-log":
			settings.ProtocolLog = flags.ProtocolLog
		case "metrics-addr":
			settings.MetricsAddr = flags.MetricsAddr
		}
	})

	if err := settings.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}
