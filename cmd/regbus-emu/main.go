// Command regbus-emu is a network emulator of a register bus board.
//
// It serves register requests from emulated memory laid out like the chosen
// board, optionally over the reliability session and the stream mux, so
// regbus-ctrl can run without hardware.
//
// Usage:
//
//	regbus-emu [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML, same file as regbus-ctrl)
//	-listen string        Listen address (default ":8192")
//	-network string       Transport: udp or tcp (default "udp")
//	-reliable             Expect the reliability session on udp
//	-board string         Board: ionpump or frontend[:N] (default "ionpump")
//	-description string   YAML device description, replaces -board
//	-simulate             Drive supply readbacks from written limits (default true)
//	-noise float          Readback noise as a fraction of value (default 0.01)
//	-interval duration    Simulation step interval (default 500ms)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Capture protocol events to this file
//	-metrics-addr string  Serve prometheus metrics on this address
//
// Examples:
//
//	# Emulate the ion pump board over plain udp
//	regbus-emu -listen :8192
//
//	# Serve the destinations bound in a controller configuration
//	regbus-emu -config ctrl.yaml -listen :8192
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/regbus/regbus-go/internal/cli"
	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/service"
)

// Flags holds the command-line options.
type Flags struct {
	ConfigFile  string
	Listen      string
	Network     string
	Reliable    bool
	Board       string
	Description string
	Simulate    bool
	Noise       float64
	Interval    time.Duration
	LogLevel    string
	ProtocolLog string
	MetricsAddr string
}

var flags Flags

func init() {
	def := config.Default()
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML, same file as regbus-ctrl)")
	flag.StringVar(&flags.Listen, "listen", ":"+strconv.Itoa(def.Port), "Listen address")
	flag.StringVar(&flags.Network, "network", def.Network, "Transport: udp or tcp")
	flag.BoolVar(&flags.Reliable, "reliable", false, "Expect the reliability session on udp")
	flag.StringVar(&flags.Board, "board", "ionpump", "Board: ionpump or frontend[:N]")
	flag.StringVar(&flags.Description, "description", "", "YAML device description, replaces -board")
	flag.BoolVar(&flags.Simulate, "simulate", true, "Drive supply readbacks from written limits")
	flag.Float64Var(&flags.Noise, "noise", 0.01, "Readback noise as a fraction of value")
	flag.DurationVar(&flags.Interval, "interval", 500*time.Millisecond, "Simulation step interval")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Capture protocol events to this file")
	flag.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := cli.NewLogger(os.Stderr, flags.LogLevel)
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

	root := space.Root()
	mem := memory.New(memory.Region{Base: root.Address(), Size: root.Size()})
	if flags.LogLevel == "debug" {
		mem.OnWrite(func(addr uint64, data []byte) {
			logger.Debug("memory write", "addr", fmt.Sprintf("0x%08x", addr), "bytes", len(data))
		})
	}

	plog, closePlog, err := cli.OpenProtocolLog(settings.ProtocolLog, settings.ProtocolLogMaxSize, logger, flags.LogLevel == "debug")
	if err != nil {
		return err
	}
	defer closePlog()

	cfg := service.EmulatorConfigFor(settings, flags.Listen)
	cfg.Logger = logger
	cfg.ProtocolLogger = plog

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

	emu, err := service.NewEmulator(mem, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := emu.Start(ctx); err != nil {
		return fmt.Errorf("failed to start emulator: %w", err)
	}
	defer func() {
		if err := emu.Stop(); err != nil {
			logger.Warn("error stopping emulator", "error", err)
		}
	}()

	if flags.Simulate {
		sim := NewSimulator(space, mem, flags.Noise, time.Now().UnixNano(), logger)
		go sim.Run(ctx, flags.Interval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received signal", "signal", sig.String())
	logger.Info("shutting down", "peers", emu.Peers())
	return nil
}

// loadSettings reads the configuration file, then applies the flags that
// were given explicitly. The emulator only uses the transport, session,
// destination and capture settings.
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
		case "network":
			settings.Network = flags.Network
		case "reliable":
			settings.Reliable = flags.Reliable
		case "description":
			settings.Description = flags.Description
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
