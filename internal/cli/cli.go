// Package cli holds the startup plumbing shared by the regbus commands:
// logger construction, board selection, protocol capture and metrics.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/examples"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/model"
)

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q (use: debug, info, warn, error)", s)
	}
	return l, nil
}

// NewLogger returns a text logger writing to w at level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// SwitchWriter forwards writes to a target that can be replaced at runtime,
// e.g. when an interactive prompt takes over the terminal.
type SwitchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSwitchWriter returns a writer forwarding to w.
func NewSwitchWriter(w io.Writer) *SwitchWriter {
	return &SwitchWriter{w: w}
}

// Set replaces the target.
func (s *SwitchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *SwitchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// LoadSpace builds the address space named by board, or loads description
// when it is non-empty. Boards are "ionpump" and "frontend[:N]".
func LoadSpace(board, description string) (*model.Space, error) {
	if description != "" {
		return config.LoadDescription(description)
	}
	name, arg, _ := strings.Cut(strings.ToLower(board), ":")
	switch name {
	case "ionpump", "":
		if arg != "" {
			return nil, fmt.Errorf("board ionpump takes no argument")
		}
		return examples.NewIonPump()
	case "frontend":
		n := 1
		if arg != "" {
			var err error
			if n, err = strconv.Atoi(arg); err != nil {
				return nil, fmt.Errorf("invalid front-end board count %q", arg)
			}
		}
		return examples.NewFrontEnd(n)
	default:
		return nil, fmt.Errorf("unknown board %q (use: ionpump, frontend[:N])", board)
	}
}

// OpenProtocolLog opens a capture file at path, rotated past maxSize bytes
// when maxSize is positive. When debug is set, events are also written to
// logger. The returned close function is never nil.
func OpenProtocolLog(path string, maxSize int64, logger *slog.Logger, debug bool) (log.Logger, func() error, error) {
	var loggers []log.Logger
	closeFn := func() error { return nil }
	if path != "" {
		fl, err := log.NewFileLogger(path, log.WithMaxSize(maxSize))
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = fl.Close
	}
	if debug && logger != nil {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	if len(loggers) == 0 {
		return nil, closeFn, nil
	}
	return log.NewMultiLogger(loggers...), closeFn, nil
}

// Metrics is a started metrics endpoint.
type Metrics struct {
	*metric.Metrics
	server *metric.Server
}

// StartMetrics registers a fresh metric set and serves it on addr.
func StartMetrics(addr string, logger *slog.Logger) (*Metrics, error) {
	m := metric.New()
	reg, err := metric.NewRegistry(m)
	if err != nil {
		return nil, err
	}
	srv := metric.NewServer(addr, "", reg, logger)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return &Metrics{Metrics: m, server: srv}, nil
}

// Server returns the HTTP endpoint.
func (m *Metrics) Server() *metric.Server { return m.server }

// Stop shuts the endpoint down.
func (m *Metrics) Stop(ctx context.Context) error {
	return m.server.Stop(ctx)
}
