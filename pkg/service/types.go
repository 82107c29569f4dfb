package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/metric"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotConnected   = errors.New("not connected")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrPolling        = errors.New("polling already running")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - first connection in progress.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Root.
type Config struct {
	// Settings is the process configuration, usually from config.Load.
	Settings config.Config

	// Memory backs simulate mode. Default a fresh unmapped memory.
	Memory *memory.Memory

	// Logger is the operational logger. Default slog.Default().
	Logger *slog.Logger

	// ProtocolLogger captures frames, segments and state changes.
	ProtocolLogger log.Logger

	// Metrics records transport, session and poll statistics. May be nil.
	Metrics *metric.Metrics
}

// DefaultConfig returns a Config with config.Default settings.
func DefaultConfig() Config {
	return Config{Settings: config.Default()}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
