package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/reliable"
)

// Mux modes.
const (
	// MuxSingle carries one register stream on the link.
	MuxSingle = "single"

	// MuxDestinations tags each frame with the destination bound to the
	// subtree it addresses.
	MuxDestinations = "mux"
)

// Config is the process configuration. It is loaded once at startup.
type Config struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Network string `yaml:"network"` // "udp" or "tcp"

	// Reliable runs the reliability session over the datagram link.
	Reliable bool `yaml:"reliable"`

	// Mux is MuxSingle or MuxDestinations.
	Mux string `yaml:"mux"`

	// Destinations binds device paths to mux destination ids.
	Destinations []Destination `yaml:"destinations"`

	// Simulate serves every access from in-process emulated memory.
	Simulate bool `yaml:"simulate"`

	Poll      Poll                     `yaml:"poll"`
	Request   Request                  `yaml:"request"`
	Reconnect connection.BackoffConfig `yaml:"reconnect"`
	Session   reliable.Config          `yaml:"session"`

	// ProtocolLog is a CBOR capture file; empty disables capture.
	ProtocolLog string `yaml:"protocolLog"`

	// ProtocolLogMaxSize rotates the capture past this many bytes; 0 never
	// rotates.
	ProtocolLogMaxSize int64 `yaml:"protocolLogMaxSize"`

	// MetricsAddr serves /metrics when set, e.g. ":9102".
	MetricsAddr string `yaml:"metricsAddr"`

	// Description is an optional YAML device description file.
	Description string `yaml:"description"`
}

// Destination binds a device subtree to a mux destination.
type Destination struct {
	Path string `yaml:"path"`
	ID   uint8  `yaml:"id"`
}

// Poll configures the background refresh task.
type Poll struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// Paths lists registers, links or devices to refresh. Empty means every
	// readable register and link.
	Paths []string `yaml:"paths"`
}

// Request configures the register client.
type Request struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	MaxInFlight int           `yaml:"maxInFlight"`
	MaxWords    uint32        `yaml:"maxWords"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    8192,
		Network: "udp",
		Mux:     MuxSingle,
		Poll:    Poll{Interval: time.Second},
		Request: Request{
			Timeout:     500 * time.Millisecond,
			MaxAttempts: 3,
			MaxInFlight: 32,
			MaxWords:    256,
		},
		Reconnect: connection.DefaultBackoffConfig(),
		Session:   reliable.DefaultConfig(),
	}
}

// Parse decodes YAML over Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, withFile(path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and combinations.
func (c Config) Validate() error {
	var errs []error
	if !c.Simulate {
		if c.Host == "" {
			errs = append(errs, errors.New("host is required"))
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
		}
	}
	switch c.Network {
	case "udp":
	case "tcp":
		if c.Reliable {
			errs = append(errs, errors.New("reliable requires network udp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown network %q", c.Network))
	}

	switch c.Mux {
	case MuxSingle:
		if len(c.Destinations) > 0 {
			errs = append(errs, errors.New("destinations require mux mode"))
		}
	case MuxDestinations:
		if len(c.Destinations) == 0 {
			errs = append(errs, errors.New("mux mode requires destinations"))
		}
		// Several subtrees may share a destination id; a path may not be
		// bound twice.
		paths := make(map[string]bool)
		for _, d := range c.Destinations {
			if paths[d.Path] {
				errs = append(errs, fmt.Errorf("path %q bound twice", d.Path))
			}
			paths[d.Path] = true
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mux mode %q", c.Mux))
	}

	if c.Poll.Enabled && c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Request.Timeout < 0 || c.Request.MaxAttempts < 0 || c.Request.MaxInFlight < 0 {
		errs = append(errs, errors.New("request limits must not be negative"))
	}
	if c.ProtocolLogMaxSize < 0 {
		errs = append(errs, errors.New("protocolLogMaxSize must not be negative"))
	}
	return errors.Join(errs...)
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
