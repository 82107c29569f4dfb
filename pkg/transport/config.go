package transport

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/regbus/regbus-go/pkg/log"
)

// Config configures a carrier link.
type Config struct {
	// MaxMessageSize bounds one message. Default DefaultMaxMessageSize.
	MaxMessageSize uint32

	// InboxSize is the number of received messages buffered ahead of a
	// slow handler on server-side datagram links. Default 256.
	InboxSize int

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// ConnectionID tags log output. Default a random UUID.
	ConnectionID string
}

// DefaultConfig returns the default carrier configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		InboxSize:      256,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	if c.ConnectionID == "" {
		c.ConnectionID = uuid.New().String()
	}
	return c
}

// logError records a carrier failure in both logs.
func (c Config) logError(remote, msg string, err error) {
	c.Logger.Warn(msg, "conn", c.ConnectionID, "remote", remote, "error", err)
	c.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ConnectionID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   remote,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: msg,
			Context: err.Error(),
		},
	})
}
