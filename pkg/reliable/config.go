package reliable

import (
	"log/slog"
	"time"

	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/wire"
)

// Config configures a session. The initiator's timing parameters apply to
// both ends; segment size, window and retransmit budget are the smaller of
// the two proposals.
type Config struct {
	// MaxSegmentSize bounds the payload of one segment, so one Send.
	// Default 1400.
	MaxSegmentSize uint16 `yaml:"maxSegmentSize"`

	// Window bounds unacknowledged segments. Default 16, at most
	// wire.SackBits.
	Window uint16 `yaml:"window"`

	// MaxRetransmits bounds retransmissions of one segment before the
	// session is declared lost. Default 8.
	MaxRetransmits uint8 `yaml:"maxRetransmits"`

	// RetransmitTimeout is the first retransmission delay. It doubles on
	// each retry up to MaxRetransmitTimeout. Defaults 100ms and 2s.
	RetransmitTimeout    time.Duration `yaml:"retransmitTimeout"`
	MaxRetransmitTimeout time.Duration `yaml:"maxRetransmitTimeout"`

	// Keepalive is the idle time before a probe is sent. Default 1s.
	Keepalive time.Duration `yaml:"keepalive"`

	// ConnTimeout tears the session down after this long without hearing
	// from the peer. Default 5s.
	ConnTimeout time.Duration `yaml:"connTimeout"`

	// InboxSize is the number of received segments buffered ahead of the
	// session goroutine. Default 1024.
	InboxSize int `yaml:"-"`

	Logger         *slog.Logger `yaml:"-"`
	ProtocolLogger log.Logger   `yaml:"-"`

	// ConnectionID tags log output. Default the session UUID.
	ConnectionID string          `yaml:"-"`
	Metrics      *metric.Metrics `yaml:"-"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxSegmentSize:       1400,
		Window:               16,
		MaxRetransmits:       8,
		RetransmitTimeout:    100 * time.Millisecond,
		MaxRetransmitTimeout: 2 * time.Second,
		Keepalive:            time.Second,
		ConnTimeout:          5 * time.Second,
		InboxSize:            1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = d.MaxSegmentSize
	}
	if c.Window == 0 {
		c.Window = d.Window
	}
	c.Window = min(c.Window, wire.SackBits)
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = d.MaxRetransmits
	}
	if c.RetransmitTimeout <= 0 {
		c.RetransmitTimeout = d.RetransmitTimeout
	}
	if c.MaxRetransmitTimeout < c.RetransmitTimeout {
		c.MaxRetransmitTimeout = max(d.MaxRetransmitTimeout, c.RetransmitTimeout)
	}
	if c.Keepalive <= 0 {
		c.Keepalive = d.Keepalive
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = d.ConnTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}

func (c Config) synParams() wire.SynParams {
	return wire.SynParams{
		MaxSegmentSize:      c.MaxSegmentSize,
		Window:              c.Window,
		MaxRetransmits:      c.MaxRetransmits,
		RetransmitTimeoutMs: uint32(c.RetransmitTimeout / time.Millisecond),
		KeepaliveMs:         uint32(c.Keepalive / time.Millisecond),
		ConnTimeoutMs:       uint32(c.ConnTimeout / time.Millisecond),
	}
}

// negotiate combines the initiator's proposal with the responder's limits.
func negotiate(local, remote wire.SynParams) wire.SynParams {
	p := remote
	p.MaxSegmentSize = min(local.MaxSegmentSize, remote.MaxSegmentSize)
	p.Window = min(local.Window, remote.Window, wire.SackBits)
	p.MaxRetransmits = min(local.MaxRetransmits, remote.MaxRetransmits)
	if p.RetransmitTimeoutMs == 0 {
		p.RetransmitTimeoutMs = local.RetransmitTimeoutMs
	}
	if p.KeepaliveMs == 0 {
		p.KeepaliveMs = local.KeepaliveMs
	}
	if p.ConnTimeoutMs == 0 {
		p.ConnTimeoutMs = local.ConnTimeoutMs
	}
	return p
}

// apply adopts negotiated parameters.
func (c Config) apply(p wire.SynParams) Config {
	c.MaxSegmentSize = p.MaxSegmentSize
	c.Window = p.Window
	c.MaxRetransmits = p.MaxRetransmits
	c.RetransmitTimeout = time.Duration(p.RetransmitTimeoutMs) * time.Millisecond
	c.Keepalive = time.Duration(p.KeepaliveMs) * time.Millisecond
	c.ConnTimeout = time.Duration(p.ConnTimeoutMs) * time.Millisecond
	c.MaxRetransmitTimeout = max(c.MaxRetransmitTimeout, c.RetransmitTimeout)
	return c
}
