package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/regbus/regbus-go/pkg/metric"
)

// Mux errors.
var (
	ErrDuplicateDestination = errors.New("destination already registered")
	ErrUnknownDestination   = errors.New("unknown destination")
)

// MuxTagSize is the destination tag prepended to every message.
const MuxTagSize = 1

// MuxConfig configures a Mux.
type MuxConfig struct {
	Link    Config
	Metrics *metric.Metrics
}

// Mux shares one carrier link between several destinations. Each message
// is prefixed with a one-byte destination id; received messages are
// dispatched by that id.
type Mux struct {
	carrier Link
	cfg     Config
	metrics *metric.Metrics

	mu    sync.RWMutex
	dests map[uint8]*Destination

	startOnce sync.Once
}

// NewMux wraps carrier. Call Register for each destination, then Start.
func NewMux(carrier Link, cfg MuxConfig) *Mux {
	return &Mux{
		carrier: carrier,
		cfg:     cfg.Link.withDefaults(),
		metrics: cfg.Metrics,
		dests:   make(map[uint8]*Destination),
	}
}

// Register reserves id and returns its endpoint.
func (m *Mux) Register(id uint8) (*Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dests[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateDestination, id)
	}
	d := &Destination{id: id, mux: m, done: make(chan struct{})}
	m.dests[id] = d
	go func() {
		select {
		case <-m.carrier.Done():
			_ = d.Close()
		case <-d.done:
		}
	}()
	return d, nil
}

// Destinations returns the registered ids.
func (m *Mux) Destinations() []uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint8, 0, len(m.dests))
	for id := range m.dests {
		ids = append(ids, id)
	}
	return ids
}

// Start begins dispatching carrier messages.
func (m *Mux) Start() error {
	err := ErrAlreadyActive
	m.startOnce.Do(func() {
		err = m.carrier.Start(m.dispatch)
	})
	return err
}

// Close closes the carrier and with it every destination.
func (m *Mux) Close() error {
	return m.carrier.Close()
}

// Carrier returns the shared link.
func (m *Mux) Carrier() Link { return m.carrier }

func (m *Mux) dispatch(msg []byte) {
	if len(msg) < MuxTagSize+1 {
		m.metrics.MuxDrop("short")
		return
	}
	id := msg[0]
	m.mu.RLock()
	d := m.dests[id]
	m.mu.RUnlock()
	if d == nil {
		m.metrics.MuxDrop("unknown_destination")
		m.cfg.Logger.Debug("mux dropped message", "destination", id, "error", ErrUnknownDestination)
		return
	}
	h := d.handler()
	if h == nil {
		m.metrics.MuxDrop("not_started")
		return
	}
	h(msg[MuxTagSize:])
}

func (m *Mux) unregister(d *Destination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dests[d.id] == d {
		delete(m.dests, d.id)
	}
}

// Destination is one logical link carried by a Mux.
type Destination struct {
	id  uint8
	mux *Mux

	mu      sync.Mutex
	h       Handler
	started bool

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the destination tag.
func (d *Destination) ID() uint8 { return d.id }

func (d *Destination) handler() Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h
}

// Start routes messages tagged with this destination to h.
func (d *Destination) Start(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyActive
	}
	d.started = true
	d.h = h
	return nil
}

// Send tags msg and sends it on the carrier.
func (d *Destination) Send(msg []byte) error {
	select {
	case <-d.done:
		return ErrLinkClosed
	default:
	}
	out := make([]byte, MuxTagSize+len(msg))
	out[0] = d.id
	copy(out[MuxTagSize:], msg)
	return d.mux.carrier.Send(out)
}

// Close releases the id. The carrier stays open.
func (d *Destination) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.mux.unregister(d)
	})
	return nil
}

// Done is closed when the destination or its carrier stops.
func (d *Destination) Done() <-chan struct{} { return d.done }

// Err returns the carrier error if the carrier stopped, ErrLinkClosed after
// Close, or nil while running.
func (d *Destination) Err() error {
	if err := d.mux.carrier.Err(); err != nil {
		return err
	}
	select {
	case <-d.done:
		return ErrLinkClosed
	default:
		return nil
	}
}

// MaxMessageSize returns the carrier's limit less the tag, or 0 when the
// carrier reports none.
func (d *Destination) MaxMessageSize() int {
	limit := MessageLimit(d.mux.carrier)
	if limit == 0 {
		return 0
	}
	return max(limit-MuxTagSize, 0)
}

func (d *Destination) LocalAddr() string {
	return fmt.Sprintf("%s#%d", d.mux.carrier.LocalAddr(), d.id)
}

func (d *Destination) RemoteAddr() string {
	return fmt.Sprintf("%s#%d", d.mux.carrier.RemoteAddr(), d.id)
}

// Compile-time interface checks.
var (
	_ Link = (*StreamLink)(nil)
	_ Link = (*DatagramLink)(nil)
	_ Link = (*PipeLink)(nil)
	_ Link = (*Destination)(nil)
	_ Link = (*peerLink)(nil)
)
