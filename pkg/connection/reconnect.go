package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/regbus/regbus-go/pkg/log"
)

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State is the link state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the link. It returns nil once the link is usable.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds a single dial. Default 10s.
	AttemptTimeout time.Duration

	// AutoReconnect re-dials after NotifyConnectionLost.
	AutoReconnect bool

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	ConnectionID   string
}

// DefaultManagerConfig returns a config with reconnection enabled.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: 10 * time.Second,
		AutoReconnect:  true,
	}
}

// Manager tracks link state and reconnects in the background.
type Manager struct {
	mu sync.Mutex

	state     State
	connected chan struct{} // closed while StateConnected

	connect ConnectFunc
	cfg     ManagerConfig
	backoff *Backoff
	logger  *slog.Logger
	plog    log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}

	onStateChange func(old, new State)
}

// NewManager returns a disconnected manager.
func NewManager(connect ConnectFunc, cfg ManagerConfig) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		state:     StateDisconnected,
		connected: make(chan struct{}),
		connect:   connect,
		cfg:       cfg,
		backoff:   NewBackoff(cfg.Backoff),
		logger:    logger,
		plog:      log.OrNoop(cfg.ProtocolLogger),
		ctx:       ctx,
		cancel:    cancel,
		kick:      make(chan struct{}, 1),
	}
}

// OnStateChange registers a callback run after every transition, outside
// the manager lock.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts since the last success.
func (m *Manager) Attempts() int { return m.backoff.Attempts() }

// Start launches the background reconnect loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Connect dials once in the caller's goroutine.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	m.transition(StateConnecting, "")
	if err := m.connect(ctx); err != nil {
		m.transition(StateDisconnected, err.Error())
		return fmt.Errorf("connect: %w", err)
	}
	m.backoff.Reset()
	m.transition(StateConnected, "")
	return nil
}

// NotifyConnectionLost records a lost link and, with AutoReconnect,
// schedules re-dialing.
func (m *Manager) NotifyConnectionLost(cause error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if !m.cfg.AutoReconnect {
		m.transition(StateDisconnected, reason)
		return
	}
	m.transition(StateReconnecting, reason)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// WaitConnected blocks until the link is up, ctx ends or the manager closes.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, ch := m.state, m.connected
		m.mu.Unlock()
		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return ErrManagerClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return ErrManagerClosed
		}
	}
}

// Close stops the reconnect loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.transition(StateClosed, "")
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) transition(to State, reason string) {
	m.mu.Lock()
	from := m.state
	if from == to || from == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = to
	if to == StateConnected {
		close(m.connected)
	} else if from == StateConnected {
		m.connected = make(chan struct{})
	}
	cb := m.onStateChange
	m.mu.Unlock()

	attrs := []any{"from", from, "to", to}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	m.logger.Info("link state", attrs...)
	m.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ConnectionID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	if cb != nil {
		cb(from, to)
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.kick:
			m.redial()
		}
	}
}

func (m *Manager) redial() {
	for {
		if m.State() != StateReconnecting {
			return
		}
		delay := m.backoff.Next()
		m.logger.Debug("reconnecting", "attempt", m.backoff.Attempts(), "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.AttemptTimeout)
		err := m.connect(ctx)
		cancel()
		if err == nil {
			m.backoff.Reset()
			m.transition(StateConnected, "")
			return
		}
		m.logger.Warn("reconnect failed", "attempt", m.backoff.Attempts(), "error", err)
	}
}
