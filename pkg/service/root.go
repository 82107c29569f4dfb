package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/model"
)

// Root owns an address space and the connection serving it.
type Root struct {
	space  *model.Space
	cfg    Config
	logger *slog.Logger
	plog   log.Logger

	manager *connection.Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	state ServiceState
	bus   *bus // nil while disconnected

	pollMu sync.Mutex
	poll   *poller
}

// New validates cfg and returns an idle Root for space.
func New(space *model.Space, cfg Config) (*Root, error) {
	if space == nil {
		return nil, fmt.Errorf("%w: nil address space", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.ProtocolLogger = log.OrNoop(cfg.ProtocolLogger)
	if cfg.Settings.Simulate && cfg.Memory == nil {
		cfg.Memory = memory.New()
	}

	r := &Root{
		space:  space,
		cfg:    cfg,
		logger: cfg.Logger,
		plog:   cfg.ProtocolLogger,
		state:  StateIdle,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	mcfg := connection.DefaultManagerConfig()
	mcfg.Backoff = cfg.Settings.Reconnect
	mcfg.Logger = cfg.Logger
	mcfg.ProtocolLogger = cfg.ProtocolLogger
	r.manager = connection.NewManager(r.connect, mcfg)
	return r, nil
}

// Space returns the address space.
func (r *Root) Space() *model.Space { return r.space }

// Memory returns the emulated memory in simulate mode, nil otherwise.
func (r *Root) Memory() *memory.Memory {
	if !r.cfg.Settings.Simulate {
		return nil
	}
	return r.cfg.Memory
}

// State returns the service state.
func (r *Root) State() ServiceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ConnectionState returns the link state. Simulate mode reports
// StateConnected while running.
func (r *Root) ConnectionState() connection.State {
	if r.cfg.Settings.Simulate {
		if r.State() == StateRunning {
			return connection.StateConnected
		}
		return connection.StateDisconnected
	}
	return r.manager.State()
}

// WaitConnected blocks until a connection is up or ctx ends.
func (r *Root) WaitConnected(ctx context.Context) error {
	if r.cfg.Settings.Simulate {
		return r.running()
	}
	return r.manager.WaitConnected(ctx)
}

func (r *Root) setState(s ServiceState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Root) running() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateRunning {
		return ErrNotStarted
	}
	return nil
}

// Start binds the address space and makes the first connection. A failed
// first connection is returned and leaves the Root idle. When polling is
// enabled in the settings it starts too.
func (r *Root) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateStarting
	r.mu.Unlock()

	if err := r.bind(); err != nil {
		r.setState(StateIdle)
		return err
	}
	if !r.cfg.Settings.Simulate {
		if err := r.manager.Connect(ctx); err != nil {
			r.setState(StateIdle)
			return err
		}
		r.manager.Start()
	}
	r.setState(StateRunning)
	r.logger.Info("root started", "root", r.space.Root().Name(), "mode", r.mode())

	if r.cfg.Settings.Poll.Enabled {
		if err := r.StartPolling(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops polling and the connection. It is safe to call more than once.
func (r *Root) Close() error {
	r.mu.Lock()
	if r.state == StateStopping || r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	r.mu.Unlock()

	r.StopPolling()
	r.cancel()
	r.manager.Close()

	r.mu.Lock()
	b := r.bus
	r.bus = nil
	r.state = StateStopped
	r.mu.Unlock()
	if b != nil {
		b.close()
	}
	r.logger.Info("root stopped", "root", r.space.Root().Name())
	return nil
}

func (r *Root) mode() string {
	s := r.cfg.Settings
	switch {
	case s.Simulate:
		return "simulate"
	case s.Reliable:
		return s.Network + "+reliable/" + s.Mux
	default:
		return s.Network + "/" + s.Mux
	}
}

// Resolve returns the absolute address of a device or register.
func (r *Root) Resolve(path string) (uint64, error) {
	return r.space.Resolve(path)
}

// Read reads the register at path from hardware.
func (r *Root) Read(ctx context.Context, path string) (uint64, error) {
	if err := r.running(); err != nil {
		return 0, err
	}
	reg, err := r.space.Register(path)
	if err != nil {
		return 0, err
	}
	return reg.Read(ctx)
}

// Write writes v to the register at path.
func (r *Root) Write(ctx context.Context, path string, v uint64) error {
	if err := r.running(); err != nil {
		return err
	}
	reg, err := r.space.Register(path)
	if err != nil {
		return err
	}
	return reg.Write(ctx, v)
}

// Get returns the value of the link at path, reading hardware only when
// the cached value is dirty.
func (r *Root) Get(ctx context.Context, path string) (float64, error) {
	if err := r.running(); err != nil {
		return 0, err
	}
	l, err := r.space.Link(path)
	if err != nil {
		return 0, err
	}
	return l.Get(ctx)
}

// Set writes v through the link's inverse transform.
func (r *Root) Set(ctx context.Context, path string, v float64) error {
	if err := r.running(); err != nil {
		return err
	}
	l, err := r.space.Link(path)
	if err != nil {
		return err
	}
	return l.Set(ctx, v)
}

// Stage records v for the link without bus transactions.
func (r *Root) Stage(ctx context.Context, path string, v float64) error {
	if err := r.running(); err != nil {
		return err
	}
	l, err := r.space.Link(path)
	if err != nil {
		return err
	}
	return l.Stage(ctx, v)
}

// RawRead reads n bytes at an absolute address, bypassing the register
// model.
func (r *Root) RawRead(ctx context.Context, addr uint64, n int) ([]byte, error) {
	if err := r.running(); err != nil {
		return nil, err
	}
	acc, err := r.space.AccessorAt(addr)
	if err != nil {
		return nil, err
	}
	return acc.Read(ctx, addr, n)
}

// RawWrite writes data at an absolute address, bypassing the register
// model. Cached register values are not updated.
func (r *Root) RawWrite(ctx context.Context, addr uint64, data []byte) error {
	if err := r.running(); err != nil {
		return err
	}
	acc, err := r.space.AccessorAt(addr)
	if err != nil {
		return err
	}
	return acc.Write(ctx, addr, data)
}
