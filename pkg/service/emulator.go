package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/interaction"
	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/model"
	"github.com/regbus/regbus-go/pkg/reliable"
	"github.com/regbus/regbus-go/pkg/transport"
)

// DefaultAcceptTimeout bounds the reliability handshake of a new peer.
const DefaultAcceptTimeout = 5 * time.Second

// EmulatorConfig configures an Emulator.
type EmulatorConfig struct {
	// Network is "udp" or "tcp".
	Network string

	// Address to listen on, e.g. ":8192".
	Address string

	// Reliable expects a reliability session on every peer link.
	Reliable bool

	// Destinations lists the mux destination ids served. Empty serves an
	// untagged register stream.
	Destinations []uint8

	Session reliable.Config
	Server  interaction.ServerConfig

	// AcceptTimeout bounds the reliability handshake. Default
	// DefaultAcceptTimeout.
	AcceptTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metric.Metrics
}

// EmulatorConfigFor returns the emulator matching a controller's settings,
// listening on addr.
func EmulatorConfigFor(s config.Config, addr string) EmulatorConfig {
	cfg := EmulatorConfig{
		Network:  s.Network,
		Address:  addr,
		Reliable: s.Reliable,
		Session:  s.Session,
		Server:   interaction.ServerConfig{MaxWords: s.Request.MaxWords},
	}
	if s.Mux == config.MuxDestinations {
		seen := make(map[uint8]bool)
		for _, d := range s.Destinations {
			if !seen[d.ID] {
				seen[d.ID] = true
				cfg.Destinations = append(cfg.Destinations, d.ID)
			}
		}
	}
	return cfg
}

// Emulator serves register requests from an Accessor, usually a
// memory.Memory, to any number of peers. It is the device side of Root.
type Emulator struct {
	acc    model.Accessor
	cfg    EmulatorConfig
	logger *slog.Logger
	plog   log.Logger

	server *transport.Server

	mu     sync.Mutex
	state  ServiceState
	peers  int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmulator returns a stopped emulator backed by acc.
func NewEmulator(acc model.Accessor, cfg EmulatorConfig) (*Emulator, error) {
	if acc == nil {
		return nil, fmt.Errorf("%w: nil accessor", ErrInvalidConfig)
	}
	if cfg.Reliable && cfg.Network == "tcp" {
		return nil, fmt.Errorf("%w: reliable requires network udp", ErrInvalidConfig)
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.ProtocolLogger = log.OrNoop(cfg.ProtocolLogger)

	e := &Emulator{
		acc:    acc,
		cfg:    cfg,
		logger: cfg.Logger,
		plog:   cfg.ProtocolLogger,
		state:  StateIdle,
	}
	srv, err := transport.NewServer(transport.ServerConfig{
		Network: cfg.Network,
		Address: cfg.Address,
		Link: transport.Config{
			Logger:         cfg.Logger,
			ProtocolLogger: cfg.ProtocolLogger,
		},
		OnConnect: e.onConnect,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.server = srv
	return e, nil
}

// Start listens for peers.
func (e *Emulator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.server.Start(e.ctx); err != nil {
		e.cancel()
		return err
	}
	e.state = StateRunning
	e.logger.Info("emulator listening", "network", e.cfg.Network, "addr", e.server.Addr().String(),
		"reliable", e.cfg.Reliable, "destinations", e.cfg.Destinations)
	return nil
}

// Stop closes every peer and the listener.
func (e *Emulator) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.state = StateStopping
	e.cancel()
	e.mu.Unlock()

	err := e.server.Stop()
	e.wg.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	return err
}

// Addr returns the listen address once started.
func (e *Emulator) Addr() net.Addr { return e.server.Addr() }

// Peers returns the number of peers being served.
func (e *Emulator) Peers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers
}

func (e *Emulator) onConnect(l transport.Link) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		_ = l.Close()
		return
	}
	e.peers++
	e.wg.Add(1)
	ctx := e.ctx
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		err := e.serve(ctx, l)
		e.mu.Lock()
		e.peers--
		e.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrLinkClosed) {
			e.logger.Info("peer finished", "remote", l.RemoteAddr(), "error", err)
		}
	}()
}

// serve runs one peer until its link or ctx ends.
func (e *Emulator) serve(ctx context.Context, carrier transport.Link) error {
	link := carrier
	if e.cfg.Reliable {
		scfg := e.cfg.Session
		scfg.Logger = e.logger
		scfg.ProtocolLogger = e.plog
		scfg.Metrics = e.cfg.Metrics
		actx, cancel := context.WithTimeout(ctx, e.cfg.AcceptTimeout)
		sess, err := reliable.Accept(actx, carrier, scfg)
		cancel()
		if err != nil {
			_ = carrier.Close()
			return fmt.Errorf("accept session: %w", err)
		}
		link = sess
	}
	defer link.Close()

	scfg := e.cfg.Server
	scfg.Logger = e.logger
	scfg.ProtocolLogger = e.plog
	srv := interaction.NewServer(e.acc, scfg)

	if len(e.cfg.Destinations) == 0 {
		return srv.Serve(ctx, link)
	}

	mux := transport.NewMux(link, transport.MuxConfig{
		Link:    transport.Config{Logger: e.logger, ProtocolLogger: e.plog},
		Metrics: e.cfg.Metrics,
	})
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range e.cfg.Destinations {
		d, err := mux.Register(id)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(gctx, d) })
	}
	if err := mux.Start(); err != nil {
		return err
	}
	return g.Wait()
}
