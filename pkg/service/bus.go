package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/interaction"
	"github.com/regbus/regbus-go/pkg/reliable"
	"github.com/regbus/regbus-go/pkg/transport"
)

// singleDest keys the only client when the link is not multiplexed.
const singleDest = -1

// bus is one connection: the carrier stack and a client per destination.
type bus struct {
	id      string
	link    transport.Link // top of the carrier stack
	mux     *transport.Mux
	clients map[int]*interaction.Client
}

func (b *bus) close() {
	for _, c := range b.clients {
		_ = c.Close()
	}
	if b.mux != nil {
		_ = b.mux.Close()
		return
	}
	_ = b.link.Close()
}

// route is the accessor bound to a subtree. It forwards to the client of
// the current connection, so bindings survive reconnects.
type route struct {
	r    *Root
	dest int
}

func (rt route) client() (*interaction.Client, error) {
	rt.r.mu.RLock()
	b := rt.r.bus
	rt.r.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}
	c, ok := b.clients[rt.dest]
	if !ok {
		return nil, fmt.Errorf("%w: destination %d", ErrNotConnected, rt.dest)
	}
	return c, nil
}

func (rt route) Read(ctx context.Context, addr uint64, n int) ([]byte, error) {
	c, err := rt.client()
	if err != nil {
		return nil, err
	}
	return c.Read(ctx, addr, n)
}

func (rt route) Write(ctx context.Context, addr uint64, data []byte) error {
	c, err := rt.client()
	if err != nil {
		return err
	}
	return c.Write(ctx, addr, data)
}

// bind attaches accessors to the address space for the configured mode.
func (r *Root) bind() error {
	s := r.cfg.Settings
	switch {
	case s.Simulate:
		return r.space.Bind("", r.cfg.Memory)
	case s.Mux == config.MuxDestinations:
		for _, d := range s.Destinations {
			if err := r.space.Bind(d.Path, route{r: r, dest: int(d.ID)}); err != nil {
				return fmt.Errorf("%w: destination %d: %w", ErrInvalidConfig, d.ID, err)
			}
		}
		return nil
	default:
		return r.space.Bind("", route{r: r, dest: singleDest})
	}
}

// connect is the connection.ConnectFunc: it dials and installs a bus.
func (r *Root) connect(ctx context.Context) error {
	b, err := r.dial(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.state == StateStopping || r.state == StateStopped {
		r.mu.Unlock()
		b.close()
		return ErrNotStarted
	}
	r.bus = b
	r.mu.Unlock()

	r.logger.Info("connected", "conn", b.id, "remote", b.link.RemoteAddr(), "mode", r.mode())
	go r.watch(b)
	return nil
}

// watch reports the loss of b to the connection manager.
func (r *Root) watch(b *bus) {
	select {
	case <-b.link.Done():
	case <-r.ctx.Done():
		return
	}
	select {
	case <-r.ctx.Done():
		return
	default:
	}
	cause := b.link.Err()

	r.mu.Lock()
	if r.bus == b {
		r.bus = nil
	}
	r.mu.Unlock()
	b.close()

	r.logger.Warn("connection lost", "conn", b.id, "error", cause)
	// The manager only accepts a loss once it has recorded the connection.
	if err := r.manager.WaitConnected(r.ctx); err != nil {
		return
	}
	r.manager.NotifyConnectionLost(cause)
}

// dial builds the carrier stack and the clients for the configured mode.
func (r *Root) dial(ctx context.Context) (*bus, error) {
	s := r.cfg.Settings
	id := uuid.New().String()
	tcfg := transport.DefaultConfig()
	tcfg.Logger = r.logger
	tcfg.ProtocolLogger = r.plog
	tcfg.ConnectionID = id

	var carrier transport.Link
	var err error
	switch s.Network {
	case "tcp":
		carrier, err = transport.DialStream(ctx, s.Address(), tcfg)
	default:
		carrier, err = transport.DialDatagram(ctx, s.Address(), tcfg)
	}
	if err != nil {
		return nil, err
	}

	link := carrier
	if s.Reliable {
		scfg := s.Session
		scfg.Logger = r.logger
		scfg.ProtocolLogger = r.plog
		scfg.ConnectionID = id
		scfg.Metrics = r.cfg.Metrics
		sess, err := reliable.Dial(ctx, carrier, scfg)
		if err != nil {
			_ = carrier.Close()
			return nil, fmt.Errorf("session handshake: %w", err)
		}
		link = sess
	}

	b := &bus{id: id, link: link, clients: make(map[int]*interaction.Client)}
	ccfg := r.clientConfig(id)

	if s.Mux != config.MuxDestinations {
		c, err := interaction.NewClient(link, ccfg)
		if err != nil {
			b.close()
			return nil, err
		}
		b.clients[singleDest] = c
		return b, nil
	}

	b.mux = transport.NewMux(link, transport.MuxConfig{Link: tcfg, Metrics: r.cfg.Metrics})
	for _, d := range s.Destinations {
		if _, ok := b.clients[int(d.ID)]; ok {
			continue
		}
		dest, err := b.mux.Register(d.ID)
		if err == nil {
			var c *interaction.Client
			if c, err = interaction.NewClient(dest, ccfg); err == nil {
				b.clients[int(d.ID)] = c
			}
		}
		if err != nil {
			b.close()
			return nil, fmt.Errorf("destination %d: %w", d.ID, err)
		}
	}
	if err := b.mux.Start(); err != nil && !errors.Is(err, transport.ErrAlreadyActive) {
		b.close()
		return nil, err
	}
	return b, nil
}

func (r *Root) clientConfig(id string) interaction.ClientConfig {
	req := r.cfg.Settings.Request
	cfg := interaction.DefaultClientConfig()
	if req.Timeout > 0 {
		cfg.Timeout = req.Timeout
	}
	if req.MaxAttempts > 0 {
		cfg.MaxAttempts = req.MaxAttempts
	}
	if req.MaxInFlight > 0 {
		cfg.MaxInFlight = req.MaxInFlight
	}
	if req.MaxWords > 0 {
		cfg.MaxWords = req.MaxWords
	}
	cfg.Logger = r.logger
	cfg.ProtocolLogger = r.plog
	cfg.ConnectionID = id
	cfg.Metrics = r.cfg.Metrics
	return cfg
}
