package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Network is "udp" or "tcp".
	Network string

	// Address to listen on, e.g. ":8192".
	Address string

	// Link configures accepted links. ConnectionID is assigned per peer.
	Link Config

	// OnConnect receives each new peer link. It must call Start.
	OnConnect func(l Link)

	// OnDisconnect is called when a peer link stops.
	OnDisconnect func(l Link)
}

// Server accepts peer links. For UDP a peer is a distinct source address.
type Server struct {
	cfg ServerConfig

	listener net.Listener
	packet   net.PacketConn

	mu    sync.Mutex
	conns map[Link]struct{}
	peers map[string]*peerLink

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates cfg and returns a stopped server.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch cfg.Network {
	case "udp", "tcp":
	case "":
		cfg.Network = "udp"
	default:
		return nil, fmt.Errorf("unsupported network %q", cfg.Network)
	}
	if cfg.OnConnect == nil {
		return nil, errors.New("OnConnect is required")
	}
	cfg.Link = cfg.Link.withDefaults()
	return &Server{
		cfg:   cfg,
		conns: make(map[Link]struct{}),
		peers: make(map[string]*peerLink),
	}, nil
}

// Start listens and accepts in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	var lc net.ListenConfig
	if s.cfg.Network == "tcp" {
		ln, err := lc.Listen(s.ctx, "tcp", s.cfg.Address)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		s.listener = ln
		s.wg.Add(1)
		go s.acceptLoop()
	} else {
		pc, err := lc.ListenPacket(s.ctx, "udp", s.cfg.Address)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		s.packet = pc
		s.wg.Add(1)
		go s.packetLoop()
	}
	s.running.Store(true)
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	if s.packet != nil {
		return s.packet.LocalAddr()
	}
	return nil
}

// ConnectionCount returns the number of live peer links.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every peer link.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.packet != nil {
		_ = s.packet.Close()
	}
	s.mu.Lock()
	links := make([]Link, 0, len(s.conns))
	for l := range s.conns {
		links = append(links, l)
	}
	s.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) track(l Link) {
	s.mu.Lock()
	s.conns[l] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-l.Done()
		s.mu.Lock()
		delete(s.conns, l)
		if p, ok := l.(*peerLink); ok && s.peers[p.addr.String()] == p {
			delete(s.peers, p.addr.String())
		}
		s.mu.Unlock()
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(l)
		}
	}()
}

func (s *Server) peerConfig() Config {
	c := s.cfg.Link
	c.ConnectionID = uuid.New().String()
	return c
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.cfg.Link.logError("", "accept failed", err)
			}
			return
		}
		l := NewStreamLink(conn, s.peerConfig())
		s.track(l)
		s.cfg.OnConnect(l)
	}
}

func (s *Server) packetLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.Link.MaxMessageSize+1)
	for {
		n, addr, err := s.packet.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.cfg.Link.logError("", "datagram read failed", err)
			}
			return
		}
		if n == 0 || n > int(s.cfg.Link.MaxMessageSize) {
			continue
		}
		msg := append([]byte(nil), buf[:n]...)

		s.mu.Lock()
		p, ok := s.peers[addr.String()]
		if !ok {
			p = newPeerLink(s.packet, addr, s.peerConfig())
			s.peers[addr.String()] = p
		}
		s.mu.Unlock()

		if !ok {
			s.track(p)
			s.cfg.OnConnect(p)
		}
		p.deliver(msg)
	}
}

// peerLink is the server side of one UDP peer.
type peerLink struct {
	lifecycle
	cfg   Config
	pc    net.PacketConn
	addr  net.Addr
	inbox chan []byte

	startOnce sync.Once
}

func newPeerLink(pc net.PacketConn, addr net.Addr, cfg Config) *peerLink {
	p := &peerLink{
		cfg:   cfg,
		pc:    pc,
		addr:  addr,
		inbox: make(chan []byte, cfg.InboxSize),
	}
	p.init()
	return p
}

func (p *peerLink) deliver(msg []byte) {
	select {
	case p.inbox <- msg:
	default:
		p.cfg.Logger.Debug("peer inbox full, datagram dropped", "remote", p.addr.String())
	}
}

func (p *peerLink) Start(h Handler) error {
	err := ErrAlreadyActive
	p.startOnce.Do(func() {
		err = nil
		go func() {
			for {
				select {
				case <-p.done:
					return
				case msg := <-p.inbox:
					h(msg)
				}
			}
		}()
	})
	return err
}

func (p *peerLink) Send(msg []byte) error {
	if p.closed() {
		return ErrLinkClosed
	}
	if len(msg) > int(p.cfg.MaxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(msg), p.cfg.MaxMessageSize)
	}
	if _, err := p.pc.WriteTo(msg, p.addr); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

func (p *peerLink) Close() error {
	p.finish(ErrLinkClosed)
	return nil
}

func (p *peerLink) MaxMessageSize() int { return int(p.cfg.MaxMessageSize) }

func (p *peerLink) LocalAddr() string  { return p.pc.LocalAddr().String() }
func (p *peerLink) RemoteAddr() string { return p.addr.String() }
