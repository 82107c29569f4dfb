package reliable

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/transport"
	"github.com/regbus/regbus-go/pkg/wire"
)

// Session errors.
var (
	// ErrConnectionLost reports a session torn down by retransmission
	// exhaustion, silence beyond the connection timeout or carrier failure.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed reports a session closed by either end.
	ErrClosed = errors.New("session closed")

	// ErrHandshake reports a session that could not be established.
	ErrHandshake = errors.New("handshake failed")

	// ErrReset reports a session aborted by the peer.
	ErrReset = errors.New("session reset by peer")
)

// State is the session lifecycle state.
type State uint8

const (
	StateListen State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type closeReq struct {
	abort  bool
	reason error
}

type sendReq struct {
	payload []byte
	done    chan error
}

// Session is an ordered, exactly-once message channel over a datagram link.
// It implements transport.Link; each Send is carried in one segment.
//
// A session owns its carrier and closes it when it stops.
type Session struct {
	cfg     Config
	carrier transport.Link
	id      uuid.UUID
	logger  *slog.Logger

	inCh    chan []byte
	sendCh  chan sendReq
	closeCh chan closeReq

	established chan struct{}
	done        chan struct{}
	errMu       sync.Mutex
	err         error

	startOnce sync.Once
	started   chan struct{}
	handler   transport.Handler
	inbox     inbox

	// Owned by the run goroutine.
	state    State
	connID   uint32
	isn      uint32
	sndNxt   uint32
	window   sendWindow
	waiting  []sendReq
	recv     *recvBuffer
	peerWin  uint16
	lastRecv time.Time
	lastSend time.Time
	backoff  connection.BackoffConfig
	ticker   *time.Ticker

	// Handshake segment being retransmitted until answered.
	syn         *wire.Segment
	synDeadline time.Time
	synRetries  int

	closing time.Time
	finSent bool
}

func newSession(carrier transport.Link, cfg Config, state State) *Session {
	cfg = cfg.withDefaults()
	id := uuid.New()
	if cfg.ConnectionID == "" {
		cfg.ConnectionID = id.String()
	}
	s := &Session{
		cfg:         cfg,
		carrier:     carrier,
		id:          id,
		logger:      cfg.Logger.With("conn", cfg.ConnectionID),
		inCh:        make(chan []byte, cfg.InboxSize),
		sendCh:      make(chan sendReq),
		closeCh:     make(chan closeReq, 1),
		established: make(chan struct{}),
		done:        make(chan struct{}),
		started:     make(chan struct{}),
		state:       state,
		isn:         binary.BigEndian.Uint32(id[4:8]),
	}
	s.inbox.init()
	s.setBackoff()
	return s
}

func (s *Session) setBackoff() {
	s.backoff = connection.BackoffConfig{
		Initial:    s.cfg.RetransmitTimeout,
		Max:        s.cfg.MaxRetransmitTimeout,
		Multiplier: 2,
		Jitter:     -1,
	}
}

// Dial runs the initiator side of the handshake over carrier.
func Dial(ctx context.Context, carrier transport.Link, cfg Config) (*Session, error) {
	s := newSession(carrier, cfg, StateSynSent)
	s.connID = binary.BigEndian.Uint32(s.id[:4])
	return s.open(ctx)
}

// Accept waits for an initiator on carrier and completes the handshake.
func Accept(ctx context.Context, carrier transport.Link, cfg Config) (*Session, error) {
	return newSession(carrier, cfg, StateListen).open(ctx)
}

func (s *Session) open(ctx context.Context) (*Session, error) {
	if err := s.carrier.Start(s.receive); err != nil {
		return nil, fmt.Errorf("start carrier: %w", err)
	}
	s.lastRecv = time.Now()
	go s.run()
	go s.deliverLoop()

	select {
	case <-s.established:
		return s, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		s.shutdown(closeReq{abort: true, reason: fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())})
		<-s.done
		return nil, s.Err()
	}
}

// receive is the carrier handler.
func (s *Session) receive(msg []byte) {
	select {
	case s.inCh <- msg:
	default:
		s.logger.Debug("session inbox full, dropping segment")
	}
}

// ID returns the session UUID.
func (s *Session) ID() string { return s.id.String() }

// Start delivers received messages to h, in send order.
func (s *Session) Start(h transport.Handler) error {
	err := transport.ErrAlreadyActive
	s.startOnce.Do(func() {
		err = nil
		s.handler = h
		close(s.started)
	})
	return err
}

// Send queues msg for reliable delivery. It blocks while the send window
// is full.
func (s *Session) Send(msg []byte) error {
	if len(msg) == 0 {
		return transport.ErrMessageEmpty
	}
	if len(msg) > int(s.cfg.MaxSegmentSize) {
		return fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, len(msg), s.cfg.MaxSegmentSize)
	}
	req := sendReq{payload: append([]byte(nil), msg...), done: make(chan error, 1)}
	select {
	case s.sendCh <- req:
	case <-s.done:
		return s.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-s.done:
		select {
		case err := <-req.done:
			return err
		default:
			return s.Err()
		}
	}
}

// Close drains unacknowledged data, exchanges FIN and stops the session.
func (s *Session) Close() error {
	s.shutdown(closeReq{reason: ErrClosed})
	<-s.done
	return nil
}

// Abort sends RST and stops the session at once.
func (s *Session) Abort() error {
	s.shutdown(closeReq{abort: true, reason: ErrClosed})
	<-s.done
	return nil
}

func (s *Session) shutdown(r closeReq) {
	select {
	case s.closeCh <- r:
	default:
	}
}

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session stopped, or nil while it runs.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) LocalAddr() string  { return s.carrier.LocalAddr() }
func (s *Session) RemoteAddr() string { return s.carrier.RemoteAddr() }

// MaxMessageSize returns the negotiated segment payload limit.
func (s *Session) MaxMessageSize() int { return int(s.cfg.MaxSegmentSize) }

var _ transport.Link = (*Session)(nil)
