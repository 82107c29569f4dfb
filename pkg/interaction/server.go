package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/model"
	"github.com/regbus/regbus-go/pkg/transport"
	"github.com/regbus/regbus-go/pkg/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// MaxWords rejects larger requests with StatusSizeExceeded. Default 256.
	MaxWords uint32

	// AccessTimeout bounds one bus access. Expiry answers StatusBusTimeout.
	// Zero means no bound.
	AccessTimeout time.Duration

	// QueueSize is the number of requests buffered per link. Default 64.
	QueueSize int

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	ConnectionID   string
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxWords == 0 {
		c.MaxWords = 256
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}

// Server answers register requests from a bus accessor. It is the device
// side of the protocol.
type Server struct {
	acc model.Accessor
	cfg ServerConfig
}

// NewServer returns a server backed by acc.
func NewServer(acc model.Accessor, cfg ServerConfig) *Server {
	return &Server{acc: acc, cfg: cfg.withDefaults()}
}

// Serve starts link and answers its requests in arrival order until ctx is
// done or the link stops.
func (s *Server) Serve(ctx context.Context, link transport.Link) error {
	queue := make(chan []byte, s.cfg.QueueSize)
	err := link.Start(func(msg []byte) {
		select {
		case queue <- msg:
		default:
			s.cfg.Logger.Warn("request queue full, dropping", "conn", s.cfg.ConnectionID, "remote", link.RemoteAddr())
		}
	})
	if err != nil {
		return fmt.Errorf("start link: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.Done():
			return link.Err()
		case msg := <-queue:
			resp := s.Handle(ctx, msg, link.RemoteAddr())
			if resp == nil {
				continue
			}
			if err := link.Send(resp); err != nil {
				s.cfg.Logger.Debug("reply failed", "conn", s.cfg.ConnectionID, "error", err)
			}
		}
	}
}

// Handle executes one encoded request and returns the encoded response.
// Frames that fail to decode or are not requests yield nil; the client
// retries them.
func (s *Server) Handle(ctx context.Context, raw []byte, remote string) []byte {
	req, err := wire.DecodeFrame(raw)
	if err != nil {
		s.cfg.Logger.Debug("request dropped", "conn", s.cfg.ConnectionID, "remote", remote, "error", err)
		s.logError(remote, "request dropped", err)
		return nil
	}
	if req.Opcode.IsResponse() {
		s.cfg.Logger.Debug("unexpected response frame", "conn", s.cfg.ConnectionID, "id", req.ID)
		return nil
	}
	s.logFrame(log.DirectionIn, remote, req)

	resp := s.execute(ctx, req)
	out, err := wire.EncodeFrame(resp)
	if err != nil {
		// A reply that cannot be encoded is reported as a bus error.
		s.cfg.Logger.Error("encode reply", "error", err)
		resp = req.Reply(wire.StatusBusError, nil)
		if out, err = wire.EncodeFrame(resp); err != nil {
			return nil
		}
	}
	s.logFrame(log.DirectionOut, remote, resp)
	return out
}

func (s *Server) execute(ctx context.Context, req *wire.Frame) *wire.Frame {
	if req.Words > s.cfg.MaxWords {
		return req.Reply(wire.StatusSizeExceeded, nil)
	}
	if s.cfg.AccessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AccessTimeout)
		defer cancel()
	}

	n := int(req.Words) * wire.WordSize
	switch req.Opcode {
	case wire.OpRead:
		data, err := s.acc.Read(ctx, req.Address, n)
		if err != nil {
			return req.Reply(statusFor(err), nil)
		}
		return req.Reply(wire.StatusOK, data)
	default:
		if err := s.acc.Write(ctx, req.Address, req.Payload); err != nil {
			return req.Reply(statusFor(err), nil)
		}
		return req.Reply(wire.StatusOK, nil)
	}
}

// statusFor maps an accessor error to a response status.
func statusFor(err error) uint32 {
	switch {
	case errors.Is(err, memory.ErrUnmapped):
		return wire.StatusUnmapped
	case errors.Is(err, memory.ErrUnaligned), errors.Is(err, wire.ErrUnaligned):
		return wire.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return wire.StatusBusTimeout
	default:
		var be *BusError
		if errors.As(err, &be) {
			return be.Status
		}
		return wire.StatusBusError
	}
}

func (s *Server) logFrame(dir log.Direction, remote string, f *wire.Frame) {
	s.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.cfg.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerRegister,
		Category:     log.CategoryFrame,
		RemoteAddr:   remote,
		Frame:        log.NewFrameEvent(f, 0),
	})
}

func (s *Server) logError(remote, msg string, err error) {
	s.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.cfg.ConnectionID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerRegister,
		Category:     log.CategoryError,
		RemoteAddr:   remote,
		Error: &log.ErrorEventData{
			Layer:   log.LayerRegister,
			Message: msg,
			Context: err.Error(),
		},
	})
}
