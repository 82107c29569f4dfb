package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// StreamLink carries messages as length-prefixed frames on a byte stream.
type StreamLink struct {
	lifecycle
	cfg    Config
	conn   net.Conn
	reader *FrameReader
	writer *FrameWriter

	startOnce sync.Once
}

// NewStreamLink wraps an established stream connection.
func NewStreamLink(conn net.Conn, cfg Config) *StreamLink {
	cfg = cfg.withDefaults()
	l := &StreamLink{
		cfg:    cfg,
		conn:   conn,
		reader: NewFrameReader(conn, cfg.MaxMessageSize),
		writer: NewFrameWriter(conn, cfg.MaxMessageSize),
	}
	l.init()
	return l
}

// DialStream connects to a TCP peer.
func DialStream(ctx context.Context, address string, cfg Config) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewStreamLink(conn, cfg), nil
}

// Start launches the reader goroutine.
func (l *StreamLink) Start(h Handler) error {
	err := ErrAlreadyActive
	l.startOnce.Do(func() {
		err = nil
		go l.readLoop(h)
	})
	return err
}

func (l *StreamLink) readLoop(h Handler) {
	for {
		msg, err := l.reader.ReadFrame()
		if err != nil {
			if l.closed() {
				return
			}
			if !errors.Is(err, io.EOF) {
				l.cfg.logError(l.RemoteAddr(), "stream read failed", err)
			}
			l.finish(err)
			_ = l.conn.Close()
			return
		}
		h(msg)
	}
}

// Send writes msg as one frame.
func (l *StreamLink) Send(msg []byte) error {
	if l.closed() {
		return ErrLinkClosed
	}
	return l.writer.WriteFrame(msg)
}

// Close closes the connection.
func (l *StreamLink) Close() error {
	if !l.finish(ErrLinkClosed) {
		return nil
	}
	return l.conn.Close()
}

// MaxMessageSize returns the framing limit.
func (l *StreamLink) MaxMessageSize() int { return int(l.cfg.MaxMessageSize) }

func (l *StreamLink) LocalAddr() string  { return l.conn.LocalAddr().String() }
func (l *StreamLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }
