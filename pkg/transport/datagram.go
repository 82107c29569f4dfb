package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

// DatagramLink carries one message per UDP datagram on a connected socket.
type DatagramLink struct {
	lifecycle
	cfg  Config
	conn net.Conn

	startOnce sync.Once
}

// DialDatagram opens a UDP socket connected to address.
func DialDatagram(ctx context.Context, address string, cfg Config) (*DatagramLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	l := &DatagramLink{cfg: cfg.withDefaults(), conn: conn}
	l.init()
	return l, nil
}

// Start launches the reader goroutine.
func (l *DatagramLink) Start(h Handler) error {
	err := ErrAlreadyActive
	l.startOnce.Do(func() {
		err = nil
		go l.readLoop(h)
	})
	return err
}

func (l *DatagramLink) readLoop(h Handler) {
	buf := make([]byte, l.cfg.MaxMessageSize+1)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			if l.closed() {
				return
			}
			// ICMP port unreachable surfaces as a read error on a connected
			// socket; the peer may come back, so keep reading.
			if isRefused(err) {
				continue
			}
			l.cfg.logError(l.RemoteAddr(), "datagram read failed", err)
			l.finish(err)
			_ = l.conn.Close()
			return
		}
		if n > int(l.cfg.MaxMessageSize) {
			l.cfg.logError(l.RemoteAddr(), "datagram dropped", fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n))
			continue
		}
		if n == 0 {
			continue
		}
		h(append([]byte(nil), buf[:n]...))
	}
}

// Send writes msg as one datagram.
func (l *DatagramLink) Send(msg []byte) error {
	if l.closed() {
		return ErrLinkClosed
	}
	if len(msg) > int(l.cfg.MaxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(msg), l.cfg.MaxMessageSize)
	}
	if _, err := l.conn.Write(msg); err != nil {
		if isRefused(err) {
			// Datagram semantics: an absent peer loses the message.
			return nil
		}
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// Close closes the socket.
func (l *DatagramLink) Close() error {
	if !l.finish(ErrLinkClosed) {
		return nil
	}
	return l.conn.Close()
}

// MaxMessageSize returns the configured datagram limit.
func (l *DatagramLink) MaxMessageSize() int { return int(l.cfg.MaxMessageSize) }

func (l *DatagramLink) LocalAddr() string  { return l.conn.LocalAddr().String() }
func (l *DatagramLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
