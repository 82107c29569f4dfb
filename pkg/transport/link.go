package transport

import (
	"errors"
	"sync"
)

// Link errors.
var (
	ErrLinkClosed    = errors.New("link closed")
	ErrAlreadyActive = errors.New("link already started")
)

// Handler receives one message. The slice is owned by the handler.
type Handler func(msg []byte)

// Link is a message-oriented connection to one peer.
type Link interface {
	// Start begins delivering received messages to h. It may be called once.
	Start(h Handler) error

	// Send transmits one message.
	Send(msg []byte) error

	// Close releases the link. Pending Sends fail with ErrLinkClosed.
	Close() error

	// Done is closed when the link stops, by Close or by a carrier failure.
	Done() <-chan struct{}

	// Err returns why the link stopped, or nil while it is running.
	Err() error

	LocalAddr() string
	RemoteAddr() string
}

// MessageLimit returns the largest message l can send, or 0 when l does
// not report one.
func MessageLimit(l Link) int {
	if s, ok := l.(interface{ MaxMessageSize() int }); ok {
		return s.MaxMessageSize()
	}
	return 0
}

// lifecycle implements Done and Err for links.
type lifecycle struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (l *lifecycle) init() {
	l.done = make(chan struct{})
}

// finish stops the link with err. Only the first call has an effect; it
// reports whether this call was the first.
func (l *lifecycle) finish(err error) bool {
	first := false
	l.once.Do(func() {
		first = true
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
	return first
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *lifecycle) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
