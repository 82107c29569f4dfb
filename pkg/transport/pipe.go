package transport

import (
	"math/rand"
	"sync"
	"time"
)

// Impairment describes how a pipe mistreats messages in one direction.
// Probabilities are in [0, 1].
type Impairment struct {
	Loss      float64
	Duplicate float64

	// Reorder holds a message back and releases it after the next one, or
	// after ReorderHold if nothing follows.
	Reorder     float64
	ReorderHold time.Duration

	// Delay postpones every delivery.
	Delay time.Duration
}

// PipeConfig configures NewPipe.
type PipeConfig struct {
	// AtoB and BtoA impair each direction.
	AtoB Impairment
	BtoA Impairment

	// Seed makes impairment decisions reproducible.
	Seed int64

	// InboxSize bounds messages queued ahead of a handler. Default 1024.
	InboxSize int
}

// NewPipe returns two connected in-memory links.
func NewPipe(cfg PipeConfig) (*PipeLink, *PipeLink) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	var mu sync.Mutex
	a := newPipeLink("pipe-a", cfg.InboxSize, cfg.AtoB, rng, &mu)
	b := newPipeLink("pipe-b", cfg.InboxSize, cfg.BtoA, rng, &mu)
	a.peer, b.peer = b, a
	return a, b
}

// PipeLink is one end of an in-memory pipe.
type PipeLink struct {
	lifecycle
	name  string
	peer  *PipeLink
	inbox chan []byte

	// rngMu guards rng, imp and held, shared by both ends.
	rngMu *sync.Mutex
	rng   *rand.Rand
	imp   Impairment
	held  []byte
	timer *time.Timer

	startOnce sync.Once
}

func newPipeLink(name string, inbox int, imp Impairment, rng *rand.Rand, mu *sync.Mutex) *PipeLink {
	l := &PipeLink{
		name:  name,
		inbox: make(chan []byte, inbox),
		rngMu: mu,
		rng:   rng,
		imp:   imp,
	}
	l.init()
	return l
}

// SetImpairment replaces the impairment for messages sent from this end.
func (l *PipeLink) SetImpairment(imp Impairment) {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	l.imp = imp
}

// Start delivers queued and future messages to h.
func (l *PipeLink) Start(h Handler) error {
	err := ErrAlreadyActive
	l.startOnce.Do(func() {
		err = nil
		go func() {
			for {
				select {
				case <-l.done:
					return
				case msg := <-l.inbox:
					h(msg)
				}
			}
		}()
	})
	return err
}

// Send passes msg to the peer subject to this end's impairment.
func (l *PipeLink) Send(msg []byte) error {
	if l.closed() {
		return ErrLinkClosed
	}
	msg = append([]byte(nil), msg...)

	l.rngMu.Lock()
	imp := l.imp
	if l.rng.Float64() < imp.Loss {
		l.rngMu.Unlock()
		return nil
	}
	copies := 1
	if l.rng.Float64() < imp.Duplicate {
		copies = 2
	}
	var out [][]byte
	if l.held == nil && l.rng.Float64() < imp.Reorder {
		l.held = msg
		hold := imp.ReorderHold
		if hold <= 0 {
			hold = 5 * time.Millisecond
		}
		l.timer = time.AfterFunc(hold, l.flushHeld)
		copies--
	}
	for i := 0; i < copies; i++ {
		out = append(out, msg)
	}
	if l.held != nil && copies > 0 {
		out = append(out, l.held)
		l.held = nil
		l.timer.Stop()
	}
	l.rngMu.Unlock()

	for _, m := range out {
		l.transmit(m, imp.Delay)
	}
	return nil
}

func (l *PipeLink) flushHeld() {
	l.rngMu.Lock()
	m := l.held
	l.held = nil
	delay := l.imp.Delay
	l.rngMu.Unlock()
	if m != nil {
		l.transmit(m, delay)
	}
}

func (l *PipeLink) transmit(msg []byte, delay time.Duration) {
	if delay > 0 {
		time.AfterFunc(delay, func() { l.peer.deliver(msg) })
		return
	}
	l.peer.deliver(msg)
}

func (l *PipeLink) deliver(msg []byte) {
	if l.closed() {
		return
	}
	select {
	case l.inbox <- msg:
	default:
	}
}

// Close stops this end. The peer keeps running but its sends are lost.
func (l *PipeLink) Close() error {
	l.finish(ErrLinkClosed)
	return nil
}

func (l *PipeLink) LocalAddr() string  { return l.name }
func (l *PipeLink) RemoteAddr() string { return l.peer.name }
