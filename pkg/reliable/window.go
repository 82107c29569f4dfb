package reliable

import (
	"time"

	"github.com/regbus/regbus-go/pkg/wire"
)

// outSeg is a sent segment awaiting acknowledgment.
type outSeg struct {
	seq      uint32
	payload  []byte
	fin      bool
	deadline time.Time
	retries  int
	sacked   bool
}

// sendWindow holds unacknowledged segments in sequence order.
type sendWindow struct {
	segs []*outSeg
}

func (w *sendWindow) push(s *outSeg) { w.segs = append(w.segs, s) }

func (w *sendWindow) len() int { return len(w.segs) }

// ack drops every segment at or before cum and returns how many went.
func (w *sendWindow) ack(cum uint32) int {
	n := 0
	for n < len(w.segs) && !wire.SeqLess(cum, w.segs[n].seq) {
		n++
	}
	if n > 0 {
		clear(w.segs[:n])
		w.segs = w.segs[n:]
	}
	return n
}

// sack marks segments reported by the selective bitmap so they are not
// retransmitted.
func (w *sendWindow) sack(cum, bits uint32) {
	if bits == 0 {
		return
	}
	for _, s := range w.segs {
		d := wire.SeqDiff(cum, s.seq) - 2
		if d >= 0 && d < wire.SackBits && bits&(1<<uint(d)) != 0 {
			s.sacked = true
		}
	}
}

// due returns the segments whose retransmit deadline has passed.
func (w *sendWindow) due(now time.Time) []*outSeg {
	var out []*outSeg
	for _, s := range w.segs {
		if !s.sacked && !now.Before(s.deadline) {
			out = append(out, s)
		}
	}
	return out
}

// recvBuffer reorders incoming data segments.
type recvBuffer struct {
	next uint32
	size int
	held map[uint32][]byte
}

func newRecvBuffer(next uint32, size int) *recvBuffer {
	return &recvBuffer{next: next, size: size, held: make(map[uint32][]byte)}
}

// accept files one data segment and returns the payloads that became
// deliverable, in order. dup reports a segment seen before.
func (r *recvBuffer) accept(seq uint32, payload []byte) (deliver [][]byte, dup bool) {
	d := wire.SeqDiff(r.next, seq)
	switch {
	case d < 0:
		return nil, true
	case d >= int32(r.size):
		// Beyond the window; the sender will retransmit.
		return nil, false
	case d > 0:
		if _, ok := r.held[seq]; ok {
			return nil, true
		}
		r.held[seq] = payload
		return nil, false
	}

	deliver = append(deliver, payload)
	r.next++
	for {
		p, ok := r.held[r.next]
		if !ok {
			break
		}
		delete(r.held, r.next)
		deliver = append(deliver, p)
		r.next++
	}
	return deliver, false
}

// cumulative is the last in-order sequence number received.
func (r *recvBuffer) cumulative() uint32 { return r.next - 1 }

// sackBits reports held segments relative to cumulative.
func (r *recvBuffer) sackBits() uint32 {
	var bits uint32
	for seq := range r.held {
		d := wire.SeqDiff(r.next, seq) - 1
		if d >= 0 && d < wire.SackBits {
			bits |= 1 << uint(d)
		}
	}
	return bits
}

// window is the receive space left to advertise.
func (r *recvBuffer) window() uint16 {
	if n := r.size - len(r.held); n > 0 {
		return uint16(n)
	}
	return 0
}
