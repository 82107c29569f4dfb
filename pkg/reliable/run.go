package reliable

import (
	"errors"
	"fmt"
	"time"

	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/wire"
)

// tick is the timer granularity: a quarter of the retransmit timeout.
func (s *Session) tick() time.Duration {
	return min(max(s.cfg.RetransmitTimeout/4, time.Millisecond), 50*time.Millisecond)
}

// run owns the session state. Every mutation happens here.
func (s *Session) run() {
	s.ticker = time.NewTicker(s.tick())
	defer s.ticker.Stop()

	if s.state == StateSynSent {
		s.sendSyn(time.Now())
	}
	for s.state != StateClosed {
		select {
		case raw := <-s.inCh:
			s.handleSegment(raw, time.Now())
		case req := <-s.sendCh:
			s.waiting = append(s.waiting, req)
			s.fill(time.Now())
		case r := <-s.closeCh:
			s.beginClose(r, time.Now())
		case now := <-s.ticker.C:
			s.onTick(now)
		case <-s.carrier.Done():
			s.finish(fmt.Errorf("%w: %w", ErrConnectionLost, s.carrier.Err()))
		}
	}
}

func (s *Session) setState(next State, reason string) {
	prev := s.state
	s.state = next
	s.cfg.Logger.Debug("session state", "conn", s.cfg.ConnectionID, "from", prev, "to", next, "reason", reason)
	s.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.cfg.ConnectionID,
		Layer:        log.LayerReliability,
		Category:     log.CategoryState,
		RemoteAddr:   s.carrier.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (s *Session) establish(now time.Time) {
	s.syn = nil
	s.lastRecv = now
	s.setState(StateEstablished, "handshake complete")
	s.ticker.Reset(s.tick())
	s.cfg.Metrics.SessionEstablished(1)
	s.cfg.Logger.Info("session established", "conn", s.cfg.ConnectionID, "remote", s.carrier.RemoteAddr(),
		"mss", s.cfg.MaxSegmentSize, "window", s.cfg.Window)
	close(s.established)
}

func (s *Session) finish(err error) {
	if s.state == StateClosed {
		return
	}
	wasUp := s.state == StateEstablished || s.state == StateClosing
	s.setState(StateClosed, err.Error())
	if wasUp {
		s.cfg.Metrics.SessionEstablished(-1)
	}
	if errors.Is(err, ErrConnectionLost) {
		s.cfg.Metrics.SessionLost()
		s.cfg.Logger.Warn("session lost", "conn", s.cfg.ConnectionID, "remote", s.carrier.RemoteAddr(), "error", err)
	}

	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()

	for _, r := range s.waiting {
		r.done <- err
	}
	s.waiting = nil
	_ = s.carrier.Close()
	close(s.done)
}

func (s *Session) beginClose(r closeReq, now time.Time) {
	if s.state == StateClosing && !r.abort {
		return
	}
	if r.abort || s.state != StateEstablished {
		if s.state != StateListen {
			s.transmit(&wire.Segment{Flags: wire.FlagRST, ConnID: s.connID, Seq: s.sndNxt}, false)
		}
		s.finish(r.reason)
		return
	}
	s.setState(StateClosing, "local close")
	s.closing = now
	for _, w := range s.waiting {
		w.done <- ErrClosed
	}
	s.waiting = nil
	s.maybeSendFin(now)
}

// maybeSendFin sends FIN once everything before it is acknowledged.
func (s *Session) maybeSendFin(now time.Time) {
	if s.state != StateClosing || s.finSent || s.window.len() > 0 {
		return
	}
	seg := &outSeg{seq: s.sndNxt, fin: true, deadline: now.Add(s.backoff.Delay(0))}
	s.sndNxt++
	s.window.push(seg)
	s.finSent = true
	s.transmitData(seg, false)
}

func (s *Session) sendSyn(now time.Time) {
	s.syn = &wire.Segment{
		Flags:   wire.FlagSYN,
		Window:  s.cfg.Window,
		ConnID:  s.connID,
		Seq:     s.isn,
		Payload: wire.EncodeSynParams(s.cfg.synParams()),
	}
	s.synDeadline = now.Add(s.backoff.Delay(0))
	s.transmit(s.syn, false)
}

func (s *Session) handleSegment(raw []byte, now time.Time) {
	seg, err := wire.DecodeSegment(raw)
	if err != nil {
		if errors.Is(err, wire.ErrChecksum) {
			s.cfg.Metrics.ChecksumError()
		}
		s.cfg.Logger.Debug("segment dropped", "conn", s.cfg.ConnectionID, "error", err)
		return
	}
	s.cfg.Metrics.SegmentReceived()
	s.logSegment(log.DirectionIn, seg, false)

	switch s.state {
	case StateListen:
		s.onListen(seg, now)
		return
	case StateSynSent:
		s.onSynSent(seg, now)
		return
	}

	if seg.ConnID != s.connID {
		s.cfg.Logger.Debug("segment for another session", "conn", s.cfg.ConnectionID, "id", seg.ConnID)
		return
	}
	s.lastRecv = now
	if seg.Flags.Has(wire.FlagRST) {
		s.finish(ErrReset)
		return
	}
	if s.state == StateSynReceived {
		switch {
		case seg.Flags.Has(wire.FlagSYN):
			s.transmit(s.syn, true)
			return
		case seg.Flags.Has(wire.FlagACK) && !wire.SeqLess(seg.Ack, s.isn):
			s.establish(now)
		default:
			return
		}
	}
	s.onData(seg, now)
}

func (s *Session) onListen(seg *wire.Segment, now time.Time) {
	if !seg.Flags.Has(wire.FlagSYN) || seg.Flags.Has(wire.FlagACK) {
		return
	}
	remote, err := wire.DecodeSynParams(seg.Payload)
	if err != nil {
		s.cfg.Logger.Debug("bad SYN", "conn", s.cfg.ConnectionID, "error", err)
		return
	}
	params := negotiate(s.cfg.synParams(), remote)
	s.cfg = s.cfg.apply(params)
	s.setBackoff()

	s.connID = seg.ConnID
	s.recv = newRecvBuffer(seg.Seq+1, int(s.cfg.Window))
	s.sndNxt = s.isn + 1
	s.lastRecv = now
	s.syn = &wire.Segment{
		Flags:   wire.FlagSYN | wire.FlagACK,
		Window:  s.recv.window(),
		ConnID:  s.connID,
		Seq:     s.isn,
		Ack:     seg.Seq,
		Payload: wire.EncodeSynParams(params),
	}
	s.synDeadline = now.Add(s.backoff.Delay(0))
	s.setState(StateSynReceived, "SYN")
	s.transmit(s.syn, false)
}

func (s *Session) onSynSent(seg *wire.Segment, now time.Time) {
	if seg.ConnID != s.connID {
		return
	}
	if seg.Flags.Has(wire.FlagRST) {
		s.finish(fmt.Errorf("%w: %w", ErrHandshake, ErrReset))
		return
	}
	if !seg.Flags.Has(wire.FlagSYN|wire.FlagACK) || seg.Ack != s.isn {
		return
	}
	params, err := wire.DecodeSynParams(seg.Payload)
	if err != nil {
		s.cfg.Logger.Debug("bad SYN|ACK", "conn", s.cfg.ConnectionID, "error", err)
		return
	}
	s.cfg = s.cfg.apply(params)
	s.setBackoff()

	s.recv = newRecvBuffer(seg.Seq+1, int(s.cfg.Window))
	s.sndNxt = s.isn + 1
	s.peerWin = seg.Window
	s.establish(now)
	s.sendAck()
}

// onData handles an established-state segment.
func (s *Session) onData(seg *wire.Segment, now time.Time) {
	if seg.Flags.Has(wire.FlagSYN) {
		// Our handshake ACK was lost.
		if seg.Flags.Has(wire.FlagACK) {
			s.sendAck()
		}
		return
	}

	if seg.Flags.Has(wire.FlagACK) {
		s.peerWin = seg.Window
		if n := s.window.ack(seg.Ack); n > 0 {
			s.cfg.Metrics.SetSendWindow(s.window.len())
		}
		if seg.Flags.Has(wire.FlagSACK) {
			s.window.sack(seg.Ack, seg.Sack)
		}
	}

	acked := false
	if seg.IsData() {
		deliver, dup := s.recv.accept(seg.Seq, seg.Payload)
		if dup {
			s.cfg.Metrics.Duplicate()
		}
		for _, p := range deliver {
			s.inbox.push(p)
		}
		s.sendAck()
		acked = true
	}

	if seg.Flags.Has(wire.FlagFIN) {
		if seg.Seq == s.recv.next {
			s.recv.next++
			s.sendAck()
			s.finish(fmt.Errorf("%w by peer", ErrClosed))
			return
		}
		if !acked {
			s.sendAck()
			acked = true
		}
	}
	if seg.Flags.Has(wire.FlagKeepalive) && !acked {
		s.sendAck()
	}

	if s.state == StateClosing {
		if s.finSent && s.window.len() == 0 {
			s.finish(ErrClosed)
			return
		}
		s.maybeSendFin(now)
		return
	}
	s.fill(now)
}

// fill moves waiting sends into the window while it has room.
func (s *Session) fill(now time.Time) {
	if s.state != StateEstablished {
		return
	}
	limit := int(min(s.cfg.Window, s.peerWin))
	for len(s.waiting) > 0 && s.window.len() < limit {
		req := s.waiting[0]
		s.waiting = s.waiting[1:]
		seg := &outSeg{seq: s.sndNxt, payload: req.payload, deadline: now.Add(s.backoff.Delay(0))}
		s.sndNxt++
		s.window.push(seg)
		s.transmitData(seg, false)
		req.done <- nil
	}
	s.cfg.Metrics.SetSendWindow(s.window.len())
}

func (s *Session) onTick(now time.Time) {
	switch s.state {
	case StateListen:
		return
	case StateSynSent, StateSynReceived:
		if now.Before(s.synDeadline) {
			return
		}
		if s.synRetries >= int(s.cfg.MaxRetransmits) {
			s.finish(fmt.Errorf("%w: no answer after %d attempts", ErrHandshake, s.synRetries+1))
			return
		}
		s.synRetries++
		s.synDeadline = now.Add(s.backoff.Delay(s.synRetries))
		s.cfg.Metrics.Retransmit()
		s.transmit(s.syn, true)
		return
	}

	if now.Sub(s.lastRecv) >= s.cfg.ConnTimeout {
		s.finish(fmt.Errorf("%w: peer silent for %v", ErrConnectionLost, now.Sub(s.lastRecv).Round(time.Millisecond)))
		return
	}
	if s.state == StateClosing && now.Sub(s.closing) >= s.cfg.ConnTimeout {
		s.finish(ErrClosed)
		return
	}

	for _, seg := range s.window.due(now) {
		if seg.retries >= int(s.cfg.MaxRetransmits) {
			if s.state == StateClosing {
				s.finish(ErrClosed)
			} else {
				s.finish(fmt.Errorf("%w: segment %d unacknowledged after %d retransmits", ErrConnectionLost, seg.seq, seg.retries))
			}
			return
		}
		seg.retries++
		seg.deadline = now.Add(s.backoff.Delay(seg.retries))
		s.cfg.Metrics.Retransmit()
		s.transmitData(seg, true)
	}

	if now.Sub(s.lastSend) >= s.cfg.Keepalive {
		s.transmit(s.header(wire.FlagACK|wire.FlagKeepalive, s.sndNxt, nil), false)
	}
}

// header builds a segment carrying the current acknowledgment state.
func (s *Session) header(flags wire.Flags, seq uint32, payload []byte) *wire.Segment {
	seg := &wire.Segment{
		Flags:   flags,
		Window:  s.recv.window(),
		ConnID:  s.connID,
		Seq:     seq,
		Ack:     s.recv.cumulative(),
		Payload: payload,
	}
	if sack := s.recv.sackBits(); sack != 0 {
		seg.Flags |= wire.FlagSACK
		seg.Sack = sack
	}
	return seg
}

func (s *Session) sendAck() {
	s.transmit(s.header(wire.FlagACK, s.sndNxt, nil), false)
}

func (s *Session) transmitData(seg *outSeg, retransmit bool) {
	flags := wire.FlagACK
	if seg.fin {
		flags |= wire.FlagFIN
	}
	s.transmit(s.header(flags, seg.seq, seg.payload), retransmit)
}

func (s *Session) transmit(seg *wire.Segment, retransmit bool) {
	if err := s.carrier.Send(wire.EncodeSegment(seg)); err != nil {
		s.cfg.Logger.Debug("segment send failed", "conn", s.cfg.ConnectionID, "error", err)
	}
	s.lastSend = time.Now()
	s.cfg.Metrics.SegmentSent()
	s.logSegment(log.DirectionOut, seg, retransmit)
}

func (s *Session) logSegment(dir log.Direction, seg *wire.Segment, retransmit bool) {
	s.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.cfg.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerReliability,
		Category:     log.CategorySegment,
		RemoteAddr:   s.carrier.RemoteAddr(),
		Segment:      log.NewSegmentEvent(seg, retransmit),
	})
}
