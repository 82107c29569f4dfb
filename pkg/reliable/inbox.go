package reliable

import "sync"

// inbox queues in-order payloads for the delivery goroutine. It is
// unbounded so the session goroutine never waits on a handler.
type inbox struct {
	mu    sync.Mutex
	msgs  [][]byte
	ready chan struct{}
}

func (q *inbox) init() { q.ready = make(chan struct{}, 1) }

func (q *inbox) push(msg []byte) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *inbox) take() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

// deliverLoop hands payloads to the handler. A handler may call Send.
func (s *Session) deliverLoop() {
	select {
	case <-s.started:
	case <-s.done:
		return
	}
	for {
		for _, m := range s.inbox.take() {
			s.handler(m)
		}
		select {
		case <-s.inbox.ready:
		case <-s.done:
			for _, m := range s.inbox.take() {
				s.handler(m)
			}
			return
		}
	}
}
