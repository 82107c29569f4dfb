package log

import (
	"sync"
	"testing"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	c := &captureLogger{}
	if OrNoop(c) != Logger(c) {
		t.Error("OrNoop should pass through non-nil loggers")
	}
	NoopLogger{}.Log(Event{})
}

func TestMultiLogger(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{ConnectionID: "x"})
	m.Log(Event{ConnectionID: "y"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("fan-out counts = %d, %d; want 2, 2", len(a.events), len(b.events))
	}

	if _, ok := NewMultiLogger(nil, nil).(NoopLogger); !ok {
		t.Error("NewMultiLogger with no loggers should return NoopLogger")
	}
	if NewMultiLogger(nil, a) != Logger(a) {
		t.Error("NewMultiLogger with one logger should return it unwrapped")
	}
}

func TestEnumStrings(t *testing.T) {
	if LayerReliability.String() != "RELIABILITY" || Layer(99).String() != "UNKNOWN" {
		t.Error("layer names wrong")
	}
	if l, ok := ParseLayer("MUX"); !ok || l != LayerMux {
		t.Errorf("ParseLayer(MUX) = %v, %v", l, ok)
	}
	if _, ok := ParseLayer("mux"); ok {
		t.Error("ParseLayer should be case-sensitive")
	}
	if CategorySegment.String() != "SEGMENT" || DirectionOut.String() != "OUT" {
		t.Error("category/direction names wrong")
	}
	if StateEntityPoller.String() != "POLLER" {
		t.Error("entity names wrong")
	}
}
