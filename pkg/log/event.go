package log

import (
	"time"

	"github.com/regbus/regbus-go/pkg/wire"
)

// Event is a protocol log record captured at any layer.
// Exactly one of the payload pointers is set.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (host:port), when known.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Destination is the stream multiplexing tag, when one applies.
	Destination *uint8 `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Segment     *SegmentEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	LayerTransport   Layer = 0
	LayerRegister    Layer = 1
	LayerReliability Layer = 2
	LayerMux         Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerRegister:
		return "REGISTER"
	case LayerReliability:
		return "RELIABILITY"
	case LayerMux:
		return "MUX"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer converts a layer name (case-sensitive, as printed by String)
// back to a Layer.
func ParseLayer(s string) (Layer, bool) {
	for l := LayerTransport; l <= LayerMux; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event.
type Category uint8

const (
	CategoryFrame   Category = 0
	CategorySegment Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategorySegment:
		return "SEGMENT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a register frame.
type FrameEvent struct {
	Opcode  wire.Opcode `cbor:"1,keyasint"`
	ID      uint32      `cbor:"2,keyasint"`
	Address uint64      `cbor:"3,keyasint"`
	Words   uint32      `cbor:"4,keyasint"`
	Status  uint32      `cbor:"5,keyasint,omitempty"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"6,keyasint"`

	// Attempt is the 1-based transmission attempt for requests.
	Attempt int `cbor:"7,keyasint,omitempty"`
}

// NewFrameEvent summarizes f for logging.
func NewFrameEvent(f *wire.Frame, attempt int) *FrameEvent {
	return &FrameEvent{
		Opcode:  f.Opcode,
		ID:      f.ID,
		Address: f.Address,
		Words:   f.Words,
		Status:  f.Status,
		Size:    f.Size(),
		Attempt: attempt,
	}
}

// SegmentEvent captures a reliability segment.
type SegmentEvent struct {
	Flags      wire.Flags `cbor:"1,keyasint"`
	Seq        uint32     `cbor:"2,keyasint"`
	Ack        uint32     `cbor:"3,keyasint"`
	Sack       uint32     `cbor:"4,keyasint,omitempty"`
	Window     uint16     `cbor:"5,keyasint"`
	Size       int        `cbor:"6,keyasint"`
	Retransmit bool       `cbor:"7,keyasint,omitempty"`
}

// NewSegmentEvent summarizes s for logging.
func NewSegmentEvent(s *wire.Segment, retransmit bool) *SegmentEvent {
	return &SegmentEvent{
		Flags:      s.Flags,
		Seq:        s.Seq,
		Ack:        s.Ack,
		Sack:       s.Sack,
		Window:     s.Window,
		Size:       len(s.Payload),
		Retransmit: retransmit,
	}
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySession    StateEntity = 1
	StateEntityRequest    StateEntity = 2
	StateEntityPoller     StateEntity = 3
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityRequest:
		return "REQUEST"
	case StateEntityPoller:
		return "POLLER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Context string `cbor:"3,keyasint,omitempty"`
}
