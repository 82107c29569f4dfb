package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ProtocolVersion is the register frame version emitted and accepted.
const ProtocolVersion uint8 = 3

// Frame layout constants.
const (
	// WordSize is the bus word size in bytes. Addresses and lengths are
	// expressed in whole words.
	WordSize = 4

	// FrameHeaderSize is the fixed header size preceding the payload.
	FrameHeaderSize = 20

	// StatusSize is the size of the response status word.
	StatusSize = 4

	// ChecksumSize is the size of the trailing CRC32.
	ChecksumSize = 4
)

// Frame errors.
var (
	ErrFrameTruncated = errors.New("frame truncated")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrBadVersion     = errors.New("unsupported frame version")
	ErrBadOpcode      = errors.New("invalid opcode")
	ErrUnaligned      = errors.New("address or length not word aligned")
	ErrPayloadLength  = errors.New("payload length does not match word count")
)

// Opcode identifies the frame kind.
type Opcode uint8

const (
	OpRead          Opcode = 1
	OpWrite         Opcode = 2
	OpReadResponse  Opcode = 3
	OpWriteResponse Opcode = 4
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpReadResponse:
		return "READ_RESPONSE"
	case OpWriteResponse:
		return "WRITE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether o is a known opcode.
func (o Opcode) IsValid() bool {
	return o >= OpRead && o <= OpWriteResponse
}

// IsResponse reports whether o is a response opcode.
func (o Opcode) IsResponse() bool {
	return o == OpReadResponse || o == OpWriteResponse
}

// Response returns the response opcode matching request opcode o.
func (o Opcode) Response() Opcode {
	switch o {
	case OpRead:
		return OpReadResponse
	case OpWrite:
		return OpWriteResponse
	default:
		return o
	}
}

// Status codes reported by the peer in response frames.
const (
	StatusOK           uint32 = 0
	StatusBusError     uint32 = 1
	StatusBusTimeout   uint32 = 2
	StatusUnmapped     uint32 = 3
	StatusBadRequest   uint32 = 4
	StatusSizeExceeded uint32 = 5
)

// StatusText returns a short name for a status code.
func StatusText(status uint32) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusBusError:
		return "BUS_ERROR"
	case StatusBusTimeout:
		return "BUS_TIMEOUT"
	case StatusUnmapped:
		return "UNMAPPED"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusSizeExceeded:
		return "SIZE_EXCEEDED"
	default:
		return fmt.Sprintf("STATUS_%d", status)
	}
}

// Frame is a decoded register request or response.
type Frame struct {
	Opcode  Opcode
	ID      uint32
	Address uint64
	Words   uint32
	Payload []byte

	// Status is meaningful on responses only.
	Status uint32
}

// hasPayload reports whether the opcode carries data words.
func (f *Frame) hasPayload() bool {
	return f.Opcode == OpWrite || (f.Opcode == OpReadResponse && f.Status == StatusOK)
}

// Validate checks structural consistency of the frame.
func (f *Frame) Validate() error {
	if !f.Opcode.IsValid() {
		return fmt.Errorf("%w: %d", ErrBadOpcode, f.Opcode)
	}
	if f.Address%WordSize != 0 {
		return fmt.Errorf("%w: address 0x%x", ErrUnaligned, f.Address)
	}
	if f.Words == 0 {
		return fmt.Errorf("%w: zero words", ErrPayloadLength)
	}
	want := 0
	if f.hasPayload() {
		want = int(f.Words) * WordSize
	}
	if len(f.Payload) != want {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrPayloadLength, len(f.Payload), want)
	}
	return nil
}

// Size returns the encoded size of the frame.
func (f *Frame) Size() int {
	n := FrameHeaderSize + len(f.Payload) + ChecksumSize
	if f.Opcode.IsResponse() {
		n += StatusSize
	}
	return n
}

// EncodeFrame serializes a frame and appends its CRC.
func EncodeFrame(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	buf := make([]byte, f.Size())
	buf[0] = ProtocolVersion
	buf[1] = byte(f.Opcode)
	binary.LittleEndian.PutUint32(buf[4:], f.ID)
	binary.LittleEndian.PutUint64(buf[8:], f.Address)
	binary.LittleEndian.PutUint32(buf[16:], f.Words)

	off := FrameHeaderSize
	off += copy(buf[off:], f.Payload)
	if f.Opcode.IsResponse() {
		binary.LittleEndian.PutUint32(buf[off:], f.Status)
		off += StatusSize
	}
	binary.LittleEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))

	return buf, nil
}

// DecodeFrame parses and verifies an encoded frame.
// A CRC mismatch returns ErrChecksum and no frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize+ChecksumSize {
		return nil, ErrFrameTruncated
	}

	body := data[:len(data)-ChecksumSize]
	sum := binary.LittleEndian.Uint32(data[len(data)-ChecksumSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, ErrChecksum
	}

	if body[0] != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, body[0])
	}

	f := &Frame{
		Opcode:  Opcode(body[1]),
		ID:      binary.LittleEndian.Uint32(body[4:]),
		Address: binary.LittleEndian.Uint64(body[8:]),
		Words:   binary.LittleEndian.Uint32(body[16:]),
	}
	if !f.Opcode.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrBadOpcode, f.Opcode)
	}

	rest := body[FrameHeaderSize:]
	if f.Opcode.IsResponse() {
		if len(rest) < StatusSize {
			return nil, ErrFrameTruncated
		}
		f.Status = binary.LittleEndian.Uint32(rest[len(rest)-StatusSize:])
		rest = rest[:len(rest)-StatusSize]
	}
	if len(rest) > 0 {
		f.Payload = append([]byte(nil), rest...)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewReadRequest builds a read request for words starting at addr.
func NewReadRequest(id uint32, addr uint64, words uint32) *Frame {
	return &Frame{Opcode: OpRead, ID: id, Address: addr, Words: words}
}

// NewWriteRequest builds a write request carrying data, which must be a
// whole number of words.
func NewWriteRequest(id uint32, addr uint64, data []byte) *Frame {
	return &Frame{Opcode: OpWrite, ID: id, Address: addr, Words: uint32(len(data) / WordSize), Payload: data}
}

// Reply builds the response frame for request f.
// data is ignored unless f is a read and status is StatusOK.
func (f *Frame) Reply(status uint32, data []byte) *Frame {
	resp := &Frame{
		Opcode:  f.Opcode.Response(),
		ID:      f.ID,
		Address: f.Address,
		Words:   f.Words,
		Status:  status,
	}
	if resp.Opcode == OpReadResponse && status == StatusOK {
		resp.Payload = data
	}
	return resp
}
