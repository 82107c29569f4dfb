package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// SegmentVersion is the reliability header version.
const SegmentVersion uint8 = 1

// Segment layout constants.
const (
	// SegmentHeaderSize is the fixed header size preceding the payload.
	SegmentHeaderSize = 24

	// SackBits is the number of sequence numbers covered by the selective
	// acknowledgment bitmap. Bit i set means seq ack+2+i was received.
	SackBits = 32
)

// Segment errors.
var (
	ErrSegmentTruncated = errors.New("segment truncated")
	ErrSegmentVersion   = errors.New("unsupported segment version")
)

// Flags is the reliability header flag set.
type Flags uint8

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
	FlagKeepalive
	FlagSACK
)

// Has reports whether all bits of x are set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// String returns the flag set as "SYN|ACK" style text.
func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagSYN, "SYN"},
		{FlagACK, "ACK"},
		{FlagFIN, "FIN"},
		{FlagRST, "RST"},
		{FlagKeepalive, "KEEPALIVE"},
		{FlagSACK, "SACK"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// Segment is a decoded reliability segment.
type Segment struct {
	Flags  Flags
	Window uint16
	ConnID uint32
	Seq    uint32
	Ack    uint32
	Sack   uint32

	Payload []byte
}

// IsData reports whether the segment carries application data and therefore
// occupies a sequence number.
func (s *Segment) IsData() bool {
	return len(s.Payload) > 0 && !s.Flags.Has(FlagSYN)
}

// EncodeSegment serializes a segment and appends its CRC.
func EncodeSegment(s *Segment) []byte {
	buf := make([]byte, SegmentHeaderSize+len(s.Payload)+ChecksumSize)
	buf[0] = byte(s.Flags)
	buf[1] = SegmentVersion
	binary.BigEndian.PutUint16(buf[2:], s.Window)
	binary.BigEndian.PutUint32(buf[4:], s.ConnID)
	binary.BigEndian.PutUint32(buf[8:], s.Seq)
	binary.BigEndian.PutUint32(buf[12:], s.Ack)
	binary.BigEndian.PutUint32(buf[16:], s.Sack)
	// bytes 20..23 reserved
	n := SegmentHeaderSize + copy(buf[SegmentHeaderSize:], s.Payload)
	binary.BigEndian.PutUint32(buf[n:], crc32.ChecksumIEEE(buf[:n]))
	return buf
}

// DecodeSegment parses and verifies an encoded segment.
func DecodeSegment(data []byte) (*Segment, error) {
	if len(data) < SegmentHeaderSize+ChecksumSize {
		return nil, ErrSegmentTruncated
	}
	n := len(data) - ChecksumSize
	if crc32.ChecksumIEEE(data[:n]) != binary.BigEndian.Uint32(data[n:]) {
		return nil, ErrChecksum
	}
	if data[1] != SegmentVersion {
		return nil, fmt.Errorf("%w: %d", ErrSegmentVersion, data[1])
	}

	s := &Segment{
		Flags:  Flags(data[0]),
		Window: binary.BigEndian.Uint16(data[2:]),
		ConnID: binary.BigEndian.Uint32(data[4:]),
		Seq:    binary.BigEndian.Uint32(data[8:]),
		Ack:    binary.BigEndian.Uint32(data[12:]),
		Sack:   binary.BigEndian.Uint32(data[16:]),
	}
	if n > SegmentHeaderSize {
		s.Payload = append([]byte(nil), data[SegmentHeaderSize:n]...)
	}
	return s, nil
}

// SynParams are the session parameters proposed in SYN and confirmed in
// SYN|ACK. Durations are carried in milliseconds.
type SynParams struct {
	MaxSegmentSize      uint16
	Window              uint16
	MaxRetransmits      uint8
	RetransmitTimeoutMs uint32
	KeepaliveMs         uint32
	ConnTimeoutMs       uint32
}

// synParamsSize is the encoded size of SynParams.
const synParamsSize = 17

// EncodeSynParams serializes p for a SYN payload.
func EncodeSynParams(p SynParams) []byte {
	buf := make([]byte, synParamsSize)
	binary.BigEndian.PutUint16(buf[0:], p.MaxSegmentSize)
	binary.BigEndian.PutUint16(buf[2:], p.Window)
	buf[4] = p.MaxRetransmits
	binary.BigEndian.PutUint32(buf[5:], p.RetransmitTimeoutMs)
	binary.BigEndian.PutUint32(buf[9:], p.KeepaliveMs)
	binary.BigEndian.PutUint32(buf[13:], p.ConnTimeoutMs)
	return buf
}

// DecodeSynParams parses a SYN payload.
func DecodeSynParams(data []byte) (SynParams, error) {
	if len(data) < synParamsSize {
		return SynParams{}, ErrSegmentTruncated
	}
	return SynParams{
		MaxSegmentSize:      binary.BigEndian.Uint16(data[0:]),
		Window:              binary.BigEndian.Uint16(data[2:]),
		MaxRetransmits:      data[4],
		RetransmitTimeoutMs: binary.BigEndian.Uint32(data[5:]),
		KeepaliveMs:         binary.BigEndian.Uint32(data[9:]),
		ConnTimeoutMs:       binary.BigEndian.Uint32(data[13:]),
	}, nil
}

// SeqLess reports whether a precedes b in 32-bit serial number arithmetic.
func SeqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// SeqDiff returns b-a as a signed distance.
func SeqDiff(a, b uint32) int32 {
	return int32(b - a)
}
