package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Capture files start with an 8-byte header: the magic below followed by a
// format version. CBOR-encoded events follow back to back.
const (
	captureMagic   = "RBCAP\r\n"
	CaptureVersion = 1
	headerSize     = len(captureMagic) + 1
)

// Capture format errors.
var (
	ErrNotCapture     = errors.New("not a register bus capture file")
	ErrCaptureVersion = errors.New("unsupported capture version")
)

var (
	encMode = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode())

	// Unknown keys and duplicate keys are tolerated so that captures from
	// newer writers stay readable.
	decMode = mustMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxArrayElements:  1 << 16,
	}.DecMode())
)

func mustMode[M any](m M, err error) M {
	if err != nil {
		panic(fmt.Sprintf("log: cbor mode: %v", err))
	}
	return m
}

func captureHeader() []byte {
	return append([]byte(captureMagic), CaptureVersion)
}

// readHeader consumes and checks the capture header.
func readHeader(r io.Reader) error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotCapture
		}
		return err
	}
	if !bytes.Equal(hdr[:len(captureMagic)], []byte(captureMagic)) {
		return ErrNotCapture
	}
	if v := hdr[len(captureMagic)]; v != CaptureVersion {
		return fmt.Errorf("%w: %d", ErrCaptureVersion, v)
	}
	return nil
}

// MarshalEvent returns the CBOR encoding of one event, without header.
func MarshalEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// UnmarshalEvent decodes one event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var event Event
	err := decMode.Unmarshal(data, &event)
	return event, err
}
