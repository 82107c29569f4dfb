package log

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	Destination  *uint8
	TimeStart    *time.Time
	TimeEnd      *time.Time
}

// Match reports whether event passes every set field. TimeEnd is exclusive.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Destination != nil && (event.Destination == nil || *event.Destination != *f.Destination):
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

// Reader decodes events from a capture stream.
type Reader struct {
	closer  io.Closer
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the capture at path and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the capture at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewStreamReader(f, filter)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewStreamReader reads a capture from src, such as a pipe. The header is
// checked before it returns. Close does not close src.
func NewStreamReader(src io.Reader, filter Filter) (*Reader, error) {
	if err := readHeader(src); err != nil {
		return nil, err
	}
	return &Reader{decoder: decMode.NewDecoder(src), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at a clean end of stream.
// A capture cut off mid-event reports io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	for {
		offset := headerSize + r.decoder.NumBytesRead()
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("event at byte %d: %w", offset, err)
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// All iterates the remaining matching events. Iteration stops after the
// first error, which is yielded with a zero Event.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// ReadAll drains the reader. Events read before an error are returned with
// it.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for event, err := range r.All() {
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Close releases the file opened by NewReader or NewFilteredReader.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
