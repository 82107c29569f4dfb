// Package commands implements the regbus-log CLI commands.
package commands

import (
	"fmt"
	"io"

	"github.com/regbus/regbus-go/pkg/log"
	"github.com/regbus/regbus-go/pkg/wire"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer       *log.Layer
	Direction   *log.Direction
	Category    *log.Category
	Destination *uint8
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = event.Frame.Opcode.String()
	case event.Segment != nil:
		typeLabel = "Segment"
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	layer := event.Layer.String()
	if event.Destination != nil {
		layer = fmt.Sprintf("%s#%d", layer, *event.Destination)
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, layer, typeLabel)
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Segment != nil:
		formatSegmentDetails(w, event.Segment)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, f *log.FrameEvent) {
	fmt.Fprintf(w, "  ID: %d  Address: 0x%08x  Words: %d\n", f.ID, f.Address, f.Words)
	if f.Opcode.IsResponse() {
		fmt.Fprintf(w, "  Status: %s\n", wire.StatusText(f.Status))
	}
	if f.Attempt > 1 {
		fmt.Fprintf(w, "  Attempt: %d\n", f.Attempt)
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", f.Size)
}

func formatSegmentDetails(w io.Writer, s *log.SegmentEvent) {
	fmt.Fprintf(w, "  Flags: %s  Seq: %d  Ack: %d  Window: %d\n", s.Flags, s.Seq, s.Ack, s.Window)
	if s.Sack != 0 {
		fmt.Fprintf(w, "  SACK: %032b\n", s.Sack)
	}
	if s.Size > 0 {
		fmt.Fprintf(w, "  Payload: %d bytes\n", s.Size)
	}
	if s.Retransmit {
		fmt.Fprintln(w, "  (retransmit)")
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := openCapture(path, log.Filter{
		Layer:       filter.Layer,
		Direction:   filter.Direction,
		Category:    filter.Category,
		Destination: filter.Destination,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
