package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger. Error events are
// logged at warn level, everything else at debug.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes event as a single "protocol" record. The payload is nested
// under a group named after it: frame, segment, state or error.
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs,
		slog.String("conn", event.ConnectionID),
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	)
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.Destination != nil {
		attrs = append(attrs, slog.Int("dest", int(*event.Destination)))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Any("frame", event.Frame))
	case event.Segment != nil:
		attrs = append(attrs, slog.Any("segment", event.Segment))
	case event.StateChange != nil:
		attrs = append(attrs, slog.Any("state", event.StateChange))
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("error", event.Error))
	}

	a.logger.LogAttrs(context.Background(), level, "protocol", attrs...)
}

// LogValue implements slog.LogValuer.
func (f *FrameEvent) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("op", f.Opcode.String()),
		slog.Uint64("id", uint64(f.ID)),
		slog.String("addr", fmt.Sprintf("0x%08x", f.Address)),
		slog.Uint64("words", uint64(f.Words)),
	}
	if f.Opcode.IsResponse() {
		attrs = append(attrs, slog.Uint64("status", uint64(f.Status)))
	}
	if f.Attempt > 1 {
		attrs = append(attrs, slog.Int("attempt", f.Attempt))
	}
	return slog.GroupValue(attrs...)
}

// LogValue implements slog.LogValuer.
func (s *SegmentEvent) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("flags", s.Flags.String()),
		slog.Uint64("seq", uint64(s.Seq)),
		slog.Uint64("ack", uint64(s.Ack)),
		slog.Int("size", s.Size),
	}
	if s.Retransmit {
		attrs = append(attrs, slog.Bool("retransmit", true))
	}
	return slog.GroupValue(attrs...)
}

// LogValue implements slog.LogValuer.
func (sc *StateChangeEvent) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("entity", sc.Entity.String()),
		slog.String("from", sc.OldState),
		slog.String("to", sc.NewState),
	}
	if sc.Reason != "" {
		attrs = append(attrs, slog.String("reason", sc.Reason))
	}
	return slog.GroupValue(attrs...)
}

// LogValue implements slog.LogValuer.
func (e *ErrorEventData) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("layer", e.Layer.String()),
		slog.String("msg", e.Message),
	}
	if e.Context != "" {
		attrs = append(attrs, slog.String("context", e.Context))
	}
	return slog.GroupValue(attrs...)
}

var (
	_ Logger         = (*SlogAdapter)(nil)
	_ slog.LogValuer = (*FrameEvent)(nil)
)
