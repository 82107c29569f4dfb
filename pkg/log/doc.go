// Package log provides structured protocol capture for the register access
// stack.
//
// It is separate from operational logging (slog). Protocol capture records a
// machine-readable trace of every frame, segment and session state change so
// that a misbehaving link can be replayed and inspected offline.
//
// # Basic Usage
//
//	// Console, via slog at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary capture file, read back with regbus-log
//	fl, _ := log.NewFileLogger("/var/log/regbus/ctrl.rlog", log.WithMaxSize(64<<20))
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - REGISTER: decoded register frames (requests and responses)
//   - RELIABILITY: reliability segments (data, acks, keepalives, handshake)
//   - MUX: destination tagging
//   - TRANSPORT: raw datagrams and stream frames
//
// Capture files carry an 8-byte header ("RBCAP\r\n" and a version byte)
// followed by a stream of CBOR-encoded events with integer keys. Reader
// accepts any io.Reader, so captures can be piped between tools.
package log
