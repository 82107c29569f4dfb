// Package wire defines the binary wire formats of the register access protocol.
//
// Two independent formats live here:
//   - Frame: a register read/write request or response.
//   - Segment: the header of the optional reliability layer that carries
//     frames over a lossy datagram link.
//
// # Register Frame
//
// All multi-byte fields are little-endian, matching the word order of the
// memory bus behind the peer.
//
//	┌─────────┬────────┬──────────┬────────┬─────────┬────────┬─────────┬────────┬───────┐
//	│ version │ opcode │ reserved │ id     │ address │ words  │ payload │ status │ crc32 │
//	│ 1B      │ 1B     │ 2B       │ 4B     │ 8B      │ 4B     │ 4B*n    │ 4B     │ 4B    │
//	└─────────┴────────┴──────────┴────────┴─────────┴────────┴─────────┴────────┴───────┘
//
// The payload is present on WRITE requests and READ responses. The status
// word is present on responses only. The CRC covers every preceding byte.
//
// # Reliability Segment
//
// Segment headers are big-endian (network order):
//
//	┌───────┬─────────┬────────┬─────────┬──────┬──────┬──────┬─────────┬───────┐
//	│ flags │ version │ window │ conn id │ seq  │ ack  │ sack │ payload │ crc32 │
//	│ 1B    │ 1B      │ 2B     │ 4B      │ 4B   │ 4B   │ 4B   │ n       │ 4B    │
//	└───────┴─────────┴────────┴─────────┴──────┴──────┴──────┴─────────┴───────┘
//
// The stream multiplexing destination is not part of either header; it is a
// one-byte tag carried inside the segment payload (see package transport).
package wire
