// Package transport moves whole messages between register bus peers.
//
// A Link is a message-oriented connection to one peer. Three carriers
// implement it:
//
//   - Datagram links over UDP, one message per datagram
//   - Stream links over TCP, one message per length-prefixed frame
//   - Pipe links in memory, with optional loss, duplication and reordering
//
// The reliability layer (package reliable) runs on top of a datagram link
// and is itself a Link, so a Mux can share one session between several
// logical destinations:
//
//	┌────────────────────────────────┐
//	│      Register frames           │
//	├────────────────────────────────┤
//	│   Mux destination tag (1B)     │  optional
//	├────────────────────────────────┤
//	│   Reliability segment          │  optional
//	├────────────────────────────────┤
//	│   UDP datagram | TCP frame     │
//	└────────────────────────────────┘
//
// # Handlers
//
// Received messages are passed to the Handler given to Start, on the link's
// reader goroutine. Handlers must not block; they hand messages to their
// own goroutines.
package transport
