// Package reliable implements the optional reliability layer: an ordered,
// exactly-once message session over a lossy, reordering, duplicating
// datagram link.
//
// # Handshake
//
// The initiator (Dial) sends SYN with its proposed parameters, the
// responder (Accept) answers SYN|ACK with the negotiated set and the
// initiator confirms with ACK. Segments carrying data are not accepted
// before this completes.
//
// # Data
//
// Every Send becomes one segment with the next sequence number. At most
// Window segments are unacknowledged; Send blocks beyond that. The
// receiver acknowledges cumulatively and reports out-of-order segments it
// holds in a 32-bit SACK bitmap, so the sender skips them when
// retransmitting. Unacknowledged segments are retransmitted with
// exponential backoff; a segment unanswered after MaxRetransmits tears the
// session down with ErrConnectionLost.
//
// Idle sessions exchange keepalive probes. Silence beyond ConnTimeout also
// yields ErrConnectionLost.
//
// # Closing
//
// Close waits for outstanding data to be acknowledged, then exchanges FIN.
// Abort sends RST; the peer sees ErrReset.
//
// A Session implements transport.Link, so an interaction.Client or a
// transport.Mux runs on top of it unchanged.
package reliable
