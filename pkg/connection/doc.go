// Package connection manages the link to a register bus peer.
//
// It provides:
//   - Exponential backoff with jitter, shared by request retries, segment
//     retransmission and reconnection
//   - A connection Manager tracking link state and re-dialing in the
//     background after a loss
//
// # Reconnection
//
// When the reliability layer reports a lost session the owner calls
// NotifyConnectionLost. Pending requests on the old session have already
// failed; the manager waits Initial, Initial*2, ... up to Max (plus up to
// 25% jitter) between dial attempts and resets the schedule once a dial
// succeeds. Callers that want to ride out an outage use WaitConnected.
package connection
