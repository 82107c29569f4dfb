package interaction

import (
	"errors"
	"fmt"

	"github.com/regbus/regbus-go/pkg/wire"
)

// Client errors.
var (
	// ErrTimeout is the cause of a RequestError when no valid response
	// arrived for any attempt.
	ErrTimeout = errors.New("request timed out")

	// ErrRequestFailed matches every *RequestError.
	ErrRequestFailed = errors.New("request failed")

	ErrClientClosed = errors.New("client is closed")

	// ErrLinkDown wraps the link's own error when the carrier stops with
	// requests pending.
	ErrLinkDown = errors.New("link down")
)

// RequestError reports a request that exhausted its attempts.
type RequestError struct {
	Op       wire.Opcode
	Address  uint64
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s 0x%x failed after %d attempts: %v", e.Op, e.Address, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's failure.
func (e *RequestError) Unwrap() error { return e.Err }

// Is matches ErrRequestFailed.
func (e *RequestError) Is(target error) bool { return target == ErrRequestFailed }

// BusError reports a non-zero status from the peer. It is not retried.
type BusError struct {
	Op      wire.Opcode
	Address uint64
	Status  uint32
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s 0x%x: peer status %s", e.Op, e.Address, wire.StatusText(e.Status))
}
