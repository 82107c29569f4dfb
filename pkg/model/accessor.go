package model

import "context"

// Accessor performs word-aligned memory transactions on a bus. The
// interaction client, the emulated memory and test doubles implement it.
type Accessor interface {
	// Read returns n bytes starting at addr.
	Read(ctx context.Context, addr uint64, n int) ([]byte, error)

	// Write stores data starting at addr.
	Write(ctx context.Context, addr uint64, data []byte) error
}
