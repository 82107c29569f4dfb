package model

import "errors"

// Model errors.
var (
	// ErrRange reports an address window, bit position or value outside its
	// permitted bounds, including overlapping sibling windows.
	ErrRange = errors.New("out of range")

	// ErrAccess reports an operation not permitted by a register's mode.
	ErrAccess = errors.New("access mode violation")

	// ErrNotFound reports an unresolved path.
	ErrNotFound = errors.New("not found")

	// ErrCycle reports a cycle in the link dependency graph.
	ErrCycle = errors.New("dependency cycle")

	// ErrUnsupported reports a write to a link without an inverse transform.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrDuplicate reports a name already used by a sibling.
	ErrDuplicate = errors.New("duplicate name")

	// ErrNotBound reports a register with no Accessor bound.
	ErrNotBound = errors.New("no memory accessor bound")

	// ErrFrozen reports a structural change after NewSpace.
	ErrFrozen = errors.New("address space is frozen")
)
