// Package model implements the hierarchical register model.
//
// # Hierarchy
//
//	Device (root, spans the whole bus)
//	├── Device "Core"       offset 0x00000
//	├── Device "Registers"  offset 0x40000
//	│   └── Register "ChannelEnable"
//	└── Device "Channel[0]" offset 0x41000
//	    ├── Register "CurrentLimit"  (WO, 16 bit)
//	    └── Link "Current"          (CurrentLimit * 16 / 65536)
//
// A Device occupies a fixed [offset, offset+size) window inside its parent.
// Sibling windows never overlap and every child window lies inside its
// parent, so the absolute address of a register is the sum of offsets along
// its path. Trees are built with Attach/AddRegister/AddLink and then frozen
// by NewSpace, which computes addresses, resolves link dependencies and
// rejects dependency cycles.
//
// # Variables
//
// A Register is a bitfield inside one or more 32-bit bus words. It caches the
// last value read or written. A Link derives an engineering value from one or
// more Registers or Links through a Transform and caches it until any
// dependency changes.
//
// Transform functions must be pure: their result may depend only on the
// dependency values they are given. The cache relies on this; a transform
// that reads other state will return stale values.
//
// # Memory access
//
// Registers never talk to the network. Space.Bind attaches an Accessor (the
// transport client, or emulated memory) to a subtree.
package model
