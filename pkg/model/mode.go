package model

import (
	"fmt"
	"strings"
)

// Mode is a register access mode.
type Mode uint8

const (
	// ModeRW is the zero value: readable and writable.
	ModeRW Mode = iota
	ModeRO
	ModeWO
)

// CanRead reports whether the hardware can be read.
func (m Mode) CanRead() bool { return m != ModeWO }

// CanWrite reports whether the hardware can be written.
func (m Mode) CanWrite() bool { return m != ModeRO }

// String returns "RW", "RO" or "WO".
func (m Mode) String() string {
	switch m {
	case ModeRW:
		return "RW"
	case ModeRO:
		return "RO"
	case ModeWO:
		return "WO"
	default:
		return "??"
	}
}

// ParseMode parses "RW", "RO" or "WO" (case-insensitive). Empty means RW.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "", "RW":
		return ModeRW, nil
	case "RO":
		return ModeRO, nil
	case "WO":
		return ModeWO, nil
	default:
		return 0, fmt.Errorf("unknown access mode %q", s)
	}
}

// Base is the numeric encoding of a register.
type Base uint8

const (
	BaseUInt Base = iota
	BaseBool
)

// String returns the base name.
func (b Base) String() string {
	switch b {
	case BaseUInt:
		return "uint"
	case BaseBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseBase parses "uint" or "bool". Empty means uint.
func ParseBase(s string) (Base, error) {
	switch strings.ToLower(s) {
	case "", "uint", "uint32", "uint64":
		return BaseUInt, nil
	case "bool":
		return BaseBool, nil
	default:
		return 0, fmt.Errorf("unknown base %q", s)
	}
}
