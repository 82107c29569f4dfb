package model

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// RegisterConfig describes a hardware register field.
type RegisterConfig struct {
	Name        string
	Description string
	Units       string
	// Disp is a fmt verb used when presenting the value, e.g. "0x%08x".
	Disp string

	// Offset is the byte offset inside the owning device. Must be word aligned.
	Offset uint64

	// BitOffset is the position of the least significant bit inside the
	// first word. Must be below 32.
	BitOffset uint

	// BitSize is the field width. Zero means one full word.
	BitSize uint

	Mode Mode
	Base Base
}

// Register is a bitfield bound to an absolute bus address.
type Register struct {
	name        string
	description string
	units       string
	disp        string

	offset    uint64
	bitOffset uint
	bitSize   uint
	mode      Mode
	base      Base

	device  *Device
	space   *Space
	address uint64

	dependents []*Link

	mu    sync.Mutex
	value uint64
	valid bool
	ver   uint64
}

// NewRegister validates cfg and returns an unattached register.
func NewRegister(cfg RegisterConfig) (*Register, error) {
	if cfg.BitSize == 0 {
		cfg.BitSize = 8 * WordSize
	}
	if cfg.Base == BaseBool && cfg.BitSize != 1 {
		return nil, fmt.Errorf("%w: bool register %q must be 1 bit wide", ErrRange, cfg.Name)
	}
	if cfg.Offset%WordSize != 0 {
		return nil, fmt.Errorf("%w: register %q offset 0x%x is not word aligned", ErrRange, cfg.Name, cfg.Offset)
	}
	if cfg.BitOffset >= 8*WordSize {
		return nil, fmt.Errorf("%w: register %q bit offset %d", ErrRange, cfg.Name, cfg.BitOffset)
	}
	if cfg.BitOffset+cfg.BitSize > MaxBitSize {
		return nil, fmt.Errorf("%w: register %q bits [%d, %d) exceed %d",
			ErrRange, cfg.Name, cfg.BitOffset, cfg.BitOffset+cfg.BitSize, MaxBitSize)
	}
	if cfg.Mode > ModeWO {
		return nil, fmt.Errorf("register %q: invalid mode %d", cfg.Name, cfg.Mode)
	}
	return &Register{
		name:        cfg.Name,
		description: cfg.Description,
		units:       cfg.Units,
		disp:        cfg.Disp,
		offset:      cfg.Offset,
		bitOffset:   cfg.BitOffset,
		bitSize:     cfg.BitSize,
		mode:        cfg.Mode,
		base:        cfg.Base,
	}, nil
}

// MustRegister is NewRegister for static descriptions; it panics on error.
func MustRegister(cfg RegisterConfig) *Register {
	r, err := NewRegister(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Register) Name() string        { return r.name }
func (r *Register) Description() string { return r.description }
func (r *Register) Units() string       { return r.units }
func (r *Register) Disp() string        { return r.disp }
func (r *Register) Offset() uint64      { return r.offset }
func (r *Register) BitOffset() uint     { return r.bitOffset }
func (r *Register) BitSize() uint       { return r.bitSize }
func (r *Register) Mode() Mode          { return r.mode }
func (r *Register) Base() Base          { return r.base }
func (r *Register) Device() *Device     { return r.device }

// Address returns the absolute bus address. Valid after NewSpace.
func (r *Register) Address() uint64 { return r.address }

// Path returns the slash-separated path from the root.
func (r *Register) Path() string {
	if r.device == nil {
		return r.name
	}
	return joinPath(r.device.Path(), r.name)
}

// Dependents returns the links that list r as a direct dependency.
func (r *Register) Dependents() []*Link { return r.dependents }

// Max returns the largest value the field can hold.
func (r *Register) Max() uint64 { return MaxValue(r.bitSize) }

// Value returns the cached value and whether it is known.
func (r *Register) Value() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.valid
}

func (r *Register) spanBytes() int {
	return SpanBytes(r.bitOffset, r.bitSize)
}

// wholeWords reports whether the field covers every bit of its words, so a
// write needs no merge.
func (r *Register) wholeWords() bool {
	return r.bitOffset == 0 && r.bitSize%(8*WordSize) == 0
}

func (r *Register) accessor() (Accessor, error) {
	if r.space == nil {
		return nil, fmt.Errorf("%w: register %q is not part of a space", ErrNotBound, r.name)
	}
	acc := r.space.accessorFor(r.device)
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, r.Path())
	}
	return acc, nil
}

// Read fetches the containing words from hardware, extracts the field,
// caches and returns it. Write-only registers fail with ErrAccess.
func (r *Register) Read(ctx context.Context) (uint64, error) {
	v, _, err := r.fetch(ctx)
	return v, err
}

func (r *Register) fetch(ctx context.Context) (uint64, uint64, error) {
	if !r.mode.CanRead() {
		return 0, 0, fmt.Errorf("%w: read of write-only register %s", ErrAccess, r.Path())
	}
	acc, err := r.accessor()
	if err != nil {
		return 0, 0, err
	}
	buf, err := acc.Read(ctx, r.address, r.spanBytes())
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", r.Path(), err)
	}
	if len(buf) < r.spanBytes() {
		return 0, 0, fmt.Errorf("read %s: short response of %d bytes", r.Path(), len(buf))
	}
	v := Unpack(buf, r.bitOffset, r.bitSize)
	return v, r.update(v), nil
}

// Write stores v in hardware. Fields narrower than their words are merged
// with the current word contents first: read back from hardware for RW
// registers and taken from the last written words for WO registers.
func (r *Register) Write(ctx context.Context, v uint64) error {
	return r.put(ctx, v, true)
}

// Stage records v as the register value without a bus transaction. A later
// Write of a neighbouring field in the same word carries it to hardware.
func (r *Register) Stage(v uint64) error {
	return r.put(context.Background(), v, false)
}

// ReadBool reads a one-bit register.
func (r *Register) ReadBool(ctx context.Context) (bool, error) {
	v, err := r.Read(ctx)
	return v != 0, err
}

// WriteBool writes a one-bit register.
func (r *Register) WriteBool(ctx context.Context, b bool) error {
	var v uint64
	if b {
		v = 1
	}
	return r.Write(ctx, v)
}

func (r *Register) put(ctx context.Context, v uint64, write bool) error {
	if !r.mode.CanWrite() {
		return fmt.Errorf("%w: write of read-only register %s", ErrAccess, r.Path())
	}
	if v > r.Max() {
		return fmt.Errorf("%w: value %d exceeds %d-bit register %s", ErrRange, v, r.bitSize, r.Path())
	}
	if r.space == nil {
		return fmt.Errorf("%w: register %q is not part of a space", ErrNotBound, r.name)
	}
	var acc Accessor
	if write {
		var err error
		if acc, err = r.accessor(); err != nil {
			return err
		}
	}

	// Merges of fields sharing a word must not interleave.
	s := r.space
	s.rmw.Lock()
	defer s.rmw.Unlock()

	n := r.spanBytes()
	var buf []byte
	switch {
	case r.wholeWords():
		buf = make([]byte, n)
	case r.mode == ModeRW && write:
		cur, err := acc.Read(ctx, r.address, n)
		if err != nil {
			return fmt.Errorf("read-modify-write %s: %w", r.Path(), err)
		}
		if len(cur) < n {
			return fmt.Errorf("read-modify-write %s: short response of %d bytes", r.Path(), len(cur))
		}
		buf = append([]byte(nil), cur[:n]...)
	default:
		buf = s.shadow.load(r.address, n)
	}
	Pack(buf, r.bitOffset, r.bitSize, v)

	if write {
		if err := acc.Write(ctx, r.address, buf); err != nil {
			return fmt.Errorf("write %s: %w", r.Path(), err)
		}
	}
	s.shadow.store(r.address, buf)
	r.update(v)
	return nil
}

// update caches v and returns the version, bumped when the value changed
// or was previously unknown.
func (r *Register) update(v uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid || r.value != v {
		r.ver++
	}
	r.value = v
	r.valid = true
	return r.ver
}

func (r *Register) version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ver
}

func (r *Register) stale() bool { return false }

// load feeds a link computation. Write-only registers contribute their
// cached value, or the last written words, without a bus transaction.
func (r *Register) load(ctx context.Context) (float64, uint64, error) {
	if !r.mode.CanRead() {
		r.mu.Lock()
		v, valid, ver := r.value, r.valid, r.ver
		r.mu.Unlock()
		if !valid && r.space != nil {
			v = Unpack(r.space.shadow.load(r.address, r.spanBytes()), r.bitOffset, r.bitSize)
		}
		return float64(v), ver, nil
	}
	v, ver, err := r.fetch(ctx)
	return float64(v), ver, err
}

func (r *Register) store(ctx context.Context, f float64, write bool) error {
	f = math.Round(f)
	if f < 0 || f >= math.Ldexp(1, int(r.bitSize)) {
		return fmt.Errorf("%w: raw value %g for %d-bit register %s", ErrRange, f, r.bitSize, r.Path())
	}
	return r.put(ctx, uint64(f), write)
}

func (r *Register) addDependent(l *Link) {
	r.dependents = append(r.dependents, l)
}
