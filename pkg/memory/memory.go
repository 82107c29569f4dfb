// Package memory provides a sparse emulated word-addressed memory.
//
// It backs the in-process simulation mode and the network emulator peer,
// and implements model.Accessor so a register tree can be bound to it
// directly.
package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// WordSize is the access granularity in bytes.
const WordSize = 4

// Memory errors.
var (
	ErrUnaligned = errors.New("unaligned access")
	ErrUnmapped  = errors.New("address not mapped")
)

// WriteHook observes a completed write. It runs with the memory unlocked.
type WriteHook func(addr uint64, data []byte)

// Region is a mapped address window.
type Region struct {
	Base uint64
	Size uint64
}

func (r Region) contains(addr, n uint64) bool {
	return addr >= r.Base && n <= r.Size && addr-r.Base <= r.Size-n
}

// Memory is a sparse little-endian word store. Unwritten words read as zero.
// With no regions mapped every address is valid.
type Memory struct {
	mu      sync.RWMutex
	words   map[uint64]uint32
	regions []Region
	hooks   []WriteHook
}

// New returns an empty memory covering the given regions.
func New(regions ...Region) *Memory {
	return &Memory{
		words:   make(map[uint64]uint32),
		regions: append([]Region(nil), regions...),
	}
}

// OnWrite registers a hook called after every successful write.
func (m *Memory) OnWrite(h WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

func (m *Memory) check(addr uint64, n int) error {
	if addr%WordSize != 0 || n%WordSize != 0 {
		return fmt.Errorf("%w: 0x%x+%d", ErrUnaligned, addr, n)
	}
	if len(m.regions) == 0 {
		return nil
	}
	for _, r := range m.regions {
		if r.contains(addr, uint64(n)) {
			return nil
		}
	}
	return fmt.Errorf("%w: 0x%x+%d", ErrUnmapped, addr, n)
}

// Read returns n bytes starting at addr.
func (m *Memory) Read(_ context.Context, addr uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(addr, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	for i := 0; i < n; i += WordSize {
		binary.LittleEndian.PutUint32(buf[i:], m.words[addr+uint64(i)])
	}
	return buf, nil
}

// Write stores data starting at addr.
func (m *Memory) Write(_ context.Context, addr uint64, data []byte) error {
	m.mu.Lock()
	if err := m.check(addr, len(data)); err != nil {
		m.mu.Unlock()
		return err
	}
	for i := 0; i < len(data); i += WordSize {
		w := binary.LittleEndian.Uint32(data[i:])
		if w == 0 {
			delete(m.words, addr+uint64(i))
		} else {
			m.words[addr+uint64(i)] = w
		}
	}
	hooks := m.hooks
	m.mu.Unlock()

	for _, h := range hooks {
		h(addr, data)
	}
	return nil
}

// Word returns the word at addr without alignment or mapping checks.
func (m *Memory) Word(addr uint64) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.words[addr]
}

// SetWord stores a word without running write hooks, e.g. to model a
// hardware status register changing on its own.
func (m *Memory) SetWord(addr uint64, w uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w == 0 {
		delete(m.words, addr)
		return
	}
	m.words[addr] = w
}

// Snapshot returns the non-zero words ordered by address.
func (m *Memory) Snapshot() []Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cell, 0, len(m.words))
	for a, w := range m.words {
		out = append(out, Cell{Addr: a, Value: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Cell is one non-zero word.
type Cell struct {
	Addr  uint64
	Value uint32
}
