package model

import (
	"context"
	"errors"
	"sync"
)

// fakeBus is a byte-addressed memory counting transactions.
type fakeBus struct {
	mu     sync.Mutex
	mem    map[uint64]byte
	reads  int
	writes int
	err    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{mem: make(map[uint64]byte)}
}

func (b *fakeBus) Read(_ context.Context, addr uint64, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.reads++
	out := make([]byte, n)
	for i := range out {
		out[i] = b.mem[addr+uint64(i)]
	}
	return out, nil
}

func (b *fakeBus) Write(_ context.Context, addr uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.writes++
	for i, c := range data {
		b.mem[addr+uint64(i)] = c
	}
	return nil
}

func (b *fakeBus) word(addr uint64) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(b.mem[addr]) | uint32(b.mem[addr+1])<<8 | uint32(b.mem[addr+2])<<16 | uint32(b.mem[addr+3])<<24
}

func (b *fakeBus) setWord(addr uint64, w uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < 4; i++ {
		b.mem[addr+uint64(i)] = byte(w >> (8 * i))
	}
}

func (b *fakeBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads, b.writes
}

var errBus = errors.New("bus down")
