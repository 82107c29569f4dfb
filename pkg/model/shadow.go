package model

import (
	"encoding/binary"
	"sync"
)

// shadow remembers the last word written to each address so write-only
// fields can be merged without reading hardware. Unwritten words are zero.
type shadow struct {
	mu    sync.Mutex
	words map[uint64]uint32
}

func newShadow() *shadow {
	return &shadow{words: make(map[uint64]uint32)}
}

func (s *shadow) load(addr uint64, n int) []byte {
	buf := make([]byte, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+WordSize <= n; i += WordSize {
		binary.LittleEndian.PutUint32(buf[i:], s.words[addr+uint64(i)])
	}
	return buf
}

func (s *shadow) store(addr uint64, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+WordSize <= len(buf); i += WordSize {
		s.words[addr+uint64(i)] = binary.LittleEndian.Uint32(buf[i:])
	}
}
