package model

import (
	"math/rand"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for bitOffset := uint(0); bitOffset < 32; bitOffset += 3 {
		for _, width := range []uint{1, 2, 7, 8, 13, 16, 24, 31, 32} {
			if bitOffset+width > 64 {
				continue
			}
			n := SpanBytes(bitOffset, width)
			for _, v := range []uint64{0, 1, MaxValue(width) / 2, MaxValue(width), rng.Uint64() & MaxValue(width)} {
				buf := make([]byte, n)
				Pack(buf, bitOffset, width, v)
				if got := Unpack(buf, bitOffset, width); got != v {
					t.Errorf("offset %d width %d: unpack(pack(%#x)) = %#x", bitOffset, width, v, got)
				}
			}
		}
	}
}

func TestPackPreservesNeighbours(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		bitOffset := uint(rng.Intn(32))
		width := uint(1 + rng.Intn(32))
		n := SpanBytes(bitOffset, width)

		orig := make([]byte, n)
		rng.Read(orig)
		buf := append([]byte(nil), orig...)
		v := rng.Uint64() & MaxValue(width)
		Pack(buf, bitOffset, width, v)

		for bit := uint(0); bit < uint(n*8); bit++ {
			if bit >= bitOffset && bit < bitOffset+width {
				continue
			}
			if Unpack(buf, bit, 1) != Unpack(orig, bit, 1) {
				t.Fatalf("offset %d width %d: bit %d changed", bitOffset, width, bit)
			}
		}
	}
}

func TestSpanBytes(t *testing.T) {
	tests := []struct {
		bitOffset, width uint
		want             int
	}{
		{0, 1, 4},
		{0, 32, 4},
		{31, 1, 4},
		{31, 2, 8},
		{0, 33, 8},
		{16, 48, 8},
		{8, 56, 8},
	}
	for _, tt := range tests {
		if got := SpanBytes(tt.bitOffset, tt.width); got != tt.want {
			t.Errorf("SpanBytes(%d, %d) = %d, want %d", tt.bitOffset, tt.width, got, tt.want)
		}
	}
}

func TestMaxValue(t *testing.T) {
	if MaxValue(1) != 1 || MaxValue(16) != 0xffff || MaxValue(64) != ^uint64(0) {
		t.Error("unexpected MaxValue")
	}
}
