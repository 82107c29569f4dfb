package model

// WordSize is the bus word size in bytes.
const WordSize = 4

// MaxBitSize is the widest supported register.
const MaxBitSize = 64

// Bits are numbered little-endian: bit 0 is the least significant bit of
// byte 0, bit 8 the least significant bit of byte 1, and so on.

// Unpack extracts a bitWidth-bit field starting at bitOffset from buf.
func Unpack(buf []byte, bitOffset, bitWidth uint) uint64 {
	var v uint64
	for i := uint(0); i < bitWidth; i++ {
		bit := bitOffset + i
		if buf[bit/8]&(1<<(bit%8)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

// Pack stores the low bitWidth bits of v at bitOffset in buf, leaving every
// other bit of buf untouched.
func Pack(buf []byte, bitOffset, bitWidth uint, v uint64) {
	for i := uint(0); i < bitWidth; i++ {
		bit := bitOffset + i
		mask := byte(1 << (bit % 8))
		if v&(1<<i) != 0 {
			buf[bit/8] |= mask
		} else {
			buf[bit/8] &^= mask
		}
	}
}

// MaxValue returns the largest value representable in bitWidth bits.
func MaxValue(bitWidth uint) uint64 {
	if bitWidth >= 64 {
		return ^uint64(0)
	}
	return 1<<bitWidth - 1
}

// SpanBytes returns the number of whole bus words, in bytes, needed to hold
// a field of bitWidth bits at bitOffset.
func SpanBytes(bitOffset, bitWidth uint) int {
	words := (bitOffset + bitWidth + 8*WordSize - 1) / (8 * WordSize)
	return int(words) * WordSize
}
