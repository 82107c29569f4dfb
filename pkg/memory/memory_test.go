package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	m := New()
	ctx := context.Background()

	buf, err := m.Read(ctx, 0x100, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), buf)

	require.NoError(t, m.Write(ctx, 0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, uint32(0x04030201), m.Word(0x100))
	assert.Equal(t, uint32(0x08070605), m.Word(0x104))

	buf, err = m.Read(ctx, 0x104, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8}, buf)
}

func TestAlignment(t *testing.T) {
	m := New()
	ctx := context.Background()
	_, err := m.Read(ctx, 2, 4)
	assert.ErrorIs(t, err, ErrUnaligned)
	assert.ErrorIs(t, m.Write(ctx, 0, []byte{1, 2}), ErrUnaligned)
}

func TestRegions(t *testing.T) {
	m := New(Region{Base: 0x1000, Size: 0x100})
	ctx := context.Background()

	_, err := m.Read(ctx, 0x10fc, 4)
	assert.NoError(t, err)
	_, err = m.Read(ctx, 0x10fc, 8)
	assert.ErrorIs(t, err, ErrUnmapped)
	assert.ErrorIs(t, m.Write(ctx, 0x0, []byte{0, 0, 0, 0}), ErrUnmapped)
}

func TestWriteHook(t *testing.T) {
	m := New()
	var got []uint64
	m.OnWrite(func(addr uint64, data []byte) {
		got = append(got, addr)
		// Hooks may touch the memory themselves.
		m.SetWord(addr+0x200, uint32(data[0]))
	})
	require.NoError(t, m.Write(context.Background(), 0x10, []byte{9, 0, 0, 0}))
	assert.Equal(t, []uint64{0x10}, got)
	assert.Equal(t, uint32(9), m.Word(0x210))
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.SetWord(8, 2)
	m.SetWord(0, 1)
	m.SetWord(4, 0)
	assert.Equal(t, []Cell{{0, 1}, {8, 2}}, m.Snapshot())
}
