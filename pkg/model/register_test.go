package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSpace builds a single device holding regs, bound to a fresh bus.
func newTestSpace(t *testing.T, regs ...RegisterConfig) (*Space, *fakeBus) {
	t.Helper()
	root := NewDevice("root", 0x1000)
	for _, cfg := range regs {
		r, err := NewRegister(cfg)
		require.NoError(t, err)
		require.NoError(t, root.AddRegister(r))
	}
	s, err := NewSpace(root)
	require.NoError(t, err)
	bus := newFakeBus()
	require.NoError(t, s.Bind("", bus))
	return s, bus
}

func TestNewRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  RegisterConfig
		ok   bool
	}{
		{"defaults to one word", RegisterConfig{Name: "r"}, true},
		{"64 bit", RegisterConfig{Name: "r", BitSize: 64}, true},
		{"unaligned offset", RegisterConfig{Name: "r", Offset: 2}, false},
		{"bit offset too large", RegisterConfig{Name: "r", BitOffset: 32, BitSize: 1}, false},
		{"too wide", RegisterConfig{Name: "r", BitOffset: 8, BitSize: 57}, false},
		{"bool is one bit", RegisterConfig{Name: "r", Base: BaseBool, BitSize: 1}, true},
		{"wide bool", RegisterConfig{Name: "r", Base: BaseBool, BitSize: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegister(tt.cfg)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrRange)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, r.BitSize())
		})
	}
}

func TestRegisterAccessModes(t *testing.T) {
	s, bus := newTestSpace(t,
		RegisterConfig{Name: "ro", Offset: 0x0, Mode: ModeRO},
		RegisterConfig{Name: "wo", Offset: 0x4, Mode: ModeWO},
		RegisterConfig{Name: "rw", Offset: 0x8},
	)
	ctx := context.Background()
	ro, _ := s.Register("ro")
	wo, _ := s.Register("wo")

	assert.ErrorIs(t, ro.Write(ctx, 1), ErrAccess)
	assert.ErrorIs(t, ro.Stage(1), ErrAccess)

	_, err := wo.Read(ctx)
	assert.ErrorIs(t, err, ErrAccess)

	reads, writes := bus.counts()
	assert.Zero(t, reads, "write-only read must not reach the bus")
	assert.Zero(t, writes, "read-only write must not reach the bus")

	require.NoError(t, wo.Write(ctx, 5))
	v, ok := wo.Value()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func TestRegisterWriteRange(t *testing.T) {
	s, bus := newTestSpace(t, RegisterConfig{Name: "r", BitOffset: 4, BitSize: 4})
	r, _ := s.Register("r")
	assert.ErrorIs(t, r.Write(context.Background(), 16), ErrRange)
	require.NoError(t, r.Write(context.Background(), 15))
	assert.Equal(t, uint32(0xf0), bus.word(0))
}

func TestReadModifyWritePreservesSiblings(t *testing.T) {
	s, bus := newTestSpace(t,
		RegisterConfig{Name: "lo", BitOffset: 0, BitSize: 8},
		RegisterConfig{Name: "mid", BitOffset: 8, BitSize: 12},
		RegisterConfig{Name: "flag", BitOffset: 31, BitSize: 1, Base: BaseBool},
	)
	ctx := context.Background()
	bus.setWord(0, 0x8abcde12)

	mid, _ := s.Register("mid")
	require.NoError(t, mid.Write(ctx, 0x345))
	assert.Equal(t, uint32(0x8ab34512), bus.word(0))

	flag, _ := s.Register("flag")
	require.NoError(t, flag.WriteBool(ctx, false))
	assert.Equal(t, uint32(0x0ab34512), bus.word(0))

	lo, _ := s.Register("lo")
	v, err := lo.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x12), v)

	b, err := flag.ReadBool(ctx)
	require.NoError(t, err)
	assert.False(t, b)
}

func TestWholeWordWriteSkipsRead(t *testing.T) {
	s, bus := newTestSpace(t, RegisterConfig{Name: "r"})
	r, _ := s.Register("r")
	require.NoError(t, r.Write(context.Background(), 0xdeadbeef))
	reads, writes := bus.counts()
	assert.Zero(t, reads)
	assert.Equal(t, 1, writes)
	assert.Equal(t, uint32(0xdeadbeef), bus.word(0))
}

func TestWriteOnlyFieldsMergeFromShadow(t *testing.T) {
	s, bus := newTestSpace(t,
		RegisterConfig{Name: "a", BitOffset: 0, BitSize: 16, Mode: ModeWO},
		RegisterConfig{Name: "b", BitOffset: 16, BitSize: 16, Mode: ModeWO},
	)
	ctx := context.Background()
	a, _ := s.Register("a")
	b, _ := s.Register("b")

	require.NoError(t, a.Write(ctx, 0x1111))
	require.NoError(t, b.Write(ctx, 0x2222))
	assert.Equal(t, uint32(0x22221111), bus.word(0))

	reads, _ := bus.counts()
	assert.Zero(t, reads)
}

func TestStageThenWrite(t *testing.T) {
	s, bus := newTestSpace(t,
		RegisterConfig{Name: "a", BitOffset: 0, BitSize: 16, Mode: ModeWO},
		RegisterConfig{Name: "b", BitOffset: 16, BitSize: 16, Mode: ModeWO},
	)
	a, _ := s.Register("a")
	b, _ := s.Register("b")

	require.NoError(t, a.Stage(0xaaaa))
	_, writes := bus.counts()
	assert.Zero(t, writes)

	require.NoError(t, b.Write(context.Background(), 0xbbbb))
	assert.Equal(t, uint32(0xbbbbaaaa), bus.word(0))
}

func TestMultiWordRegister(t *testing.T) {
	s, bus := newTestSpace(t, RegisterConfig{Name: "wide", Offset: 0x10, BitOffset: 16, BitSize: 32})
	ctx := context.Background()
	bus.setWord(0x10, 0x0000ffff)
	bus.setWord(0x14, 0xffff0000)

	r, _ := s.Register("wide")
	require.NoError(t, r.Write(ctx, 0x12345678))
	assert.Equal(t, uint32(0x5678ffff), bus.word(0x10))
	assert.Equal(t, uint32(0xffff1234), bus.word(0x14))

	v, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x12345678), v)
}

func TestReadErrorKeepsCache(t *testing.T) {
	s, bus := newTestSpace(t, RegisterConfig{Name: "r", Mode: ModeRO})
	r, _ := s.Register("r")
	bus.setWord(0, 3)
	_, err := r.Read(context.Background())
	require.NoError(t, err)

	bus.err = errBus
	_, err = r.Read(context.Background())
	assert.ErrorIs(t, err, errBus)
	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)
}
