package interaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/transport"
	"github.com/regbus/regbus-go/pkg/wire"
)

func handle(t *testing.T, s *Server, req *wire.Frame) *wire.Frame {
	t.Helper()
	raw, err := wire.EncodeFrame(req)
	require.NoError(t, err)
	out := s.Handle(context.Background(), raw, "test")
	require.NotNil(t, out)
	resp, err := wire.DecodeFrame(out)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, req.Opcode.Response(), resp.Opcode)
	return resp
}

func TestServerReadWrite(t *testing.T) {
	mem := memory.New()
	s := NewServer(mem, ServerConfig{})

	resp := handle(t, s, wire.NewWriteRequest(1, 0x10, []byte{0xaa, 0xbb, 0xcc, 0xdd}))
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, uint32(0xddccbbaa), mem.Word(0x10))

	resp = handle(t, s, wire.NewReadRequest(2, 0x10, 1))
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, resp.Payload)
}

func TestServerStatuses(t *testing.T) {
	mem := memory.New(memory.Region{Base: 0, Size: 0x100})
	s := NewServer(mem, ServerConfig{MaxWords: 4})

	tests := []struct {
		name string
		req  *wire.Frame
		want uint32
	}{
		{"unmapped", wire.NewReadRequest(1, 0x200, 1), wire.StatusUnmapped},
		{"too large", wire.NewReadRequest(2, 0, 5), wire.StatusSizeExceeded},
		{"straddles end", wire.NewWriteRequest(3, 0xfc, make([]byte, 8)), wire.StatusUnmapped},
		{"at limit", wire.NewReadRequest(4, 0, 4), wire.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, s, tt.req)
			assert.Equal(t, tt.want, resp.Status)
			if tt.want != wire.StatusOK {
				assert.Empty(t, resp.Payload)
			}
		})
	}
}

type failingAccessor struct{ err error }

func (f failingAccessor) Read(context.Context, uint64, int) ([]byte, error) {
	return nil, f.err
}

func (f failingAccessor) Write(context.Context, uint64, []byte) error {
	return f.err
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, wire.StatusBusError, statusFor(errors.New("boom")))
	assert.Equal(t, wire.StatusBadRequest, statusFor(memory.ErrUnaligned))
	assert.Equal(t, wire.StatusBusTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, wire.StatusBusTimeout, statusFor(&BusError{Status: wire.StatusBusTimeout}))

	s := NewServer(failingAccessor{err: errors.New("bus fault")}, ServerConfig{})
	resp := handle(t, s, wire.NewReadRequest(9, 0, 1))
	assert.Equal(t, wire.StatusBusError, resp.Status)
}

func TestServerDropsGarbage(t *testing.T) {
	s := NewServer(memory.New(), ServerConfig{})
	assert.Nil(t, s.Handle(context.Background(), []byte{1, 2, 3}, "test"))

	raw, err := wire.EncodeFrame(wire.NewReadRequest(1, 0, 1))
	require.NoError(t, err)
	raw[5] ^= 0x01
	assert.Nil(t, s.Handle(context.Background(), raw, "test"))

	resp, err := wire.EncodeFrame(wire.NewReadRequest(1, 0, 1).Reply(wire.StatusOK, make([]byte, 4)))
	require.NoError(t, err)
	assert.Nil(t, s.Handle(context.Background(), resp, "test"), "responses are not answered")
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s := NewServer(memory.New(), ServerConfig{})
	a, b := transport.NewPipe(transport.PipeConfig{})
	defer a.Close()
	defer b.Close()
	assert.ErrorIs(t, s.Serve(ctx, a), context.DeadlineExceeded)
}
