package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/metric"
	"github.com/regbus/regbus-go/pkg/model"
)

var muxBindings = []config.Destination{
	{Path: "Core", ID: 1},
	{Path: "Registers", ID: 2},
	{Path: "Channel[0]", ID: 3},
	{Path: "Channel[1]", ID: 3},
}

func TestRootOverLoopback(t *testing.T) {
	tests := []struct {
		name     string
		network  string
		reliable bool
		dests    []config.Destination
	}{
		{"udp", "udp", false, nil},
		{"tcp", "tcp", false, nil},
		{"udp reliable", "udp", true, nil},
		{"udp mux", "udp", false, muxBindings},
		{"tcp mux", "tcp", false, muxBindings},
		{"udp reliable mux", "udp", true, muxBindings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New()
			s := fastSettings(tt.network, tt.reliable, tt.dests...)
			startEmulator(t, mem, &s, "")
			r := startRoot(t, ionPump(t), Config{Settings: s})
			ctx := context.Background()

			assert.Equal(t, connection.StateConnected, r.ConnectionState())

			require.NoError(t, r.Write(ctx, "Core/AxiVersion/ScratchPad", 0x12345678))
			assert.Equal(t, uint32(0x12345678), mem.Word(scratchPad))

			require.NoError(t, r.Set(ctx, "Channel[1]/Current", 8))
			assert.Equal(t, uint32(32768), mem.Word(channel1CurrentLimit))

			mem.SetWord(channel0CurrentRaw, 0xffffff)
			v, err := r.Get(ctx, "Channel[0]/SupplyCurrent")
			require.NoError(t, err)
			assert.InDelta(t, 32.0, v, 1e-9)

			// A 2 KiB raw transfer is split across requests.
			block := make([]byte, 2048)
			for i := range block {
				block[i] = byte(i)
			}
			require.NoError(t, r.RawWrite(ctx, 0x1000, block))
			got, err := r.RawRead(ctx, 0x1000, len(block))
			require.NoError(t, err)
			assert.Equal(t, block, got)

			if tt.dests != nil {
				_, err := r.Read(ctx, "Channel[2]/CurrentRaw")
				assert.ErrorIs(t, err, model.ErrNotBound)
			}
		})
	}
}

func TestRootMuxDestinationsAreIndependent(t *testing.T) {
	mem := memory.New()
	s := fastSettings("udp", true, muxBindings...)
	startEmulator(t, mem, &s, "")
	m := metric.New()
	r := startRoot(t, ionPump(t), Config{Settings: s, Metrics: m})

	ctx := context.Background()
	errs := make(chan error, 2)
	go func() { errs <- r.Write(ctx, "Registers/ChannelEnable", 0x1ff) }()
	go func() { errs <- r.Set(ctx, "Channel[0]/Power", 5) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, uint32(0x1ff), mem.Word(0x40000))
	assert.Equal(t, uint32(32768), mem.Word(0x41008))
	assert.Zero(t, testutil.ToFloat64(m.MuxDropped.WithLabelValues("unknown_destination")))
}

func TestRootReconnects(t *testing.T) {
	mem := memory.New()
	s := fastSettings("udp", true)
	s.Session.ConnTimeout = 300 * time.Millisecond
	e := startEmulator(t, mem, &s, "")
	addr := e.Addr().String()

	m := metric.New()
	r := startRoot(t, ionPump(t), Config{Settings: s, Metrics: m})
	ctx := context.Background()
	require.NoError(t, r.Write(ctx, "Core/AxiVersion/ScratchPad", 1))

	states := make(chan connection.State, 16)
	r.manager.OnStateChange(func(_, to connection.State) {
		select {
		case states <- to:
		default:
		}
	})

	// The peer vanishes without closing the session.
	require.NoError(t, e.Stop())
	select {
	case st := <-states:
		assert.Equal(t, connection.StateReconnecting, st)
	case <-time.After(3 * time.Second):
		t.Fatal("connection loss not detected")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsLost))

	_, err := r.Read(ctx, "Core/AxiVersion/ScratchPad")
	assert.Error(t, err)

	startEmulator(t, mem, &s, addr)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.WaitConnected(waitCtx))

	v, err := r.Read(ctx, "Core/AxiVersion/ScratchPad")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestPendingRequestsFailOnConnectionLoss(t *testing.T) {
	mem := memory.New()
	s := fastSettings("udp", true)
	s.Session.ConnTimeout = 200 * time.Millisecond
	s.Request.Timeout = 2 * time.Second
	s.Request.MaxAttempts = 1
	e := startEmulator(t, mem, &s, "")
	r := startRoot(t, ionPump(t), Config{Settings: s})
	ctx := context.Background()
	require.NoError(t, r.Write(ctx, "Core/AxiVersion/ScratchPad", 1))

	require.NoError(t, e.Stop())
	start := time.Now()
	_, err := r.Read(ctx, "Core/AxiVersion/ScratchPad")
	require.Error(t, err)
	// The session loss, not the request timeout, ends the request.
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
