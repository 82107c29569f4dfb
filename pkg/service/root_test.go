package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/model"
)

func TestRootSimulate(t *testing.T) {
	r, mem := simulated(t)
	ctx := context.Background()

	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, connection.StateConnected, r.ConnectionState())

	addr, err := r.Resolve("Channel[1]/CurrentLimit")
	require.NoError(t, err)
	assert.Equal(t, uint64(channel1CurrentLimit), addr)

	require.NoError(t, r.Write(ctx, "Core/AxiVersion/ScratchPad", 0xdeadbeef))
	assert.Equal(t, uint32(0xdeadbeef), mem.Word(scratchPad))
	v, err := r.Read(ctx, "Core/AxiVersion/ScratchPad")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)

	require.NoError(t, r.Set(ctx, "Channel[1]/Current", 4))
	assert.Equal(t, uint32(16384), mem.Word(channel1CurrentLimit))
	got, err := r.Get(ctx, "Channel[1]/Current")
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)

	mem.SetWord(channel0CurrentRaw, 0xffffff)
	got, err = r.Get(ctx, "Channel[0]/SupplyCurrent")
	require.NoError(t, err)
	assert.InDelta(t, 32.0, got, 1e-9)

	raw, err := r.RawRead(ctx, scratchPad, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, raw)
	require.NoError(t, r.RawWrite(ctx, 0x8, []byte{1, 0, 0, 0}))
	assert.Equal(t, uint32(1), mem.Word(0x8))
}

func TestRootErrors(t *testing.T) {
	r, _ := simulated(t)
	ctx := context.Background()

	_, err := r.Read(ctx, "Channel[0]/CurrentLimit")
	assert.ErrorIs(t, err, model.ErrAccess)

	err = r.Write(ctx, "Registers/PModeStatus", 1)
	assert.ErrorIs(t, err, model.ErrAccess)

	_, err = r.Get(ctx, "Channel[0]/Nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = r.Set(ctx, "Channel[0]/SupplyVoltage", 1)
	assert.ErrorIs(t, err, model.ErrUnsupported)

	_, err = r.Resolve("Channel[0]/Current")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, r.Start(ctx), ErrAlreadyStarted)
}

func TestRootStage(t *testing.T) {
	r, mem := simulated(t)
	ctx := context.Background()

	require.NoError(t, r.Stage(ctx, "Channel[2]/Voltage", 3))
	assert.Zero(t, mem.Word(0x43004), "staging must not touch hardware")

	got, err := r.Get(ctx, "Channel[2]/Voltage")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestRootLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.Simulate = true
	r, err := New(ionPump(t), cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Read(ctx, "Core/AxiVersion/ScratchPad")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, r.StartPolling(), ErrNotStarted)

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, StateStopped, r.State())

	_, err = r.Read(ctx, "Core/AxiVersion/ScratchPad")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.Settings.Network = "sctp"
	_, err = New(ionPump(t), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStartRejectsUnknownDestinationPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings = fastSettings("udp", false, config.Destination{Path: "Nope", ID: 1})
	r, err := New(ionPump(t), cfg)
	require.NoError(t, err)

	err = r.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, StateIdle, r.State())
}

func TestStartFailsWithoutPeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings = fastSettings("tcp", false)
	cfg.Settings.Port = 1
	r, err := New(ionPump(t), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, r.Start(ctx))
	assert.Equal(t, StateIdle, r.State())
	assert.NoError(t, r.Close())
}

func TestRootWithoutConnectionFailsFast(t *testing.T) {
	r, err := New(ionPump(t), Config{Settings: fastSettings("udp", false)})
	require.NoError(t, err)
	// Bound but never connected.
	require.NoError(t, r.bind())
	r.setState(StateRunning)
	defer r.Close()

	_, err = r.Read(context.Background(), "Core/AxiVersion/ScratchPad")
	assert.True(t, errors.Is(err, ErrNotConnected), "got %v", err)
}
