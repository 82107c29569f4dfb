package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/memory"
)

func TestEmulatorConfigFor(t *testing.T) {
	s := fastSettings("udp", true, muxBindings...)
	s.Request.MaxWords = 64
	cfg := EmulatorConfigFor(s, ":9000")

	assert.Equal(t, "udp", cfg.Network)
	assert.Equal(t, ":9000", cfg.Address)
	assert.True(t, cfg.Reliable)
	assert.Equal(t, []uint8{1, 2, 3}, cfg.Destinations)
	assert.Equal(t, uint32(64), cfg.Server.MaxWords)
	assert.Equal(t, s.Session.RetransmitTimeout, cfg.Session.RetransmitTimeout)

	single := EmulatorConfigFor(fastSettings("tcp", false), ":9000")
	assert.Empty(t, single.Destinations)
}

func TestNewEmulatorRejects(t *testing.T) {
	_, err := NewEmulator(nil, EmulatorConfig{Network: "udp"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEmulator(memory.New(), EmulatorConfig{Network: "tcp", Reliable: true})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEmulator(memory.New(), EmulatorConfig{Network: "serial"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmulatorLifecycle(t *testing.T) {
	mem := memory.New()
	s := fastSettings("tcp", false)
	e := startEmulator(t, mem, &s, "")
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)

	r := startRoot(t, ionPump(t), Config{Settings: s})
	require.NoError(t, r.Write(context.Background(), "Core/AxiVersion/ScratchPad", 7))
	assert.Equal(t, 1, e.Peers())

	require.NoError(t, r.Close())
	assert.Eventually(t, func() bool { return e.Peers() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Stop(), ErrNotStarted)
}
