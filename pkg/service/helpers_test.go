package service

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/config"
	"github.com/regbus/regbus-go/pkg/connection"
	"github.com/regbus/regbus-go/pkg/examples"
	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/model"
)

// Ion pump addresses used across tests.
const (
	channel1CurrentLimit = 0x42000
	channel0CurrentRaw   = 0x41200
	scratchPad           = 0x4
)

func ionPump(t *testing.T) *model.Space {
	t.Helper()
	space, err := examples.NewIonPump()
	require.NoError(t, err)
	return space
}

// fastSettings returns settings with timers short enough for tests.
func fastSettings(network string, reliable bool, dests ...config.Destination) config.Config {
	s := config.Default()
	s.Network = network
	s.Reliable = reliable
	if len(dests) > 0 {
		s.Mux = config.MuxDestinations
		s.Destinations = dests
	}
	s.Request.Timeout = 200 * time.Millisecond
	s.Session.RetransmitTimeout = 20 * time.Millisecond
	s.Session.MaxRetransmitTimeout = 100 * time.Millisecond
	s.Session.Keepalive = 50 * time.Millisecond
	s.Session.ConnTimeout = time.Second
	s.Reconnect = connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: -1}
	return s
}

// startEmulator serves mem on a loopback port matching s and points s at it.
func startEmulator(t *testing.T, mem *memory.Memory, s *config.Config, addr string) *Emulator {
	t.Helper()
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	e, err := NewEmulator(mem, EmulatorConfigFor(*s, addr))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	host, port, err := net.SplitHostPort(e.Addr().String())
	require.NoError(t, err)
	s.Host = host
	s.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	return e
}

func startRoot(t *testing.T, space *model.Space, cfg Config) *Root {
	t.Helper()
	r, err := New(space, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func simulated(t *testing.T) (*Root, *memory.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Settings.Simulate = true
	r := startRoot(t, ionPump(t), cfg)
	return r, r.Memory()
}
