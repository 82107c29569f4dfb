package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelaySequence(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 60 * time.Second, Multiplier: 2}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		if got := cfg.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
	if got := cfg.Delay(10000); got != 60*time.Second {
		t.Errorf("Delay(10000) = %v, want cap", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Seed: 42})
	for i := 0; i < 20; i++ {
		base := b.Current()
		d := b.Next()
		if d < base || d > base+base/4 {
			t.Fatalf("step %d: %v outside [%v, %v]", i, d, base, base+base/4)
		}
	}
	assert.Equal(t, 20, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestBackoffNoJitter(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Jitter: -1})
	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	cfg := BackoffConfig{}.withDefaults()
	assert.Equal(t, DefaultBackoffConfig(), cfg)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}

func fastConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Jitter: -1}
	cfg.AttemptTimeout = time.Second
	return cfg
}

func TestManagerConnect(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(func(context.Context) error {
		calls.Add(1)
		return nil
	}, fastConfig())
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManagerConnectFailure(t *testing.T) {
	boom := errors.New("refused")
	m := NewManager(func(context.Context) error { return boom }, fastConfig())
	defer m.Close()

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerReconnects(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	m := NewManager(func(context.Context) error {
		calls.Add(1)
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}, fastConfig())

	var mu sync.Mutex
	var transitions []State
	m.OnStateChange(func(_, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})
	m.Start()
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))

	fail.Store(true)
	m.NotifyConnectionLost(errors.New("keepalive timeout"))
	assert.Equal(t, StateReconnecting, m.State())

	// Let a few attempts fail, then recover.
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	fail.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitConnected(ctx))
	assert.Equal(t, 0, m.Attempts())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, transitions)
}

func TestManagerNoAutoReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.AutoReconnect = false
	m := NewManager(func(context.Context) error { return nil }, cfg)
	m.Start()
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.NotifyConnectionLost(nil)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestWaitConnectedClosed(t *testing.T) {
	m := NewManager(func(context.Context) error { return nil }, fastConfig())
	done := make(chan error, 1)
	go func() { done <- m.WaitConnected(context.Background()) }()
	m.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrManagerClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitConnected did not return after Close")
	}
	assert.ErrorIs(t, m.Connect(context.Background()), ErrManagerClosed)
}

func TestWaitConnectedContext(t *testing.T) {
	m := NewManager(func(context.Context) error { return nil }, fastConfig())
	defer m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitConnected(ctx), context.DeadlineExceeded)
}
