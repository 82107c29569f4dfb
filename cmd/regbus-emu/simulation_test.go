package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbus/regbus-go/pkg/examples"
	"github.com/regbus/regbus-go/pkg/memory"
)

func TestSimulatorFindsIonPumpReadbacks(t *testing.T) {
	space, err := examples.NewIonPump()
	require.NoError(t, err)

	sim := NewSimulator(space, memory.New(), 0, 1, nil)
	assert.Equal(t, 3*examples.IonPumpChannels, sim.Pairs())
}

func TestSimulatorFollowsLimit(t *testing.T) {
	space, err := examples.NewIonPump()
	require.NoError(t, err)
	mem := memory.New()
	require.NoError(t, space.Bind("", mem))
	ctx := context.Background()

	limit, err := space.Link("Channel[2]/Current")
	require.NoError(t, err)
	require.NoError(t, limit.Set(ctx, 8))

	sim := NewSimulator(space, mem, 0, 1, nil)
	sim.Step()

	supply, err := space.Link("Channel[2]/SupplyCurrent")
	require.NoError(t, err)
	got, err := supply.Refresh(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got, 0.001)

	other, err := space.Link("Channel[3]/SupplyCurrent")
	require.NoError(t, err)
	got, err = other.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestSimulatorNoiseStaysBounded(t *testing.T) {
	space, err := examples.NewIonPump()
	require.NoError(t, err)
	mem := memory.New()

	limit, err := space.Register("Channel[0]/VoltageLimit")
	require.NoError(t, err)
	raw, err := space.Register("Channel[0]/VoltageRaw")
	require.NoError(t, err)
	mem.SetWord(limit.Address(), 0xffff)

	sim := NewSimulator(space, mem, 0.05, 42, nil)
	for range 50 {
		sim.Step()
		v := mem.Word(raw.Address())
		assert.LessOrEqual(t, uint64(v), raw.Max())
		assert.InDelta(t, float64(raw.Max())/2, float64(v), float64(raw.Max())*0.03)
	}
}

func TestSimulatorRunStopsWithContext(t *testing.T) {
	space, err := examples.NewIonPump()
	require.NoError(t, err)
	sim := NewSimulator(space, memory.New(), 0, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
