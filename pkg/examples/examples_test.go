package examples

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/model"
)

func TestIonPumpAddressMap(t *testing.T) {
	space, err := NewIonPump()
	if err != nil {
		t.Fatalf("NewIonPump: %v", err)
	}

	tests := []struct {
		path string
		want uint64
	}{
		{"Core/AxiVersion/FpgaVersion", 0x0},
		{"Core/AxiVersion/ScratchPad", 0x4},
		{"Registers/ChannelEnable", 0x40000},
		{"Registers/PModeStatus", 0x4000c},
		{"Channel[0]/CurrentLimit", 0x41000},
		{"Channel[0]/VoltageRaw", 0x41204},
		{"Channel[8]/PowerLimit", 0x49008},
		{"Channel[8]/PowerRaw", 0x49208},
	}
	for _, tt := range tests {
		got, err := space.Resolve(tt.path)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = 0x%x, want 0x%x", tt.path, got, tt.want)
		}
	}

	if n := len(space.Links()); n != 6*IonPumpChannels {
		t.Errorf("got %d links, want %d", n, 6*IonPumpChannels)
	}
}

func TestIonPumpLimits(t *testing.T) {
	space, err := NewIonPump()
	if err != nil {
		t.Fatal(err)
	}
	mem := memory.New()
	if err := space.Bind("", mem); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	current, _ := space.Link("Channel[2]/Current")
	if err := current.Set(ctx, 4.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mem.Word(0x43000); got != 16384 {
		t.Errorf("CurrentLimit word = %d, want 16384", got)
	}

	// The voltage limit shares no word with the current limit.
	voltage, _ := space.Link("Channel[2]/Voltage")
	if err := voltage.Set(ctx, 1.5); err != nil {
		t.Fatal(err)
	}
	if got := mem.Word(0x43004); got != 16384 {
		t.Errorf("VoltageLimit word = %d, want 16384", got)
	}

	// Write-only limits read back from the cache without a bus read.
	got, err := current.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4.0 {
		t.Errorf("Current = %v, want 4", got)
	}

	if err := current.Set(ctx, 16.0); !errors.Is(err, model.ErrRange) {
		t.Errorf("full scale Set error = %v, want ErrRange", err)
	}
}

func TestIonPumpSupplyReadback(t *testing.T) {
	space, err := NewIonPump()
	if err != nil {
		t.Fatal(err)
	}
	mem := memory.New()
	if err := space.Bind("", mem); err != nil {
		t.Fatal(err)
	}
	mem.SetWord(0x41200, 0xffffff)
	mem.SetWord(0x41204, 0x7fffff)

	supply, _ := space.Link("Channel[0]/SupplyCurrent")
	got, err := supply.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-32.0) > 1e-9 {
		t.Errorf("SupplyCurrent = %v, want 32", got)
	}
	if supply.Writable() {
		t.Error("supply readback is writable")
	}

	kv, _ := space.Link("Channel[0]/SupplyVoltage")
	got, _ = kv.Get(context.Background())
	if math.Abs(got-6.0) > 1e-6 {
		t.Errorf("SupplyVoltage = %v, want about 6", got)
	}
}

func TestScaledRoundTrip(t *testing.T) {
	tr := scaled(currentFullScale, dacCounts)
	for _, raw := range []float64{0, 32768, 65535} {
		v, _ := tr.Forward([]float64{raw})
		back, _ := tr.Inverse(v)
		if back[0] != raw {
			t.Errorf("raw %v -> %v -> %v", raw, v, back[0])
		}
	}
}

func TestFrontEnd(t *testing.T) {
	space, err := NewFrontEnd(5)
	if err != nil {
		t.Fatalf("NewFrontEnd: %v", err)
	}

	addr, err := space.Resolve("FrontEndBoard[4]/DAC_RAW[2]")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x44108 {
		t.Errorf("DAC_RAW[2] of board 4 at 0x%x, want 0x44108", addr)
	}
	if addr, _ := space.Resolve("AxiMicronN25Q"); addr != promOffset {
		t.Errorf("AxiMicronN25Q at 0x%x, want 0x%x", addr, promOffset)
	}
	if _, err := space.Resolve("FrontEndBoard[0]/DAC_V[0]"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Resolve of a link: got %v, want ErrNotFound", err)
	}

	mem := memory.New()
	if err := space.Bind("", mem); err != nil {
		t.Fatal(err)
	}
	dac, _ := space.Link("FrontEndBoard[1]/DAC_V[0]")
	if err := dac.Set(context.Background(), 12.7); err != nil {
		t.Fatal(err)
	}
	if got := mem.Word(0x41100); got != 2 {
		t.Errorf("DAC_RAW word = %d, want 2 (truncated)", got)
	}
	got, _ := dac.Get(context.Background())
	if got != 12.7 {
		t.Errorf("DAC_V = %v, want the written value", got)
	}

	if _, err := NewFrontEnd(0); err == nil {
		t.Error("NewFrontEnd(0) succeeded")
	}
}
