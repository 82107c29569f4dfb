package examples

import (
	"fmt"

	"github.com/regbus/regbus-go/pkg/model"
)

// Ion pump address map.
const (
	IonPumpChannels = 9

	// Application blocks start one core stride in, one app stride apart:
	// Registers first, then the channels.
	ionPumpAppBase   = coreSize
	ionPumpAppStride = 0x1000
)

// Full-scale values of the channel limit DACs (16 bit) and the supply
// readback ADCs (24 bit, bipolar).
const (
	dacCounts = 65536.0
	adcCounts = 16777215.0

	currentFullScale = 16.0
	voltageFullScale = 6.0
	powerFullScale   = 10.0
)

// NewIonPump returns the address space of the ion pump power supply
// controller: Core, Registers and Channel[0] .. Channel[8].
func NewIonPump() (*model.Space, error) {
	var t tree
	fpga := model.NewDevice("Fpga", 0x80000).SetDescription("Device Memory Mapping")

	core := model.NewDevice("Core", coreSize)
	t.addCore(core, 0)
	t.attach(fpga, core, 0)

	regs := model.NewDevice("Registers", ionPumpAppStride).SetDescription("Container for CtrlReg")
	t.reg(regs, model.RegisterConfig{Name: "ChannelEnable", Offset: 0x0, Disp: "0x%03x"})
	t.reg(regs, model.RegisterConfig{Name: "IModeStatus", Offset: 0x4, Mode: model.ModeRO, Disp: "0x%03x"})
	t.reg(regs, model.RegisterConfig{Name: "VModeStatus", Offset: 0x8, Mode: model.ModeRO, Disp: "0x%03x"})
	t.reg(regs, model.RegisterConfig{Name: "PModeStatus", Offset: 0xc, Mode: model.ModeRO, Disp: "0x%03x"})
	t.attach(fpga, regs, ionPumpAppBase)

	for i := range IonPumpChannels {
		ch := newChannel(&t, fmt.Sprintf("Channel[%d]", i))
		t.attach(fpga, ch, ionPumpAppBase+ionPumpAppStride*uint64(1+i))
	}

	if t.err != nil {
		return nil, t.err
	}
	return model.NewSpace(fpga)
}

func newChannel(t *tree, name string) *model.Device {
	ch := model.NewDevice(name, ionPumpAppStride).SetDescription("Container for Channel")

	limits := []struct {
		reg, link string
		offset    uint64
		fullScale float64
	}{
		{"CurrentLimit", "Current", 0x0, currentFullScale},
		{"VoltageLimit", "Voltage", 0x4, voltageFullScale},
		{"PowerLimit", "Power", 0x8, powerFullScale},
	}
	for _, l := range limits {
		t.reg(ch, model.RegisterConfig{Name: l.reg, Offset: l.offset, BitSize: 16, Mode: model.ModeWO})
		t.link(ch, model.LinkConfig{
			Name:      l.link,
			Disp:      "%1.3f",
			Deps:      []string{l.reg},
			Transform: scaled(l.fullScale, dacCounts),
		})
	}

	supplies := []struct {
		reg, link, units string
		offset           uint64
		fullScale        float64
	}{
		{"CurrentRaw", "SupplyCurrent", "mA", 0x200, currentFullScale},
		{"VoltageRaw", "SupplyVoltage", "KV", 0x204, voltageFullScale},
		{"PowerRaw", "SupplyPower", "W", 0x208, powerFullScale},
	}
	for _, s := range supplies {
		t.reg(ch, model.RegisterConfig{Name: s.reg, Offset: s.offset, BitSize: 24, Mode: model.ModeRO})
		t.link(ch, model.LinkConfig{
			Name:      s.link,
			Units:     s.units,
			Disp:      "%1.3f",
			Deps:      []string{s.reg},
			Transform: readback(2*s.fullScale, adcCounts),
		})
	}
	return ch
}
