package examples

import (
	"math"

	"github.com/regbus/regbus-go/pkg/model"
)

// tree builds a device tree and keeps the first error.
type tree struct {
	err error
}

func (t *tree) reg(d *model.Device, cfg model.RegisterConfig) {
	if t.err != nil {
		return
	}
	r, err := model.NewRegister(cfg)
	if err == nil {
		err = d.AddRegister(r)
	}
	t.err = err
}

func (t *tree) link(d *model.Device, cfg model.LinkConfig) {
	if t.err != nil {
		return
	}
	l, err := model.NewLink(cfg)
	if err == nil {
		err = d.AddLink(l)
	}
	t.err = err
}

func (t *tree) attach(parent, child *model.Device, offset uint64) {
	if t.err != nil {
		return
	}
	t.err = parent.Attach(child, offset)
}

// scaled maps raw counts to engineering units as raw*fullScale/counts.
// The inverse truncates toward zero, as the DAC firmware expects.
func scaled(fullScale, counts float64) model.Transform {
	return model.Transform{
		Forward: func(raw []float64) (float64, error) {
			return raw[0] * fullScale / counts, nil
		},
		Inverse: func(v float64) ([]float64, error) {
			return []float64{math.Trunc(v / fullScale * counts)}, nil
		},
	}
}

// readback is scaled without an inverse.
func readback(fullScale, counts float64) model.Transform {
	t := scaled(fullScale, counts)
	t.Inverse = nil
	return t
}

// Core block layout shared by both boards.
const (
	axiVersionOffset = 0x00000
	promOffset       = 0x20000
	coreSize         = 0x40000
)

// addCore adds AxiVersion and the PROM window to d at base.
func (t *tree) addCore(d *model.Device, base uint64) {
	ver := model.NewDevice("AxiVersion", 0x1000).SetDescription("Firmware version and reload control")
	t.reg(ver, model.RegisterConfig{Name: "FpgaVersion", Offset: 0x000, Mode: model.ModeRO, Disp: "0x%08x",
		Description: "Firmware version number"})
	t.reg(ver, model.RegisterConfig{Name: "ScratchPad", Offset: 0x004, Disp: "0x%08x",
		Description: "Register to test reads and writes"})
	t.reg(ver, model.RegisterConfig{Name: "UpTimeCnt", Offset: 0x008, Mode: model.ModeRO, Units: "s",
		Description: "Seconds since last reset"})
	t.reg(ver, model.RegisterConfig{Name: "FpgaReloadHalt", Offset: 0x100, BitSize: 1, Base: model.BaseBool,
		Description: "Used to halt automatic reloads via AxiVersion"})
	t.reg(ver, model.RegisterConfig{Name: "FpgaReload", Offset: 0x104, BitSize: 1, Base: model.BaseBool, Mode: model.ModeWO,
		Description: "Optional reload the FPGA from the attached PROM"})
	t.reg(ver, model.RegisterConfig{Name: "FpgaReloadAddress", Offset: 0x108, Disp: "0x%08x",
		Description: "Reload start address"})
	t.reg(ver, model.RegisterConfig{Name: "UserReset", Offset: 0x10c, BitSize: 1, Base: model.BaseBool,
		Description: "Optional user reset"})
	t.reg(ver, model.RegisterConfig{Name: "DeviceDna", Offset: 0x700, BitSize: 64, Mode: model.ModeRO, Disp: "0x%016x",
		Description: "Xilinx device DNA value burned into FPGA"})

	prom := model.NewDevice("AxiMicronN25Q", 0x20000).SetDescription("PROM programming window")

	t.attach(d, ver, base+axiVersionOffset)
	t.attach(d, prom, base+promOffset)
}
