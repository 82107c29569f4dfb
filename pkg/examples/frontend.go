package examples

import (
	"fmt"

	"github.com/regbus/regbus-go/pkg/model"
)

// Front-end crate layout.
const (
	frontEndBase   = 0x40000
	frontEndStride = 0x1000

	// FrontEndDACs is the number of DAC outputs per board.
	FrontEndDACs = 3

	dacVoltsPerCount = 5.0
)

// NewFrontEnd returns the address space of a crate with n FrontEndBoard
// blocks, each with DAC_RAW[i] registers and DAC_V[i] links in volts.
func NewFrontEnd(n int) (*model.Space, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: need at least one front-end board, got %d", model.ErrRange, n)
	}
	var t tree
	root := model.NewDevice("LsstIonPumpCtrlRoot", frontEndBase+uint64(n)*frontEndStride).
		SetDescription("LSST ION PUMP")
	t.addCore(root, 0)

	for i := range n {
		b := model.NewDevice(fmt.Sprintf("FrontEndBoard[%d]", i), frontEndStride)
		for j := range FrontEndDACs {
			raw := fmt.Sprintf("DAC_RAW[%d]", j)
			t.reg(b, model.RegisterConfig{Name: raw, Offset: 0x100 + uint64(j)*4, Mode: model.ModeWO})
			t.link(b, model.LinkConfig{
				Name:      fmt.Sprintf("DAC_V[%d]", j),
				Units:     "V",
				Disp:      "%1.3f",
				Deps:      []string{raw},
				Transform: scaled(dacVoltsPerCount, 1),
			})
		}
		t.attach(root, b, frontEndBase+uint64(i)*frontEndStride)
	}

	if t.err != nil {
		return nil, t.err
	}
	return model.NewSpace(root)
}
