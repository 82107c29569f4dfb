// Package examples describes the boards driven by the register bus tools.
//
//   - NewIonPump: the nine-channel ion pump power supply controller.
//   - NewFrontEnd: the DAC front-end crate with n FrontEndBoard blocks.
//
// Both start from the common FPGA core: the AxiVersion register block and
// the PROM programming window.
package examples
