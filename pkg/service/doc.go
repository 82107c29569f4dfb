// Package service provides the Root controller: one object owning an
// address space, the link to the hardware and the background poll task.
//
// Root wires the lower layers according to config.Config:
//
//   - simulate: every access is served by in-process emulated memory
//   - udp or tcp: one register client on a datagram or stream link
//   - udp + reliable: the client runs over a reliability session
//   - mux: each configured subtree gets its own client on a destination of
//     a shared link, optionally over a reliability session
//
// Example usage:
//
//	space, _ := examples.NewIonPump()
//	cfg := service.DefaultConfig()
//	cfg.Settings.Host = "10.0.0.12"
//	cfg.Settings.Reliable = true
//
//	root, err := service.New(space, cfg)
//	if err := root.Start(ctx); err != nil { ... }
//	defer root.Close()
//
//	v, err := root.Get(ctx, "Channel[0]/SupplyVoltage")
//
// A lost connection fails the requests pending on it. Root then re-dials
// in the background with exponential backoff; requests issued meanwhile
// fail with ErrNotConnected.
package service
