package main

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/regbus/regbus-go/pkg/memory"
	"github.com/regbus/regbus-go/pkg/model"
)

// follower pairs a supply readback register with the limit it tracks,
// e.g. Channel[0]/CurrentRaw with Channel[0]/CurrentLimit.
type follower struct {
	limit *model.Register
	raw   *model.Register
}

// Simulator drives readback registers from the limits written by the
// controller, so the emulated supplies respond like the real board.
type Simulator struct {
	mem    *memory.Memory
	pairs  []follower
	noise  float64
	rng    *rand.Rand
	logger *slog.Logger
}

// NewSimulator finds every "<X>Raw" register with a sibling "<X>Limit" in
// space. Readbacks deviate from their limit by up to noise (a fraction).
func NewSimulator(space *model.Space, mem *memory.Memory, noise float64, seed int64, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		mem:    mem,
		noise:  noise,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
	for _, raw := range space.Registers() {
		prefix, ok := strings.CutSuffix(raw.Name(), "Raw")
		if !ok || raw.BitOffset() != 0 || raw.BitSize() > 32 {
			continue
		}
		for _, limit := range raw.Device().Registers() {
			if limit.Name() == prefix+"Limit" && limit.BitOffset() == 0 && limit.BitSize() <= 32 {
				s.pairs = append(s.pairs, follower{limit: limit, raw: raw})
			}
		}
	}
	return s
}

// Pairs returns the number of tracked readbacks.
func (s *Simulator) Pairs() int { return len(s.pairs) }

// Step updates every readback once. A readback sits at half its scale when
// the limit is at full scale.
func (s *Simulator) Step() {
	for _, p := range s.pairs {
		counts := uint64(s.mem.Word(p.limit.Address())) & p.limit.Max()
		frac := float64(counts) / float64(p.limit.Max()+1)

		v := frac / 2 * float64(p.raw.Max())
		if s.noise > 0 {
			v *= 1 + s.noise*(2*s.rng.Float64()-1)
		}
		v = max(0, min(v, float64(p.raw.Max())))
		s.mem.SetWord(p.raw.Address(), uint32(v))
	}
}

// Run steps every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("simulation started", "readbacks", len(s.pairs), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulation stopped")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}
