package model

import (
	"errors"
	"fmt"
	"math"
)

// Linear maps a single raw value r to r*scale + offset. The inverse is
// defined when scale is non-zero.
func Linear(scale, offset float64) Transform {
	t := Transform{
		Forward: func(raw []float64) (float64, error) {
			if len(raw) != 1 {
				return 0, fmt.Errorf("linear transform takes 1 value, got %d", len(raw))
			}
			return raw[0]*scale + offset, nil
		},
	}
	if scale != 0 {
		t.Inverse = func(v float64) ([]float64, error) {
			return []float64{(v - offset) / scale}, nil
		}
	}
	return t
}

// Polynomial maps a single raw value r to c[0] + c[1]*r + c[2]*r^2 + ...
// It has no inverse unless it is first order.
func Polynomial(coeffs ...float64) Transform {
	if len(coeffs) <= 2 {
		var c0, c1 float64
		if len(coeffs) > 0 {
			c0 = coeffs[0]
		}
		if len(coeffs) > 1 {
			c1 = coeffs[1]
		}
		return Linear(c1, c0)
	}
	cs := append([]float64(nil), coeffs...)
	return Transform{
		Forward: func(raw []float64) (float64, error) {
			if len(raw) != 1 {
				return 0, fmt.Errorf("polynomial transform takes 1 value, got %d", len(raw))
			}
			var v float64
			for i := len(cs) - 1; i >= 0; i-- {
				v = v*raw[0] + cs[i]
			}
			return v, nil
		},
	}
}

// Combine joins several raw values as little-endian fields of the given bit
// widths, e.g. a counter split across two registers. The inverse splits the
// value back.
func Combine(widths ...uint) Transform {
	ws := append([]uint(nil), widths...)
	return Transform{
		Forward: func(raw []float64) (float64, error) {
			if len(raw) != len(ws) {
				return 0, fmt.Errorf("combine takes %d values, got %d", len(ws), len(raw))
			}
			var v, shift float64 = 0, 1
			for i, r := range raw {
				v += r * shift
				shift *= math.Ldexp(1, int(ws[i]))
			}
			return v, nil
		},
		Inverse: func(v float64) ([]float64, error) {
			if v < 0 {
				return nil, errors.New("combine: negative value")
			}
			v = math.Round(v)
			out := make([]float64, len(ws))
			for i, w := range ws {
				m := math.Ldexp(1, int(w))
				out[i] = math.Mod(v, m)
				v = math.Floor(v / m)
			}
			if v != 0 {
				return nil, fmt.Errorf("combine: value exceeds %d bits", sum(ws))
			}
			return out, nil
		},
	}
}

func sum(ws []uint) uint {
	var n uint
	for _, w := range ws {
		n += w
	}
	return n
}
