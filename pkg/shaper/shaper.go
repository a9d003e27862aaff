// Package shaper derives input-shaping impulse sets. A move's velocity
// profile is convolved with a small set of time-delayed, amplitude-scaled
// impulses to cancel resonance; the segment builder replicates each move
// phase once per impulse.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package shaper

import (
	"fmt"
	"math"

	"motion-engine/pkg/steptimer"
)

// DefaultDampingRatio is used when no damping ratio is configured.
const DefaultDampingRatio = 0.1

// Type identifies an input shaper algorithm.
type Type string

const (
	TypeNone Type = "none"
	TypeZV   Type = "zv"
	TypeMZV  Type = "mzv"
	TypeZVD  Type = "zvd"
	TypeEI   Type = "ei"
)

// ImpulseSet is a normalized set of shaping impulses. Amplitudes sum to 1;
// delays are in step-clock ticks, ascending, with the first always 0.
type ImpulseSet struct {
	amplitudes []float64
	delays     []uint32
}

// Unshaped is the identity impulse set: one impulse of amplitude 1 at
// delay 0. Applying it reproduces the input profile exactly.
var Unshaped = ImpulseSet{
	amplitudes: []float64{1.0},
	delays:     []uint32{0},
}

// NumImpulses returns the number of impulses in the set.
func (s *ImpulseSet) NumImpulses() int { return len(s.amplitudes) }

// Amplitude returns the amplitude factor of impulse i.
func (s *ImpulseSet) Amplitude(i int) float64 { return s.amplitudes[i] }

// Delay returns the delay of impulse i in step-clock ticks.
func (s *ImpulseSet) Delay(i int) uint32 { return s.delays[i] }

// ExtraDuration returns the delay of the last impulse: the amount by which
// shaping lengthens a move.
func (s *ImpulseSet) ExtraDuration() uint32 {
	if len(s.delays) == 0 {
		return 0
	}
	return s.delays[len(s.delays)-1]
}

// IsIdentity reports whether the set leaves profiles unchanged.
func (s *ImpulseSet) IsIdentity() bool {
	return len(s.amplitudes) == 1 && s.delays[0] == 0
}

// New computes the impulse set for the given shaper type, resonant frequency
// (Hz) and damping ratio. A frequency of 0 or type "none" yields the
// identity set.
func New(typ Type, freq, dampingRatio float64) (ImpulseSet, error) {
	if typ == TypeNone || typ == "" || freq == 0 {
		return Unshaped, nil
	}
	if dampingRatio <= 0 {
		dampingRatio = DefaultDampingRatio
	}
	if dampingRatio >= 1 {
		return ImpulseSet{}, fmt.Errorf("shaper: damping ratio %.3f out of range", dampingRatio)
	}

	var amps, times []float64
	switch typ {
	case TypeZV:
		amps, times = zvCoefficients(freq, dampingRatio)
	case TypeMZV:
		amps, times = mzvCoefficients(freq, dampingRatio)
	case TypeZVD:
		amps, times = zvdCoefficients(freq, dampingRatio)
	case TypeEI:
		amps, times = eiCoefficients(freq, dampingRatio)
	default:
		return ImpulseSet{}, fmt.Errorf("shaper: unsupported type %q", typ)
	}
	return normalize(amps, times), nil
}

// normalize scales amplitudes to sum to 1 and converts delays to ticks.
func normalize(amps, times []float64) ImpulseSet {
	sum := 0.0
	for _, a := range amps {
		sum += a
	}
	s := ImpulseSet{
		amplitudes: make([]float64, len(amps)),
		delays:     make([]uint32, len(times)),
	}
	for i, a := range amps {
		s.amplitudes[i] = a / sum
		s.delays[i] = steptimer.TicksFromSeconds(times[i])
	}
	return s
}

func zvCoefficients(freq, dr float64) (A, T []float64) {
	df := math.Sqrt(1.0 - dr*dr)
	k := math.Exp(-dr * math.Pi / df)
	td := 1.0 / (freq * df)
	return []float64{1.0, k}, []float64{0.0, 0.5 * td}
}

func zvdCoefficients(freq, dr float64) (A, T []float64) {
	df := math.Sqrt(1.0 - dr*dr)
	k := math.Exp(-dr * math.Pi / df)
	td := 1.0 / (freq * df)
	return []float64{1.0, 2.0 * k, k * k}, []float64{0.0, 0.5 * td, td}
}

func mzvCoefficients(freq, dr float64) (A, T []float64) {
	df := math.Sqrt(1.0 - dr*dr)
	k := math.Exp(-0.75 * dr * math.Pi / df)
	td := 1.0 / (freq * df)

	a1 := 1.0 - 1.0/math.Sqrt(2.0)
	a2 := (math.Sqrt(2.0) - 1.0) * k
	a3 := a1 * k * k
	return []float64{a1, a2, a3}, []float64{0.0, 0.375 * td, 0.75 * td}
}

func eiCoefficients(freq, dr float64) (A, T []float64) {
	const vibrationReduction = 20.0
	vTol := 1.0 / vibrationReduction
	df := math.Sqrt(1.0 - dr*dr)
	td := 1.0 / (freq * df)

	a1 := (0.24968 + 0.24961*vTol) + ((0.80008+1.23328*vTol)+
		(0.49599+3.17316*vTol)*dr)*dr
	a3 := (0.25149 + 0.21474*vTol) + ((-0.83249+1.41498*vTol)+
		(0.85181-4.90094*vTol)*dr)*dr
	a2 := 1.0 - a1 - a3

	t2 := 0.4999 + (((0.46159+8.57843*vTol)*vTol)+
		(((4.26169-108.644*vTol)*vTol)+
			((1.75601+336.989*vTol)*vTol)*dr)*dr)*dr
	return []float64{a1, a2, a3}, []float64{0.0, t2 * td, td}
}

// Custom builds an impulse set directly from amplitude factors and delays in
// ticks, normalizing the amplitudes. Used for testing and for configurations
// supplied by an external tuner.
func Custom(amplitudes []float64, delays []uint32) (ImpulseSet, error) {
	if len(amplitudes) == 0 || len(amplitudes) != len(delays) {
		return ImpulseSet{}, fmt.Errorf("shaper: %d amplitudes for %d delays", len(amplitudes), len(delays))
	}
	sum := 0.0
	for _, a := range amplitudes {
		if a <= 0 {
			return ImpulseSet{}, fmt.Errorf("shaper: non-positive amplitude %g", a)
		}
		sum += a
	}
	s := ImpulseSet{
		amplitudes: make([]float64, len(amplitudes)),
		delays:     append([]uint32(nil), delays...),
	}
	for i, a := range amplitudes {
		s.amplitudes[i] = a / sum
	}
	return s, nil
}
