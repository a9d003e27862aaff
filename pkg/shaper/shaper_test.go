// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package shaper

import (
	"math"
	"testing"
)

func checkNormalized(t *testing.T, s ImpulseSet) {
	t.Helper()
	sum := 0.0
	for i := 0; i < s.NumImpulses(); i++ {
		a := s.Amplitude(i)
		if a <= 0 {
			t.Errorf("impulse %d has non-positive amplitude %g", i, a)
		}
		sum += a
	}
	if math.Abs(sum-1.0) > 1e-12 {
		t.Errorf("amplitudes sum to %v, want 1", sum)
	}
	if s.Delay(0) != 0 {
		t.Errorf("first delay = %d, want 0", s.Delay(0))
	}
	for i := 1; i < s.NumImpulses(); i++ {
		if s.Delay(i) < s.Delay(i-1) {
			t.Errorf("delays not ascending: %d then %d", s.Delay(i-1), s.Delay(i))
		}
	}
	if s.ExtraDuration() != s.Delay(s.NumImpulses()-1) {
		t.Errorf("ExtraDuration = %d, want last delay %d",
			s.ExtraDuration(), s.Delay(s.NumImpulses()-1))
	}
}

func TestIdentitySets(t *testing.T) {
	if !Unshaped.IsIdentity() {
		t.Error("Unshaped should be the identity")
	}
	for _, tc := range []struct {
		typ  Type
		freq float64
	}{
		{TypeNone, 40},
		{Type(""), 40},
		{TypeZV, 0},
	} {
		s, err := New(tc.typ, tc.freq, 0.1)
		if err != nil {
			t.Fatalf("New(%q, %v): %v", tc.typ, tc.freq, err)
		}
		if !s.IsIdentity() {
			t.Errorf("New(%q, %v) should yield the identity set", tc.typ, tc.freq)
		}
	}
}

func TestShaperImpulseCounts(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{TypeZV, 2},
		{TypeMZV, 3},
		{TypeZVD, 3},
		{TypeEI, 3},
	}
	for _, tt := range tests {
		s, err := New(tt.typ, 40.0, 0.1)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.typ, err)
		}
		if got := s.NumImpulses(); got != tt.want {
			t.Errorf("%q impulse count = %d, want %d", tt.typ, got, tt.want)
		}
		checkNormalized(t, s)
		if s.IsIdentity() {
			t.Errorf("%q should not be the identity", tt.typ)
		}
	}
}

func TestShaperDelayScalesWithFrequency(t *testing.T) {
	lo, err := New(TypeZV, 20.0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	hi, err := New(TypeZV, 80.0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	// Half-period delay: quadrupling the frequency quarters the delay.
	ratio := float64(lo.ExtraDuration()) / float64(hi.ExtraDuration())
	if math.Abs(ratio-4.0) > 0.01 {
		t.Errorf("delay ratio = %v, want ~4", ratio)
	}
}

func TestShaperRejectsBadInput(t *testing.T) {
	if _, err := New(TypeZV, 40.0, 1.0); err == nil {
		t.Error("damping ratio 1.0 should be rejected")
	}
	if _, err := New(Type("smooth"), 40.0, 0.1); err == nil {
		t.Error("unknown type should be rejected")
	}
}

func TestShaperDefaultDamping(t *testing.T) {
	a, err := New(TypeZV, 40.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(TypeZV, 40.0, DefaultDampingRatio)
	if err != nil {
		t.Fatal(err)
	}
	if a.Amplitude(1) != b.Amplitude(1) || a.Delay(1) != b.Delay(1) {
		t.Error("zero damping ratio should use the default")
	}
}

func TestCustom(t *testing.T) {
	s, err := Custom([]float64{2, 1, 1}, []uint32{0, 500, 1000})
	if err != nil {
		t.Fatal(err)
	}
	checkNormalized(t, s)
	if s.Amplitude(0) != 0.5 {
		t.Errorf("first amplitude = %v, want 0.5", s.Amplitude(0))
	}
	if s.ExtraDuration() != 1000 {
		t.Errorf("ExtraDuration = %d, want 1000", s.ExtraDuration())
	}

	if _, err := Custom(nil, nil); err == nil {
		t.Error("empty set should be rejected")
	}
	if _, err := Custom([]float64{1, 1}, []uint32{0}); err == nil {
		t.Error("length mismatch should be rejected")
	}
	if _, err := Custom([]float64{1, -1}, []uint32{0, 10}); err == nil {
		t.Error("negative amplitude should be rejected")
	}
}
