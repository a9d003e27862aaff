// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"
	"testing"

	"motion-engine/pkg/steptimer"
)

func TestNewTrapezoidPhases(t *testing.T) {
	// 100mm, rest to rest, 50mm/s cruise, 1000mm/s^2.
	p := NewTrapezoid(100, 0, 50, 0, 1000, 1000)

	// v^2/2a = 1.25mm per ramp.
	if math.Abs(p.AccelDistance-1.25) > 1e-9 {
		t.Errorf("accel distance = %v, want 1.25", p.AccelDistance)
	}
	if math.Abs(p.DecelStartDistance-98.75) > 1e-9 {
		t.Errorf("decel start = %v, want 98.75", p.DecelStartDistance)
	}
	// Ramp time v/a = 50ms.
	wantRamp := uint32(math.Round(0.05 * steptimer.StepClockRate))
	if p.AccelClocks != wantRamp || p.DecelClocks != wantRamp {
		t.Errorf("ramp clocks = %d/%d, want %d", p.AccelClocks, p.DecelClocks, wantRamp)
	}
	// Cruise: 97.5mm at 50mm/s = 1.95s.
	wantSteady := uint32(math.Round(1.95 * steptimer.StepClockRate))
	if p.SteadyClocks != wantSteady {
		t.Errorf("steady clocks = %d, want %d", p.SteadyClocks, wantSteady)
	}
	if p.Duration() != p.AccelClocks+p.SteadyClocks+p.DecelClocks {
		t.Error("Duration should sum the phases")
	}
	wantTop := 50.0 / steptimer.StepClockRate
	if math.Abs(p.TopSpeed-wantTop) > 1e-15 {
		t.Errorf("top speed = %v, want %v", p.TopSpeed, wantTop)
	}
}

func TestNewTrapezoidTriangle(t *testing.T) {
	// 2mm is too short to reach 50mm/s at 1000mm/s^2: peak = sqrt(a*d).
	p := NewTrapezoid(2, 0, 50, 0, 1000, 1000)

	wantPeak := math.Sqrt(1000 * 2.0) / steptimer.StepClockRate
	if math.Abs(p.TopSpeed-wantPeak) > 1e-12 {
		t.Errorf("peak speed = %v, want %v", p.TopSpeed, wantPeak)
	}
	if p.SteadyClocks != 0 {
		t.Errorf("steady clocks = %d, want 0 for a triangle move", p.SteadyClocks)
	}
	if math.Abs(p.AccelDistance-1.0) > 1e-9 {
		t.Errorf("accel distance = %v, want half the move", p.AccelDistance)
	}
}

func TestNewTrapezoidAsymmetric(t *testing.T) {
	// Entry faster than exit, distinct accel and decel rates.
	p := NewTrapezoid(50, 10, 60, 5, 2000, 500)

	rate := float64(steptimer.StepClockRate)
	wantAccel := (60.0*60.0 - 10.0*10.0) / (2 * 2000.0)
	if math.Abs(p.AccelDistance-wantAccel) > 1e-9 {
		t.Errorf("accel distance = %v, want %v", p.AccelDistance, wantAccel)
	}
	wantDecel := (60.0*60.0 - 5.0*5.0) / (2 * 500.0)
	if math.Abs((p.TotalDistance-p.DecelStartDistance)-wantDecel) > 1e-9 {
		t.Errorf("decel distance = %v, want %v",
			p.TotalDistance-p.DecelStartDistance, wantDecel)
	}
	if math.Abs(p.StartSpeed-10.0/rate) > 1e-15 || math.Abs(p.EndSpeed-5.0/rate) > 1e-15 {
		t.Errorf("speeds = %v/%v", p.StartSpeed, p.EndSpeed)
	}
}

func TestNewTrapezoidPeakClamped(t *testing.T) {
	// So short the triangle solution falls below the entry speed; the peak
	// clamps to it rather than planning a dip.
	p := NewTrapezoid(0.01, 40, 50, 0, 1000, 1000)
	if p.TopSpeed < p.StartSpeed {
		t.Errorf("top speed %v below start speed %v", p.TopSpeed, p.StartSpeed)
	}
}

func TestMoveCheckingEndstops(t *testing.T) {
	m := &Move{Profile: steadyProfile(10, 1000)}
	if m.CheckingEndstops() {
		t.Error("plain move should not check endstops")
	}
	m.Profile.CheckEndstops = true
	if !m.CheckingEndstops() {
		t.Error("homing move should check endstops")
	}
}
