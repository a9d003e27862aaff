// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepio

import "testing"

func TestSimOutputPulses(t *testing.T) {
	o := NewSimOutput()

	o.SetStepPinsHigh(0b101)
	o.SetStepPinsLow(0b101)
	o.SetStepPinsHigh(0b001)
	o.SetStepPinsLow(0b001)

	if got := o.StepCount(0); got != 2 {
		t.Errorf("drive 0 count = %d, want 2", got)
	}
	if got := o.StepCount(2); got != 1 {
		t.Errorf("drive 2 count = %d, want 1", got)
	}
	if got := o.StepCount(1); got != 0 {
		t.Errorf("drive 1 count = %d, want 0", got)
	}
	pulses := o.Pulses()
	if len(pulses) != 2 || pulses[0].Bitmap != 0b101 || pulses[1].Bitmap != 0b001 {
		t.Errorf("pulses = %v", pulses)
	}
}

func TestSimOutputOnStepHighHook(t *testing.T) {
	o := NewSimOutput()
	var seen []uint32
	o.OnStepHigh = func(bitmap uint32) { seen = append(seen, bitmap) }
	o.SetStepPinsHigh(0b10)
	o.SetStepPinsHigh(0b01)
	if len(seen) != 2 || seen[0] != 0b10 || seen[1] != 0b01 {
		t.Errorf("hook saw %v", seen)
	}
}

func TestSimOutputDirection(t *testing.T) {
	o := NewSimOutput()
	if _, known := o.Direction(0); known {
		t.Error("direction should be unknown before first drive")
	}
	o.SetDirection(0, true)
	o.SetDirection(0, false)
	o.SetDirection(1, true)

	fwd, known := o.Direction(0)
	if !known || fwd {
		t.Errorf("drive 0 direction = (%v, %v), want (false, true)", fwd, known)
	}
	changes := o.DirChanges()
	if len(changes) != 3 {
		t.Fatalf("recorded %d changes, want 3", len(changes))
	}
	if changes[1] != (DirChange{Drive: 0, Forwards: false}) {
		t.Errorf("change[1] = %+v", changes[1])
	}
}

func TestSimOutputDisable(t *testing.T) {
	o := NewSimOutput()
	if o.SteppingEnabledDrivers()&0b111 != 0b111 {
		t.Error("all drivers should start enabled")
	}
	o.DisableSteppingDriver(1)
	if o.SteppingEnabledDrivers()&0b010 != 0 {
		t.Error("driver 1 still enabled after disable")
	}
	if o.SteppingEnabledDrivers()&0b101 != 0b101 {
		t.Error("disable affected other drivers")
	}
}

func TestSimOutputSlowDrivers(t *testing.T) {
	o := NewSimOutput()
	if o.SlowDriversBitmap() != 0 {
		t.Error("no slow drivers expected by default")
	}
	tim := DriverTimings{StepHighTicks: 2, StepLowTicks: 2, DirSetupTicks: 4, DirHoldTicks: 4}
	o.SetSlowDrivers(0b100, tim)
	if o.SlowDriversBitmap() != 0b100 {
		t.Errorf("slow bitmap = %b, want 100", o.SlowDriversBitmap())
	}
	if o.SlowDriverTimings() != tim {
		t.Errorf("timings = %+v, want %+v", o.SlowDriverTimings(), tim)
	}
}

func TestSimOutputIdleAndBitmap(t *testing.T) {
	o := NewSimOutput()
	if o.DriversBitmap(3) != 0b1000 {
		t.Errorf("DriversBitmap(3) = %b, want 1000", o.DriversBitmap(3))
	}
	o.SetDriversIdle()
	o.SetDriversIdle()
	if o.IdleCount() != 2 {
		t.Errorf("idle count = %d, want 2", o.IdleCount())
	}
}
