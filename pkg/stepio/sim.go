// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepio

import "sync"

// PulseGroup records one synchronized step pulse emitted to a set of
// drivers.
type PulseGroup struct {
	Bitmap uint32
}

// DirChange records a direction line transition.
type DirChange struct {
	Drive    int
	Forwards bool
}

// SimOutput is a recording Output for tests and the simulator. One bit per
// logical drive; all drivers enabled unless disabled explicitly.
type SimOutput struct {
	mu sync.Mutex

	slowDrivers uint32
	timings     DriverTimings
	disabled    uint32

	pulses     []PulseGroup
	dirChanges []DirChange
	dirState   map[int]bool
	idleCount  int
	pinsHigh   uint32

	// OnStepHigh, if set, is invoked for every rising pulse group.
	OnStepHigh func(bitmap uint32)
}

// NewSimOutput returns a recording output.
func NewSimOutput() *SimOutput {
	return &SimOutput{dirState: make(map[int]bool)}
}

// SetSlowDrivers marks drivers as slow with the given timing constraints.
func (o *SimOutput) SetSlowDrivers(bitmap uint32, t DriverTimings) {
	o.mu.Lock()
	o.slowDrivers = bitmap
	o.timings = t
	o.mu.Unlock()
}

func (o *SimOutput) DriversBitmap(drive int) uint32 { return 1 << uint(drive) }

func (o *SimOutput) SteppingEnabledDrivers() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ^o.disabled
}

func (o *SimOutput) SlowDriversBitmap() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.slowDrivers
}

func (o *SimOutput) SlowDriverTimings() DriverTimings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timings
}

func (o *SimOutput) SetStepPinsHigh(bitmap uint32) {
	o.mu.Lock()
	o.pinsHigh |= bitmap
	o.pulses = append(o.pulses, PulseGroup{Bitmap: bitmap})
	hook := o.OnStepHigh
	o.mu.Unlock()
	if hook != nil {
		hook(bitmap)
	}
}

func (o *SimOutput) SetStepPinsLow(bitmap uint32) {
	o.mu.Lock()
	o.pinsHigh &^= bitmap
	o.mu.Unlock()
}

func (o *SimOutput) SetDirection(drive int, forwards bool) {
	o.mu.Lock()
	o.dirState[drive] = forwards
	o.dirChanges = append(o.dirChanges, DirChange{Drive: drive, Forwards: forwards})
	o.mu.Unlock()
}

func (o *SimOutput) DisableSteppingDriver(driver int) {
	o.mu.Lock()
	o.disabled |= 1 << uint(driver)
	o.mu.Unlock()
}

func (o *SimOutput) SetDriversIdle() {
	o.mu.Lock()
	o.idleCount++
	o.mu.Unlock()
}

// Pulses returns a copy of the recorded pulse groups.
func (o *SimOutput) Pulses() []PulseGroup {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PulseGroup(nil), o.pulses...)
}

// StepCount returns the number of pulses recorded for one drive.
func (o *SimOutput) StepCount(drive int) int {
	bit := uint32(1) << uint(drive)
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, p := range o.pulses {
		if p.Bitmap&bit != 0 {
			n++
		}
	}
	return n
}

// DirChanges returns a copy of the recorded direction transitions.
func (o *SimOutput) DirChanges() []DirChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DirChange(nil), o.dirChanges...)
}

// Direction returns the last driven direction for a drive.
func (o *SimOutput) Direction(drive int) (forwards, known bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	forwards, known = o.dirState[drive]
	return
}

// IdleCount returns how many times the drivers were put into idle hold.
func (o *SimOutput) IdleCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.idleCount
}
