// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"sync"
	"testing"
	"time"

	"motion-engine/pkg/drive"
	"motion-engine/pkg/endstop"
	"motion-engine/pkg/errors"
	"motion-engine/pkg/shaper"
	"motion-engine/pkg/stepio"
	"motion-engine/pkg/steptimer"
)

type recordingNotifier struct {
	mu      sync.Mutex
	hiccups []uint32
	stops   []stopReport
}

type stopReport struct {
	drive    int
	netSteps int32
}

func (n *recordingNotifier) HiccupInserted(ticks uint32) {
	n.mu.Lock()
	n.hiccups = append(n.hiccups, ticks)
	n.mu.Unlock()
}

func (n *recordingNotifier) DriverStopped(drive int, netSteps int32) {
	n.mu.Lock()
	n.stops = append(n.stops, stopReport{drive, netSteps})
	n.mu.Unlock()
}

type recordingHoming struct {
	axes     []int
	highEnds []bool
}

func (h *recordingHoming) OnHomingSwitchTriggered(axis int, highEnd bool, stepsPerMm []float64, m *Move) {
	h.axes = append(h.axes, axis)
	h.highEnds = append(h.highEnds, highEnd)
}

func newTestController(t *testing.T, cfg Config) (*Controller, *steptimer.SimClock, *stepio.SimOutput) {
	t.Helper()
	clock := steptimer.NewSimClock(0)
	out := stepio.NewSimOutput()
	cfg.Clock = clock
	cfg.Output = out
	if cfg.NumAxes == 0 && cfg.NumExtruders == 0 {
		cfg.NumAxes = 3
		cfg.NumExtruders = 1
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, clock, out
}

// pump fires armed step callbacks until the controller stops rearming.
func pump(t *testing.T, clock *steptimer.SimClock) {
	t.Helper()
	for i := 0; ; i++ {
		if !clock.AdvanceToCallback() {
			return
		}
		if i > 500000 {
			t.Fatal("stepping did not finish")
		}
	}
}

// steadyProfile is a cruise-only profile covering mm millimeters in the
// given number of ticks.
func steadyProfile(mm float64, ticks uint32) Profile {
	return Profile{
		TotalDistance:      mm,
		TopSpeed:           mm / float64(ticks),
		SteadyClocks:       ticks,
		DecelStartDistance: mm,
	}
}

// trapezoidProfile is a 20mm accel/cruise/decel profile, 100000 ticks per
// phase, with phase distances 5/10/5mm.
func trapezoidProfile() Profile {
	return Profile{
		TotalDistance:      20,
		TopSpeed:           1e-4,
		Acceleration:       1e-9,
		Deceleration:       1e-9,
		AccelClocks:        100000,
		SteadyClocks:       100000,
		DecelClocks:        100000,
		AccelDistance:      5,
		DecelStartDistance: 15,
	}
}

func TestNewControllerValidation(t *testing.T) {
	clock := steptimer.NewSimClock(0)
	out := stepio.NewSimOutput()

	if _, err := NewController(Config{NumAxes: 3, Output: out}); err == nil {
		t.Error("missing clock accepted")
	}
	if _, err := NewController(Config{NumAxes: 3, Clock: clock}); err == nil {
		t.Error("missing output accepted")
	}
	if _, err := NewController(Config{Clock: clock, Output: out}); err == nil {
		t.Error("zero drives accepted")
	}
	if _, err := NewController(Config{NumAxes: 40, Clock: clock, Output: out}); err == nil {
		t.Error("more than 32 drives accepted")
	}
	c, err := NewController(Config{NumAxes: 3, NumExtruders: 1, Clock: clock, Output: out})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if !c.dms[3].IsExtruder() || c.dms[2].IsExtruder() {
		t.Error("extruder flag should be set for drives beyond the axes")
	}
}

func TestTrapezoidMoveStepCount(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	m := &Move{
		Profile:   trapezoidProfile(),
		Drives:    []DriveMotion{{Drive: 0, Steps: 1600}},
		StartTime: 1000,
	}
	c.executeMove(m)
	pump(t, clock)

	if got := out.StepCount(0); got != 1600 {
		t.Errorf("step count = %d, want 1600", got)
	}
	if got := c.LiveMotorPosition(0); got != 1600 {
		t.Errorf("position = %d, want 1600", got)
	}
	if got := c.RestPosition(0); got != 1600 {
		t.Errorf("rest position = %d, want 1600", got)
	}
	if fwd, known := out.Direction(0); !known || !fwd {
		t.Errorf("direction = (%v, %v), want forwards", fwd, known)
	}
	snap := c.Snapshot(false)
	if snap.StepsEmitted != 1600 {
		t.Errorf("steps emitted = %d, want 1600", snap.StepsEmitted)
	}
	if snap.StepErrors != 0 {
		t.Errorf("step errors = %d, want 0", snap.StepErrors)
	}
	if !c.AreDrivesStopped(0xF) {
		t.Error("drives should report stopped")
	}
}

func TestTwoDrivesInterleaved(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	m := &Move{
		Profile: trapezoidProfile(),
		Drives: []DriveMotion{
			{Drive: 0, Steps: 1600},
			{Drive: 1, Steps: 800},
		},
		StartTime: 1000,
	}
	c.executeMove(m)
	pump(t, clock)

	if got := out.StepCount(0); got != 1600 {
		t.Errorf("drive 0 steps = %d, want 1600", got)
	}
	if got := out.StepCount(1); got != 800 {
		t.Errorf("drive 1 steps = %d, want 800", got)
	}
	if got := c.LiveMotorPosition(1); got != 800 {
		t.Errorf("drive 1 position = %d, want 800", got)
	}
	snap := c.Snapshot(false)
	if snap.StepsEmitted != 2400 {
		t.Errorf("steps emitted = %d, want 2400", snap.StepsEmitted)
	}
}

func TestReverseMove(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	m := &Move{
		Profile:   steadyProfile(20, 150000),
		Drives:    []DriveMotion{{Drive: 2, Steps: -800}},
		StartTime: 500,
	}
	c.executeMove(m)
	pump(t, clock)

	if got := out.StepCount(2); got != 800 {
		t.Errorf("step count = %d, want 800", got)
	}
	if got := c.LiveMotorPosition(2); got != -800 {
		t.Errorf("position = %d, want -800", got)
	}
	if fwd, known := out.Direction(2); !known || fwd {
		t.Errorf("direction = (%v, %v), want backwards", fwd, known)
	}
}

func TestSequentialMovesAccumulate(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	first := &Move{
		Profile:   steadyProfile(10, 75000),
		Drives:    []DriveMotion{{Drive: 0, Steps: 400}},
		StartTime: 500,
	}
	c.executeMove(first)
	pump(t, clock)

	second := &Move{
		Profile:   steadyProfile(10, 75000),
		Drives:    []DriveMotion{{Drive: 0, Steps: -100}},
		StartTime: clock.MovementTicks() + 500,
	}
	c.executeMove(second)
	pump(t, clock)

	if got := c.LiveMotorPosition(0); got != 300 {
		t.Errorf("position = %d, want 300", got)
	}
	if got := out.StepCount(0); got != 500 {
		t.Errorf("total pulses = %d, want 500", got)
	}
	if got := c.AccumulatedMovement(0); got != 300 {
		t.Errorf("accumulated movement = %d, want 300", got)
	}
	changes := out.DirChanges()
	if len(changes) != 2 {
		t.Fatalf("direction changes = %v, want one per move", changes)
	}
	if !changes[0].Forwards || changes[1].Forwards {
		t.Errorf("directions = %v, want forwards then backwards", changes)
	}
}

func TestShapedMoveSplitsImpulses(t *testing.T) {
	set, err := shaper.Custom([]float64{1, 1}, []uint32{0, 15000})
	if err != nil {
		t.Fatal(err)
	}
	c, clock, out := newTestController(t, Config{Shaper: &set})

	m := &Move{
		Profile:    steadyProfile(20, 150000),
		Drives:     []DriveMotion{{Drive: 0, Steps: 1600}},
		StartTime:  1000,
		UseShaping: true,
	}
	c.executeMove(m)
	pump(t, clock)

	// Rounding at the final step boundary may drop a single microstep.
	if got := out.StepCount(0); got < 1599 || got > 1600 {
		t.Errorf("step count = %d, want ~1600", got)
	}
	// The shaped move ends one impulse delay later than the unshaped one.
	if end := clock.MovementTicks(); end < 1000+150000 {
		t.Errorf("motion ended at %d, before the unshaped duration", end)
	}
}

func TestEndstopStopsAxis(t *testing.T) {
	switches := endstop.NewSwitchSet()
	homing := &recordingHoming{}
	remote := &recordingNotifier{}
	c, clock, out := newTestController(t, Config{
		Endstops: switches,
		Remote:   remote,
	})
	c.SetHomingCallback(homing)

	switches.Arm(endstop.Hit{
		Action:     endstop.ActionStopAxis,
		Axis:       0,
		SetAxisPos: true,
	}, nil)

	m := &Move{
		Profile:   steadyProfile(20, 150000),
		Drives:    []DriveMotion{{Drive: 0, Steps: 800}},
		StartTime: 500,
		Homing:    true,
	}
	m.Profile.CheckEndstops = true
	c.executeMove(m)

	// Let the move run partway, then close the switch.
	for i := 0; i < 100; i++ {
		if !clock.AdvanceToCallback() {
			t.Fatal("motion ended before the switch closed")
		}
	}
	stepsBefore := out.StepCount(0)
	switches.Trigger(0)
	pump(t, clock)

	if got := out.StepCount(0); got != stepsBefore {
		t.Errorf("steps after trigger = %d, want %d (no further pulses)", got, stepsBefore)
	}
	if got := c.LiveMotorPosition(0); got != int32(stepsBefore) {
		t.Errorf("position = %d, want %d", got, stepsBefore)
	}
	if got := c.RestPosition(0); got != int32(stepsBefore) {
		t.Errorf("rest position = %d, want %d", got, stepsBefore)
	}
	if !c.AreDrivesStopped(1) {
		t.Error("drive 0 should be stopped")
	}
	if len(homing.axes) != 1 || homing.axes[0] != 0 || homing.highEnds[0] {
		t.Errorf("homing callback saw %v/%v, want axis 0 low end", homing.axes, homing.highEnds)
	}
	remote.mu.Lock()
	stops := append([]stopReport(nil), remote.stops...)
	remote.mu.Unlock()
	if len(stops) != 1 || stops[0].drive != 0 || stops[0].netSteps != int32(stepsBefore) {
		t.Errorf("remote stops = %v, want drive 0 with %d steps", stops, stepsBefore)
	}
}

func TestZProbeStopsAllAndReportsObserver(t *testing.T) {
	switches := endstop.NewSwitchSet()
	homing := &recordingHoming{}
	c, clock, out := newTestController(t, Config{Endstops: switches})
	c.SetHomingCallback(homing)
	probed := false
	c.SetProbeObserver(func() { probed = true })

	switches.Arm(endstop.Hit{
		Action:   endstop.ActionStopAll,
		Axis:     2,
		IsZProbe: true,
	}, nil)

	m := &Move{
		Profile: steadyProfile(20, 150000),
		Drives: []DriveMotion{
			{Drive: 1, Steps: 800},
			{Drive: 2, Steps: -800},
		},
		StartTime: 500,
	}
	m.Profile.CheckEndstops = true
	c.executeMove(m)

	for i := 0; i < 50; i++ {
		if !clock.AdvanceToCallback() {
			t.Fatal("motion ended early")
		}
	}
	switches.Trigger(2)
	pump(t, clock)

	if !probed {
		t.Error("probe observer not called")
	}
	if len(homing.axes) != 0 {
		t.Errorf("Z probe should not reach the homing callback, got %v", homing.axes)
	}
	if out.StepCount(1) >= 800 || out.StepCount(2) >= 800 {
		t.Error("stop-all did not interrupt the move")
	}
	if !c.AreDrivesStopped(0xF) {
		t.Error("all drives should be stopped")
	}
}

func TestHiccupInsertedWhenInterruptOverruns(t *testing.T) {
	remote := &recordingNotifier{}
	c, clock, out := newTestController(t, Config{Remote: remote})

	// Every raw clock read jumps the clock far enough that the interrupt
	// always appears to have overrun its budget.
	clock.AutoAdvance = steptimer.MaxStepInterruptTime + 25

	m := &Move{
		Profile:   steadyProfile(20, 150000),
		Drives:    []DriveMotion{{Drive: 0, Steps: 800}},
		StartTime: 500,
	}
	c.executeMove(m)
	pump(t, clock)

	// Hiccups delay steps but never lose them.
	if got := out.StepCount(0); got != 800 {
		t.Errorf("step count = %d, want 800", got)
	}
	snap := c.Snapshot(true)
	if snap.Hiccups == 0 {
		t.Fatal("no hiccups recorded")
	}
	if snap.HiccupTicks < uint64(snap.Hiccups)*steptimer.HiccupTime {
		t.Errorf("hiccup ticks %d too small for %d hiccups", snap.HiccupTicks, snap.Hiccups)
	}
	if snap.MovementDelay == 0 {
		t.Error("movement delay should have grown")
	}
	remote.mu.Lock()
	notified := len(remote.hiccups)
	remote.mu.Unlock()
	if notified != int(snap.Hiccups) {
		t.Errorf("remote notified %d times, want %d", notified, snap.Hiccups)
	}

	// The reset snapshot cleared the counters.
	if again := c.Snapshot(false); again.Hiccups != 0 || again.StepErrors != 0 {
		t.Errorf("counters not reset: %+v", again)
	}
}

func TestInterruptWithEmptyListIsNoOp(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	before := c.Snapshot(false)
	for i := 0; i < 5; i++ {
		c.Interrupt()
	}
	after := c.Snapshot(false)

	if after.StepsEmitted != before.StepsEmitted || after.StepErrors != before.StepErrors ||
		after.Hiccups != before.Hiccups {
		t.Errorf("counters changed on empty interrupt: %+v -> %+v", before, after)
	}
	if len(out.Pulses()) != 0 {
		t.Error("pulses emitted with nothing scheduled")
	}
	if _, pending := clock.Pending(); pending {
		t.Error("timer armed with nothing scheduled")
	}
}

func TestActiveListOrdering(t *testing.T) {
	c, _, _ := newTestController(t, Config{})

	c.dms[0].NextStepTime = 100
	c.dms[1].NextStepTime = 200
	c.dms[2].NextStepTime = 100

	c.insertDM(&c.dms[0])
	c.insertDM(&c.dms[1])
	c.insertDM(&c.dms[2])

	var order []int
	for dm := c.activeDMs; dm != nil; dm = dm.NextDM {
		order = append(order, dm.Drive)
	}
	// Equal times insert before the existing entry.
	want := []int{2, 0, 1}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("active list order = %v, want %v", order, want)
	}

	c.deactivateDM(&c.dms[0])
	order = order[:0]
	for dm := c.activeDMs; dm != nil; dm = dm.NextDM {
		order = append(order, dm.Drive)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("after deactivate, order = %v, want [2 1]", order)
	}
	c.activeDMs = nil
}

func TestActiveListWrapAware(t *testing.T) {
	c, _, _ := newTestController(t, Config{})

	// A time just past the wrap sorts after one just before it.
	c.dms[0].NextStepTime = 0xFFFFFFF0
	c.dms[1].NextStepTime = 5
	c.insertDM(&c.dms[0])
	c.insertDM(&c.dms[1])
	if c.activeDMs.Drive != 0 {
		t.Errorf("head = drive %d, want 0 (earlier in wrapped order)", c.activeDMs.Drive)
	}
	c.activeDMs = nil
	c.dms[0].NextDM = nil
	c.dms[1].NextDM = nil
}

func TestStopAllDrivers(t *testing.T) {
	c, clock, out := newTestController(t, Config{})

	m := &Move{
		Profile:   steadyProfile(20, 150000),
		Drives:    []DriveMotion{{Drive: 0, Steps: 800}},
		StartTime: 500,
	}
	c.executeMove(m)
	for i := 0; i < 10; i++ {
		clock.AdvanceToCallback()
	}
	c.StopAllDrivers()

	if _, pending := clock.Pending(); pending {
		t.Error("timer still armed after stop")
	}
	if !c.AreDrivesStopped(0xF) {
		t.Error("drives still pending after stop")
	}
	before := out.StepCount(0)
	pump(t, clock)
	if out.StepCount(0) != before {
		t.Error("steps emitted after stop")
	}
}

func TestMicrosteppingRescalesStepsPerMm(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	c.SetStepsPerMm(0, 80)
	c.SetMicrostepping(0, 32)
	if got := c.StepsPerMm(0); got != 160 {
		t.Errorf("steps/mm = %v, want 160 after doubling microsteps", got)
	}
	if got := c.Microstepping(0); got != 32 {
		t.Errorf("microstepping = %d, want 32", got)
	}
}

func TestPressureAdvanceUnits(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	c.SetPressureAdvance(3, 0.05)
	if got := c.dms[3].ExtruderShaper.Clocks(); got != 0.05*steptimer.StepClockRate {
		t.Errorf("advance clocks = %v, want %v", got, 0.05*steptimer.StepClockRate)
	}
}

func TestAdjustMotorPositions(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	c.SetMotorPosition(0, 1000)
	c.AdjustMotorPositions([]float64{0.5}) // 0.5mm at 80 steps/mm
	if got := c.LiveMotorPosition(0); got != 1040 {
		t.Errorf("position = %d, want 1040", got)
	}
	if got := c.RestPosition(0); got != 1040 {
		t.Errorf("rest position = %d, want 1040", got)
	}
}

func TestStepErrorForcesDriveIdle(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	dm := &c.dms[0]
	dm.NextStepTime = 50

	// An inconsistent chain state is counted and the drive forced idle.
	c.recordStepError(dm)
	if dm.State() != drive.Idle {
		t.Errorf("state = %v, want idle", dm.State())
	}
	if got := c.Snapshot(false).StepErrors; got != 1 {
		t.Errorf("step errors = %d, want 1", got)
	}
}

func TestEnqueueValidation(t *testing.T) {
	c, _, _ := newTestController(t, Config{})

	err := c.EnqueueMove(&Move{Profile: steadyProfile(10, 1000)})
	if !errors.IsCode(err, errors.ErrMotionQueue) {
		t.Errorf("move with no drives: err = %v", err)
	}
	err = c.EnqueueMove(&Move{Drives: []DriveMotion{{Drive: 0, Steps: 10}}})
	if !errors.IsCode(err, errors.ErrMotionQueue) {
		t.Errorf("move with no extent: err = %v", err)
	}
}

func TestEmergencyStopDrainsQueue(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	m := &Move{
		Profile: steadyProfile(10, 1000),
		Drives:  []DriveMotion{{Drive: 0, Steps: 10}},
	}
	if !c.TryEnqueueMove(m) || !c.TryEnqueueMove(m) {
		t.Fatal("enqueue failed")
	}
	c.EmergencyStop()
	if got := c.QueuedMoves(); got != 0 {
		t.Errorf("queued moves = %d, want 0", got)
	}
}

func TestMoveTaskEndToEnd(t *testing.T) {
	c, clock, out := newTestController(t, Config{IdleTimeout: time.Millisecond})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	if err := c.Start(); err == nil {
		t.Error("second Start should fail")
	}

	m := &Move{
		Profile: steadyProfile(20, 150000),
		Drives:  []DriveMotion{{Drive: 0, Steps: 800}},
	}
	if err := c.EnqueueMove(m); err != nil {
		t.Fatal(err)
	}

	// The move task builds segments asynchronously; pump the clock until
	// the controller goes quiet.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if clock.AdvanceToCallback() {
			continue
		}
		if c.WaitForIdle(0) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("move did not complete")
		}
		time.Sleep(time.Millisecond)
	}

	if got := out.StepCount(0); got != 800 {
		t.Errorf("step count = %d, want 800", got)
	}

	// With the timeout elapsed the drivers drop to idle current.
	deadline = time.Now().Add(2 * time.Second)
	for out.IdleCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drivers never went idle")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.State(); got != "idle" {
		t.Errorf("state = %q, want idle", got)
	}
}
