// Package drive implements the per-logical-drive state machine that turns a
// chain of constant-acceleration motion segments into discrete step events.
//
// A DriveMovement walks its segment chain one step at a time, solving
// d(t) = u*t + a*t^2/2 for the time of each integer step boundary. It never
// materializes the full step sequence; the scheduler asks for one next step
// time after each pulse.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package drive

import (
	"fmt"
	"math"
	"sync/atomic"

	"motion-engine/pkg/segment"
)

// State is the drive state machine state.
type State uint8

const (
	// Idle means the segment chain is empty and no step is pending.
	Idle State = iota

	// StepError means the drive was found in an inconsistent state while
	// stepping. The scheduler counts it and forces the drive idle.
	StepError

	// Moving is the first (and only) motion state: the drive has a pending
	// step with a defined next step time.
	Moving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StepError:
		return "stepError"
	case Moving:
		return "moving"
	default:
		return "unknown"
	}
}

// DriveMovement holds the stepping state of one logical drive (axis or
// extruder). One instance exists per drive for the lifetime of the
// controller; it is re-initialized, never re-allocated.
//
// All mutable fields are protected by the controller's motion lock: they are
// touched either from the stepping path or from task context with the
// stepping path excluded.
type DriveMovement struct {
	// Drive is the logical drive index.
	Drive int

	// NextDM links the active scheduling list, owned by the controller.
	NextDM *DriveMovement

	// NextStepTime is the movement-clock tick of the next due step. Valid
	// only while state is Moving.
	NextStepTime uint32

	// Direction is the current direction of travel (true = forwards).
	Direction bool

	// DirectionChanged is set when the direction output must be re-driven
	// (with setup/hold timing) before the next step pulse.
	DirectionChanged bool

	// SegmentFlags are the flags of the segment currently being consumed.
	SegmentFlags segment.Flags

	state    State
	segments *segment.MoveSegment

	// Stepping state for the current segment.
	nextStep         int32   // steps already computed within this segment
	segmentStepLimit int32   // whole steps this segment will produce
	u, a             float64 // current segment speed/acceleration
	segStartTime     uint32
	segDuration      uint32

	// distanceCarriedForwards is the fractional step position at the start
	// of the current segment, relative to the motor's integer position.
	// Always in (-1, 1).
	distanceCarriedForwards float64

	hasStepped   bool   // a step time has been issued since motion start
	stepInterval uint32 // ticks between the last two computed steps

	currentMotorPosition int32
	stepsTakenThisMove   int32
	movementAccumulator  atomic.Int64

	isExtruder     bool
	ExtruderShaper ExtruderShaper
}

// Init resets the drive to idle with the given index. Called once at
// controller startup for every slot.
func (dm *DriveMovement) Init(driveIndex int) {
	*dm = DriveMovement{Drive: driveIndex}
}

// State returns the current state.
func (dm *DriveMovement) State() State { return dm.state }

// ForceIdle forces the state machine to idle without touching the chain.
// Used by the scheduler after counting a step error.
func (dm *DriveMovement) ForceIdle() { dm.state = Idle }

// IsExtruder reports whether the drive is configured as an extruder.
func (dm *DriveMovement) IsExtruder() bool { return dm.isExtruder }

// SetAsExtruder marks the drive as an extruder; pressure advance then
// applies to its acceleration segments.
func (dm *DriveMovement) SetAsExtruder(isExtruder bool) { dm.isExtruder = isExtruder }

// Segments returns the head of the pending segment chain, or nil.
func (dm *DriveMovement) Segments() *segment.MoveSegment { return dm.segments }

// HasPendingMovement reports whether any segments remain queued.
func (dm *DriveMovement) HasPendingMovement() bool { return dm.segments != nil }

// CurrentMotorPosition returns the net steps issued, in the step grid of the
// drive.
func (dm *DriveMovement) CurrentMotorPosition() int32 { return dm.currentMotorPosition }

// SetMotorPosition sets the recorded motor position. Only valid while idle.
func (dm *DriveMovement) SetMotorPosition(pos int32) {
	dm.currentMotorPosition = pos
	dm.distanceCarriedForwards = 0
}

// AdjustMotorPosition offsets the recorded motor position without moving the
// motor. Used after auto-calibration. There must be no pending movement.
func (dm *DriveMovement) AdjustMotorPosition(delta int32) {
	dm.currentMotorPosition += delta
}

// AccumulatedMovement returns the accumulated net step count since the last
// call, resetting it. Safe against torn reads from other goroutines.
func (dm *DriveMovement) AccumulatedMovement() int64 {
	return dm.movementAccumulator.Swap(0)
}

// StepInterval returns the interval between the two most recent steps,
// shifted by the given microstep shift, or 0 if the drive is not moving.
func (dm *DriveMovement) StepInterval(microstepShift uint32) uint32 {
	if dm.state != Moving {
		return 0
	}
	return dm.stepInterval << microstepShift
}

// TakeStep records one physical step in the current direction. Called by the
// scheduler for each pulse emitted to this drive.
func (dm *DriveMovement) TakeStep() {
	if dm.Direction {
		dm.currentMotorPosition++
		dm.stepsTakenThisMove++
		dm.movementAccumulator.Add(1)
	} else {
		dm.currentMotorPosition--
		dm.stepsTakenThisMove--
		dm.movementAccumulator.Add(-1)
	}
}

// ScheduleFirstSegment primes the stepping state from the chain head and
// computes the first step time. It returns true if a step was scheduled.
// On failure the state is left non-idle if the failure was an internal
// inconsistency (the caller records a step error), or idle if the chain
// produced no steps at all.
//
// Caller must hold the motion lock.
func (dm *DriveMovement) ScheduleFirstSegment(pool *segment.Pool) bool {
	if dm.segments == nil {
		dm.state = Idle
		return false
	}
	dm.state = Moving
	dm.stepsTakenThisMove = 0
	dm.hasStepped = false
	dm.startSegment(pool, dm.segments)
	return dm.CalcNextStepTime(pool)
}

// CalcNextStepTime advances the step index by one and computes the time at
// which that step is due, storing it in NextStepTime. When the current
// segment is exhausted it advances to the next one, carrying the fractional
// step position forwards and releasing the spent node to the pool. It
// returns false when the drive has gone idle (chain drained) or entered the
// step-error state.
//
// The returned step times never decrease for a given motion.
func (dm *DriveMovement) CalcNextStepTime(pool *segment.Pool) bool {
	for {
		seg := dm.segments
		if seg == nil {
			dm.state = Idle
			return false
		}
		if dm.nextStep < dm.segmentStepLimit {
			dm.nextStep++
			var target float64
			if dm.Direction {
				target = float64(dm.nextStep) - dm.distanceCarriedForwards
			} else {
				target = -float64(dm.nextStep) - dm.distanceCarriedForwards
			}
			t := solveStepTime(dm.u, dm.a, target)
			if math.IsNaN(t) || t < 0 {
				dm.state = StepError
				return false
			}
			// Tiny segments can compute marginally past the end; more than
			// a tick of overshoot means the chain is inconsistent.
			if t > float64(dm.segDuration)+1.0 {
				dm.state = StepError
				return false
			}
			st := dm.segStartTime + uint32(math.Round(t))
			if dm.hasStepped {
				if int32(st-dm.NextStepTime) < 0 {
					st = dm.NextStepTime
				}
				dm.stepInterval = st - dm.NextStepTime
			}
			dm.hasStepped = true
			dm.NextStepTime = st
			return true
		}

		// Segment exhausted: carry the residual fraction into the next one.
		taken := float64(dm.segmentStepLimit)
		if !dm.Direction {
			taken = -taken
		}
		dm.distanceCarriedForwards += seg.Distance - taken
		dm.segments = seg.Next()
		pool.Release(seg)
		if dm.segments != nil {
			dm.startSegment(pool, dm.segments)
		}
	}
}

// startSegment sets up per-segment stepping state for seg, splitting it
// first if the velocity would reverse inside its window (so that every
// consumed segment is monotonic in one direction).
func (dm *DriveMovement) startSegment(pool *segment.Pool, seg *segment.MoveSegment) {
	if seg.A != 0 {
		endSpeed := seg.EndSpeed()
		if seg.U*endSpeed < 0 {
			at := uint32(math.Round(-seg.U / seg.A))
			if at > 0 && at < seg.Duration {
				splitSegment(pool, seg, at)
			}
		}
	}

	netEnd := dm.distanceCarriedForwards + seg.Distance
	forwards := seg.Distance >= 0
	var limit int32
	if forwards {
		limit = int32(math.Floor(netEnd))
	} else {
		limit = int32(math.Floor(-netEnd))
	}
	if limit < 0 {
		limit = 0
	}

	if limit > 0 && forwards != dm.Direction {
		dm.Direction = forwards
		dm.DirectionChanged = true
	}
	if !dm.hasStepped && limit > 0 {
		// Drive the direction line before the very first step of a motion.
		dm.DirectionChanged = true
	}

	dm.SegmentFlags = seg.Flags
	dm.u = seg.U
	dm.a = seg.A
	dm.segStartTime = seg.StartTime
	dm.segDuration = seg.Duration
	dm.nextStep = 0
	dm.segmentStepLimit = limit
}

// StopDriver abandons any remaining motion for the drive, returning the
// chain to the pool. The recorded motor position is exactly the steps
// already issued. It returns the net steps taken since the motion started
// and whether the drive was moving.
//
// Caller must hold the motion lock.
func (dm *DriveMovement) StopDriver(pool *segment.Pool) (netSteps int32, wasMoving bool) {
	wasMoving = dm.state == Moving
	pool.ReleaseAll(dm.segments)
	dm.segments = nil
	dm.state = Idle
	return dm.stepsTakenThisMove, wasMoving
}

func (dm *DriveMovement) String() string {
	return fmt.Sprintf("dm%d{%s nst=%d dir=%v step=%d/%d pos=%d}",
		dm.Drive, dm.state, dm.NextStepTime, dm.Direction,
		dm.nextStep, dm.segmentStepLimit, dm.currentMotorPosition)
}

// solveStepTime inverts d(t) = u*t + a*t^2/2 for t given a target distance.
// It uses the citardauq form of the quadratic root, which stays numerically
// stable as the acceleration approaches zero, and reduces exactly to linear
// division when a == 0.
func solveStepTime(u, a, target float64) float64 {
	disc := u*u + 2*a*target
	if disc < 0 {
		// The segment never reaches the target distance. Within rounding
		// error of zero treat it as reaching the peak exactly.
		if disc > -1e-9*u*u {
			disc = 0
		} else {
			return math.NaN()
		}
	}
	root := math.Sqrt(disc)
	if target < 0 {
		root = -root
	}
	denom := u + root
	if denom == 0 {
		if a == 0 {
			return math.NaN()
		}
		return math.Sqrt(2 * target / a)
	}
	return 2 * target / denom
}
