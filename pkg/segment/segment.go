// Package segment provides the linear motion primitive used by the step
// scheduler. A MoveSegment describes constant-acceleration motion of one
// logical drive over a time window; a drive's pending motion is a singly
// linked chain of segments ascending in start time.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package segment

import "fmt"

// Flags describe properties of the move a segment belongs to. Flags from all
// due drives are OR-ed together by the scheduler each step cycle.
type Flags uint8

const (
	// FlagCheckEndstops marks motion that must poll endstops while stepping.
	FlagCheckEndstops Flags = 1 << iota

	// FlagIsExtruder marks extruder motion (pressure advance applies).
	FlagIsExtruder

	// FlagNoShaping marks motion built without input shaping (homing and
	// special moves).
	FlagNoShaping
)

// CheckEndstops reports whether the endstop-check flag is set.
func (f Flags) CheckEndstops() bool { return f&FlagCheckEndstops != 0 }

// IsExtruder reports whether the extruder flag is set.
func (f Flags) IsExtruder() bool { return f&FlagIsExtruder != 0 }

// MoveSegment is one constant-acceleration interval of a drive's motion.
//
// Distance is measured in steps (the builder scales by the drive's steps/mm),
// U in steps per step-clock tick and A in steps per tick squared. A segment is
// never mutated once the owning drive has started stepping through it; the
// merge logic in the drive package only touches segments that are still ahead
// of the consumption point.
type MoveSegment struct {
	next *MoveSegment

	StartTime uint32 // movement-clock tick at which the segment begins
	Duration  uint32 // length in ticks
	Distance  float64
	U         float64
	A         float64
	Flags     Flags
}

// Next returns the following segment in the chain, or nil.
func (s *MoveSegment) Next() *MoveSegment { return s.next }

// SetNext links the following segment. Ownership of the chain stays with the
// caller; this only rewrites the link.
func (s *MoveSegment) SetNext(next *MoveSegment) { s.next = next }

// EndTime returns the movement-clock tick at which the segment ends.
func (s *MoveSegment) EndTime() uint32 { return s.StartTime + s.Duration }

// EndSpeed returns the speed at the end of the segment in steps/tick.
func (s *MoveSegment) EndSpeed() float64 { return s.U + s.A*float64(s.Duration) }

// DistanceAt returns the distance covered t ticks after the segment start.
func (s *MoveSegment) DistanceAt(t float64) float64 {
	return (s.U + 0.5*s.A*t) * t
}

func (s *MoveSegment) String() string {
	return fmt.Sprintf("seg{t=%d..%d d=%.4f u=%.3e a=%.3e f=%02x}",
		s.StartTime, s.EndTime(), s.Distance, s.U, s.A, uint8(s.Flags))
}

// ChainLen returns the number of segments from head to the end of the chain.
func ChainLen(head *MoveSegment) int {
	n := 0
	for s := head; s != nil; s = s.next {
		n++
	}
	return n
}

// ChainDistance returns the sum of the Distance fields over a chain.
func ChainDistance(head *MoveSegment) float64 {
	d := 0.0
	for s := head; s != nil; s = s.next {
		d += s.Distance
	}
	return d
}
