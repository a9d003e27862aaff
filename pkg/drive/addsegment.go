// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package drive

import "motion-engine/pkg/segment"

// AddSegment inserts one constant-acceleration contribution into the drive's
// segment chain, keeping the chain ascending and non-overlapping in time.
//
// Where the new window overlaps existing segments, the contributions are
// summed: existing segments are split at the new window's boundaries and the
// overlapped pieces get their u, a and distance increased. Gaps in the chain
// are filled with fresh nodes. The last piece of the new window is always
// written with the exact residual distance, so the chain's total distance
// integral is preserved to the bit for the whole contribution.
//
// Segment builders must add all parts (accel, steady, decel) of one shaping
// impulse before moving to the next impulse; the merge assumes the existing
// chain has no gaps within the window of a single impulse.
//
// Caller must hold the motion lock. The chain must not be mutated once the
// drive has begun stepping through a segment; builders only ever add
// contributions at or beyond the first unconsumed segment.
func (dm *DriveMovement) AddSegment(pool *segment.Pool, startTime, duration uint32, distance, u, a float64, flags segment.Flags) {
	if duration == 0 {
		return
	}

	var prev *segment.MoveSegment
	seg := dm.segments
	for duration > 0 {
		if seg == nil {
			// Append the remainder with the exact residual distance.
			ns := pool.Allocate(nil)
			ns.StartTime = startTime
			ns.Duration = duration
			ns.Distance = distance
			ns.U = u
			ns.A = a
			ns.Flags = flags
			dm.linkAfter(prev, ns)
			return
		}

		switch {
		case int32(startTime-seg.StartTime) < 0:
			// The new window starts in a gap before seg.
			gap := uint32(seg.StartTime - startTime)
			if gap > duration {
				gap = duration
			}
			var d float64
			if gap == duration {
				d = distance
			} else {
				d = (u + 0.5*a*float64(gap)) * float64(gap)
			}
			ns := pool.Allocate(seg)
			ns.StartTime = startTime
			ns.Duration = gap
			ns.Distance = d
			ns.U = u
			ns.A = a
			ns.Flags = flags
			dm.linkAfter(prev, ns)
			prev = ns
			startTime += gap
			duration -= gap
			distance -= d
			u += a * float64(gap)

		case int32(startTime-seg.StartTime) > 0:
			if int32(startTime-seg.EndTime()) >= 0 {
				// Entirely after this segment.
				prev = seg
				seg = seg.Next()
				continue
			}
			// Starts inside seg: split it at our start so the merged piece
			// begins on our boundary.
			splitSegment(pool, seg, startTime-seg.StartTime)
			prev = seg
			seg = seg.Next()

		default:
			// Aligned starts. Trim seg to our window if it extends past it,
			// then fold the whole of seg's window into it.
			if seg.Duration > duration {
				splitSegment(pool, seg, duration)
			}
			w := float64(seg.Duration)
			var d float64
			if seg.Duration == duration {
				d = distance
			} else {
				d = (u + 0.5*a*w) * w
			}
			seg.Distance += d
			seg.U += u
			seg.A += a
			seg.Flags |= flags
			startTime += seg.Duration
			duration -= seg.Duration
			distance -= d
			u += a * w
			prev = seg
			seg = seg.Next()
		}
	}
}

// linkAfter inserts ns into the chain after prev (or at the head when prev
// is nil). ns.next must already point at the correct successor.
func (dm *DriveMovement) linkAfter(prev, ns *segment.MoveSegment) {
	if prev == nil {
		dm.segments = ns
	} else {
		prev.SetNext(ns)
	}
}

// splitSegment splits seg into [start, start+at) and [start+at, end),
// allocating a new node for the tail. The distance split keeps the integral
// exact: the head gets the analytic distance over its window and the tail
// gets the residual.
func splitSegment(pool *segment.Pool, seg *segment.MoveSegment, at uint32) {
	w := float64(at)
	headDist := (seg.U + 0.5*seg.A*w) * w

	tail := pool.Allocate(seg.Next())
	tail.StartTime = seg.StartTime + at
	tail.Duration = seg.Duration - at
	tail.Distance = seg.Distance - headDist
	tail.U = seg.U + seg.A*w
	tail.A = seg.A
	tail.Flags = seg.Flags

	seg.Duration = at
	seg.Distance = headDist
	seg.SetNext(tail)
}
