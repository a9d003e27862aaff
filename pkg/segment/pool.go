// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package segment

import "sync"

// Pool is a free list of MoveSegment nodes. Segments are recycled to avoid
// allocation in the steady state; when the free list is empty a new node is
// constructed and a diagnostic counter incremented. Allocation never fails.
//
// The pool is shared between the stepping path and the segment builder, so
// all list manipulation happens under a short exclusive section.
type Pool struct {
	mu         sync.Mutex
	freeList   *MoveSegment
	numCreated uint32
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Allocate returns a segment node linked before next. The node's motion
// fields are zeroed.
func (p *Pool) Allocate(next *MoveSegment) *MoveSegment {
	p.mu.Lock()
	s := p.freeList
	if s != nil {
		p.freeList = s.next
		p.mu.Unlock()
		*s = MoveSegment{next: next}
		return s
	}
	p.numCreated++
	p.mu.Unlock()
	return &MoveSegment{next: next}
}

// Release returns a single node to the free list.
func (p *Pool) Release(s *MoveSegment) {
	p.mu.Lock()
	s.next = p.freeList
	p.freeList = s
	p.mu.Unlock()
}

// ReleaseAll walks a chain and returns every node to the free list.
func (p *Pool) ReleaseAll(head *MoveSegment) {
	for head != nil {
		next := head.next
		p.Release(head)
		head = next
	}
}

// NumCreated returns the number of nodes constructed because the free list
// was empty. Diagnostic only.
func (p *Pool) NumCreated() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numCreated
}
