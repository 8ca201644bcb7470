// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/safepoint"
)

// A stall is an allocation waiting for memory to be freed.
type stall struct {
	size uint64
	ref  Ref
	// seq is the number of cycles started when the stall was
	// enqueued.
	seq uint64

	done chan struct{}
	h    Handle
	err  error
}

func (s *stall) complete(h Handle, err error) {
	s.h, s.err = h, err
	close(s.done)
}

// largeThreshold is the object size above which an object gets a region
// of its own.
func (h *Heap) largeThreshold() uint64 { return h.cfg.RegionSize / 2 }

// allocLocked allocates an object. It reports false if the heap is full.
// h.mu must be held.
func (h *Heap) allocLocked(size uint64, ref Ref) (Handle, bool) {
	var r *region
	if size > h.largeThreshold() {
		if r = h.newRegionLocked(Large, size); r == nil {
			return 0, false
		}
	} else {
		if h.allocating == nil || h.allocating.free() < size {
			if h.allocating = h.newRegionLocked(Eden, h.cfg.RegionSize); h.allocating == nil {
				return 0, false
			}
			if h.acc != nil {
				defer h.acc.UpdateEdenSize()
			}
		}
		r = h.allocating
	}
	id := h.nextObj
	h.nextObj++
	o := &object{size: size, ref: ref}
	o.alive.Store(true)
	h.objects[id] = o
	h.placeLocked(r, o, id)
	h.allocated.Add(size)
	return id, true
}

// tryAlloc allocates or, if the heap is full, enqueues a stall for the
// allocation. Enqueuing under the same lock hold as the failed attempt
// guarantees that memory freed afterwards sees the stall.
func (h *Heap) tryAlloc(size uint64, ref Ref) (Handle, *stall, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.allocLocked(size, ref); ok {
		return id, nil, nil
	}
	if h.closed {
		return 0, nil, ErrClosed
	}
	s := &stall{size: size, ref: ref, seq: h.cycles.Load(), done: make(chan struct{})}
	h.stalls = append(h.stalls, s)
	h.stallCount.Add(1)
	return 0, s, nil
}

// waitStall requests a cycle and waits for s to be satisfied or failed.
func (h *Heap) waitStall(ctx context.Context, s *stall) (Handle, error) {
	h.mu.Lock()
	request := h.requestGC
	h.mu.Unlock()

	h.log.Info("allocation stall", zap.Uint64("size", s.size), zap.Uint64("gc", s.seq))
	request(cause.AllocationStall)

	select {
	case <-s.done:
		return s.h, s.err
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, t := range h.stalls {
		if t == s {
			h.stalls = append(h.stalls[:i], h.stalls[i+1:]...)
			return 0, ctx.Err()
		}
	}
	// Completed while we were giving up.
	<-s.done
	return s.h, s.err
}

// satisfyStallsLocked completes stalled allocations in arrival order for
// as long as they fit. h.mu must be held.
func (h *Heap) satisfyStallsLocked() {
	for len(h.stalls) > 0 {
		s := h.stalls[0]
		id, ok := h.allocLocked(s.size, s.ref)
		if !ok {
			return
		}
		h.stalls[0] = nil
		h.stalls = h.stalls[1:]
		s.complete(id, nil)
	}
}

// CheckOutOfMemory fails the stalled allocations that were enqueued
// before the last cycle started: a whole cycle ran and could not free
// enough memory for them. If stalls enqueued during that cycle remain,
// another cycle is started for them.
func (h *Heap) CheckOutOfMemory() {
	h.mu.Lock()
	h.satisfyStallsLocked()
	current := h.cycles.Load()
	restart := false
	keep := h.stalls[:0]
	for _, s := range h.stalls {
		if s.seq < current {
			h.oomCount.Add(1)
			h.log.Warn("out of memory",
				zap.Uint64("size", s.size),
				zap.Uint64("stalledAt", s.seq),
				zap.Uint64("gc", current))
			s.complete(0, ErrOutOfMemory)
			continue
		}
		keep = append(keep, s)
		restart = true
	}
	for i := len(keep); i < len(h.stalls); i++ {
		h.stalls[i] = nil
	}
	h.stalls = keep
	request := h.requestGC
	h.mu.Unlock()

	if restart {
		request(cause.AllocationStall)
	}
}

// Drop makes the object unreachable.
func (h *Heap) Drop(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.objects[id]; ok {
		o.alive.Store(false)
	}
}

// Alive reports whether the object is still reachable. Soft and weak
// objects become unreachable when reference processing clears them.
func (h *Heap) Alive(id Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[id]
	return ok && o.alive.Load()
}

// Mutator allocates on behalf of one goroutine. Allocation runs inside
// the world, so it never overlaps a pause; a stalled allocation waits
// outside it.
type Mutator struct {
	h      *Heap
	world  *safepoint.World
	locker *safepoint.GCLocker
}

// NewMutator returns a mutator. world and locker may be nil.
func (h *Heap) NewMutator(world *safepoint.World, locker *safepoint.GCLocker) *Mutator {
	return &Mutator{h: h, world: world, locker: locker}
}

// Alloc allocates an object of size bytes. If the heap is full it stalls
// until a cycle freed enough memory, the out-of-memory check failed the
// allocation, or ctx is done.
func (m *Mutator) Alloc(ctx context.Context, size uint64, ref Ref) (Handle, error) {
	if size == 0 || size > m.h.cfg.MaxCapacity {
		return 0, fmt.Errorf("heap: invalid allocation size %d", size)
	}
	if m.world != nil {
		m.world.Enter()
	}
	id, s, err := m.h.tryAlloc(size, ref)
	if m.world != nil {
		m.world.Leave()
	}
	if err != nil || s == nil {
		return id, err
	}
	return m.h.waitStall(ctx, s)
}

// Drop makes the object unreachable.
func (m *Mutator) Drop(id Handle) { m.h.Drop(id) }

// Critical runs fn in a GC locker critical region: no pause that moves
// objects runs while fn does. fn runs outside the world, like native
// code, so pauses are rejected rather than waiting for it.
func (m *Mutator) Critical(fn func()) {
	if m.locker != nil {
		m.locker.Enter()
		defer m.locker.Exit()
	}
	fn()
}
