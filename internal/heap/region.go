// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Kind is the generation a region belongs to.
type Kind uint8

const (
	Eden Kind = iota
	Survivor
	Old
	Large
)

func (k Kind) String() string {
	switch k {
	case Eden:
		return "eden"
	case Survivor:
		return "survivor"
	case Old:
		return "old"
	case Large:
		return "large"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type region struct {
	id   uint64
	kind Kind
	size uint64
	top  uint64 // bytes allocated
	objs []Handle

	// seq is the cycle number at allocation. Regions allocated
	// after the current cycle's mark start are implicitly live.
	seq uint64

	// live is the number of marked bytes. Written by mark workers.
	live atomic.Uint64
}

func (r *region) free() uint64 { return r.size - r.top }

// Reference strength of an object.
type Ref uint8

const (
	Strong Ref = iota
	// Soft objects are cleared by cycles that clear soft references.
	Soft
	// Weak objects are cleared by every cycle.
	Weak
)

func (r Ref) String() string {
	switch r {
	case Strong:
		return "strong"
	case Soft:
		return "soft"
	case Weak:
		return "weak"
	}
	return fmt.Sprintf("Ref(%d)", uint8(r))
}

// Handle identifies an allocated object.
type Handle uint64

type object struct {
	size   uint64
	ref    Ref
	region *region
	alive  atomic.Bool
}

// newRegionLocked commits and returns a region of the given size and kind.
// It returns nil if the heap cannot grow to hold it. h.mu must be held.
func (h *Heap) newRegionLocked(kind Kind, size uint64) *region {
	size = alignUp(size, h.cfg.RegionSize)
	committed := h.committedLocked()
	if committed+size > h.capacity.Load() {
		// Grow, like the page allocator committing more memory.
		grown := committed + size
		if grown > h.cfg.MaxCapacity {
			return nil
		}
		h.capacity.Store(grown)
		h.log.Debug("heap grown", zap.Uint64("capacity", grown))
	}
	h.nextID++
	r := &region{id: h.nextID, kind: kind, size: size, seq: h.cycles.Load()}
	h.regions[r.id] = r
	if kind == Survivor {
		h.survivorRegions.Add(1)
	}
	return r
}

// committedLocked returns the bytes of all regions in use.
func (h *Heap) committedLocked() uint64 {
	var n uint64
	for _, r := range h.regions {
		n += r.size
	}
	return n
}

func (h *Heap) freeRegionLocked(r *region) {
	delete(h.regions, r.id)
	h.used.Add(-r.top)
	switch r.kind {
	case Eden:
		h.edenUsed.Add(-r.top)
	case Survivor:
		h.survivorUsed.Add(-r.top)
		h.survivorRegions.Add(^uint64(0))
	}
	if h.allocating == r {
		h.allocating = nil
	}
	h.freedRegions.Add(1)
}

// retypeLocked moves r to kind k, keeping the counters in step.
func (h *Heap) retypeLocked(r *region, k Kind) {
	if r.kind == k {
		return
	}
	switch r.kind {
	case Eden:
		h.edenUsed.Add(-r.top)
	case Survivor:
		h.survivorUsed.Add(-r.top)
		h.survivorRegions.Add(^uint64(0))
	}
	r.kind = k
	switch k {
	case Eden:
		h.edenUsed.Add(r.top)
	case Survivor:
		h.survivorUsed.Add(r.top)
		h.survivorRegions.Add(1)
	}
}

// placeLocked bumps r's top by size and accounts it.
func (h *Heap) placeLocked(r *region, o *object, id Handle) {
	r.top += o.size
	r.objs = append(r.objs, id)
	o.region = r
	h.used.Add(o.size)
	switch r.kind {
	case Eden:
		h.edenUsed.Add(o.size)
	case Survivor:
		h.survivorUsed.Add(o.size)
	}
}
