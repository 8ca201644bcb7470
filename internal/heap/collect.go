// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// maxMarkEndAttempts bounds the number of times MarkEnd sends marking
// back to the concurrent phase.
const maxMarkEndAttempts = 3

// SetActiveWorkers sets the number of mark workers of the next cycle.
func (h *Heap) SetActiveWorkers(n uint) {
	h.mu.Lock()
	h.workers = max(n, 1)
	h.mu.Unlock()
}

// MarkStart begins a cycle. It runs with the world stopped.
//
// Regions allocated from now on belong to the new cycle and are not
// relocation candidates; objects allocated from now on are found on the
// mutators' mark stacks at mark end.
func (h *Heap) MarkStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles.Add(1)
	h.markSeq = uint64(h.nextObj)
	h.markTries = 0
	h.allocating = nil
	for _, r := range h.regions {
		r.live.Store(0)
	}
}

// Mark marks the objects that existed at mark start.
func (h *Heap) Mark(initial bool) {
	h.markSeq = h.scan(0)
	h.log.Debug("marked", zap.Bool("initial", initial), zap.Uint64("scanned", h.markSeq))
}

// MarkContinue marks the objects allocated since the last scan.
func (h *Heap) MarkContinue() {
	h.markSeq = h.scan(Handle(h.markSeq))
}

// MarkEnd ends marking with the world stopped. It reports false if
// objects allocated during marking have not been scanned yet and the
// attempt limit has not been reached; otherwise it scans them in the
// pause.
func (h *Heap) MarkEnd() bool {
	h.mu.Lock()
	pending := uint64(h.nextObj) > h.markSeq
	if pending && h.markTries < maxMarkEndAttempts-1 {
		h.markTries++
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()
	if pending {
		h.markSeq = h.scan(Handle(h.markSeq))
	}
	return true
}

// scan adds the size of every live object with handle from or above to
// its region's live bytes, splitting the regions among the active
// workers. It returns the first handle not scanned.
func (h *Heap) scan(from Handle) uint64 {
	h.mu.Lock()
	to := h.nextObj
	work := make(map[*region][]*object)
	for id, o := range h.objects {
		if id >= from && id < to && o.alive.Load() {
			work[o.region] = append(work[o.region], o)
		}
	}
	workers := int(h.workers)
	h.mu.Unlock()

	type unit struct {
		r    *region
		objs []*object
	}
	units := make(chan unit)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range units {
				var live uint64
				for _, o := range u.objs {
					live += o.size
				}
				u.r.live.Add(live)
			}
		}()
	}
	for r, objs := range work {
		units <- unit{r, objs}
	}
	close(units)
	wg.Wait()
	return uint64(to)
}

// MarkFree releases marking resources.
func (h *Heap) MarkFree() {
	h.mu.Lock()
	h.markTries = 0
	h.mu.Unlock()
}

// ProcessNonStrongReferences clears weak objects, and soft objects if
// clearSoft is set.
func (h *Heap) ProcessNonStrongReferences(clearSoft bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var soft, weak uint64
	for id, o := range h.objects {
		if !o.alive.Load() {
			continue
		}
		switch {
		case o.ref == Weak:
			weak++
		case o.ref == Soft && clearSoft:
			soft++
		default:
			continue
		}
		o.alive.Store(false)
		if uint64(id) < h.markSeq {
			o.region.live.Add(-o.size)
		}
	}
	h.softCleared.Add(soft)
	h.weakCleared.Add(weak)
	if soft+weak > 0 {
		h.log.Debug("references cleared", zap.Uint64("soft", soft), zap.Uint64("weak", weak))
	}
}

// ResetRelocationSet forgets the previous cycle's relocation set.
func (h *Heap) ResetRelocationSet() {
	h.mu.Lock()
	h.relocSet = nil
	h.mu.Unlock()
}

// SelectRelocationSet frees regions without live objects and selects
// the sparse regions for relocation, sparsest first.
func (h *Heap) SelectRelocationSet() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cycle := h.cycles.Load()
	limit := 100 - h.cfg.FragmentationLimit
	var empty, selected int
	for _, r := range h.regions {
		if r.seq >= cycle {
			continue
		}
		live := r.live.Load()
		switch {
		case live == 0:
			h.freeObjectsLocked(r)
			h.freeRegionLocked(r)
			empty++
		case r.kind != Large && live*100 <= r.size*limit:
			h.relocSet = append(h.relocSet, r)
			selected++
		}
	}
	slices.SortFunc(h.relocSet, func(a, b *region) int {
		return cmp.Compare(a.live.Load(), b.live.Load())
	})
	h.satisfyStallsLocked()
	h.log.Debug("relocation set selected", zap.Int("empty", empty), zap.Int("selected", selected))
}

// RelocateStart begins relocation with the world stopped. Eden and the
// previous survivors are promoted; relocation targets become the new
// survivors.
func (h *Heap) RelocateStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if r.kind == Eden || r.kind == Survivor {
			h.retypeLocked(r, Old)
		}
	}
	h.allocating = nil
}

// Relocate moves the live objects out of the relocation set and frees
// its regions. If no region can be committed for the copies, the region
// is compacted in place. A region whose objects all died since the set
// was selected is freed without a copy.
func (h *Heap) Relocate() {
	var target *region
	var moved uint64
	for _, r := range h.relocationSet() {
		h.mu.Lock()
		var live []Handle
		for _, id := range r.objs {
			if o := h.objects[id]; o != nil && o.alive.Load() {
				live = append(live, id)
			} else {
				delete(h.objects, id)
			}
		}
		compacted := false
		for i, id := range live {
			o := h.objects[id]
			if target == nil || target.free() < o.size {
				target = h.newRegionLocked(Survivor, h.cfg.RegionSize)
			}
			if target == nil {
				h.compactLocked(r, live[i:])
				compacted = true
				break
			}
			h.placeLocked(target, o, id)
			moved += o.size
		}
		if !compacted {
			r.objs = nil
			h.freeRegionLocked(r)
		}
		h.satisfyStallsLocked()
		h.mu.Unlock()
	}
	h.relocated.Add(moved)
	h.log.Debug("relocated", zap.Uint64("bytes", moved))
}

func (h *Heap) relocationSet() []*region {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.relocSet)
}

// compactLocked keeps only objs in r, packed at its bottom.
func (h *Heap) compactLocked(r *region, objs []Handle) {
	var top uint64
	for _, id := range objs {
		top += h.objects[id].size
	}
	garbage := r.top - top
	r.top = top
	r.objs = slices.Clone(objs)
	h.used.Add(-garbage)
	switch r.kind {
	case Eden:
		h.edenUsed.Add(-garbage)
	case Survivor:
		h.survivorUsed.Add(-garbage)
	}
}

func (h *Heap) freeObjectsLocked(r *region) {
	for _, id := range r.objs {
		delete(h.objects, id)
	}
	r.objs = nil
}

// Verify checks the heap counters against the regions. It runs with the
// world stopped and panics on a mismatch.
func (h *Heap) Verify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var used, eden, survivor, survivorRegions, committed uint64
	for _, r := range h.regions {
		if r.top > r.size {
			panic(fmt.Sprintf("heap: region %d overflows: top %d size %d", r.id, r.top, r.size))
		}
		used += r.top
		committed += r.size
		switch r.kind {
		case Eden:
			eden += r.top
		case Survivor:
			survivor += r.top
			survivorRegions++
		}
	}
	for _, c := range []struct {
		name      string
		got, want uint64
	}{
		{"used", h.used.Load(), used},
		{"eden used", h.edenUsed.Load(), eden},
		{"survivor used", h.survivorUsed.Load(), survivor},
		{"survivor regions", h.survivorRegions.Load(), survivorRegions},
	} {
		if c.got != c.want {
			panic(fmt.Sprintf("heap: %s is %d, regions hold %d", c.name, c.got, c.want))
		}
	}
	if capacity := h.capacity.Load(); committed > capacity || capacity > h.cfg.MaxCapacity {
		panic(fmt.Sprintf("heap: committed %d, capacity %d, max %d", committed, capacity, h.cfg.MaxCapacity))
	}
	h.log.Debug("heap verified", zap.Int("regions", len(h.regions)), zap.Uint64("used", used))
}
