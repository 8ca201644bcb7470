// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// MinObjAlignment is the padding unit added to reported capacities.
const MinObjAlignment = 8

// PadCapacity pads a capacity so that an empty space never reports zero
// capacity. mult is the number of spaces aggregated into the figure.
func PadCapacity(size uint64, mult uint64) uint64 {
	return size + MinObjAlignment*mult
}

// HeapSizes are the collector's authoritative counters. They are read
// without a common lock and need not be mutually consistent.
type HeapSizes struct {
	Used            uint64 // all regions
	EdenUsed        uint64
	SurvivorUsed    uint64
	SurvivorRegions uint64
	YoungMaxRegions uint64 // current young generation target, in regions
	Capacity        uint64 // committed
	InitialCapacity uint64
	MaxCapacity     uint64
	RegionSize      uint64
}

// SizeSource provides the heap counters. Sizes must not take any lock
// ranked at or above lockrank.RankMonitoring.
type SizeSource interface {
	Sizes() HeapSizes
}

// PoolID names one of the heap's spaces.
type PoolID int

const (
	Eden PoolID = iota
	Survivor
	Old
	numPools
)

var poolNames = [numPools]string{
	Eden:     "Eden Space",
	Survivor: "Survivor Space",
	Old:      "Old Gen",
}

func (id PoolID) String() string { return poolNames[id] }

// HeapAccounting derives per-space used and committed sizes from the heap
// counters. The derived values are recomputed at the end of every cycle
// (Recalculate) and, for eden only, whenever a new allocation region is
// installed (UpdateEdenSize). They are never recomputed at a safepoint.
type HeapAccounting struct {
	src SizeSource

	mu lockrank.Mutex // RankMonitoring

	regionSize       uint64
	initialCapacity  uint64
	maxCapacity      uint64
	overallUsed      uint64
	overallCommitted uint64

	edenUsed          uint64
	edenCommitted     uint64
	survivorUsed      uint64
	survivorCommitted uint64
	oldUsed           uint64
	oldCommitted      uint64

	init [numPools]uint64

	recalculations uint64
}

// NewHeapAccounting returns accounting over src with sizes already
// computed once. The sizes at this point are the pools' initial sizes.
func NewHeapAccounting(src SizeSource, c *lockrank.Checker) *HeapAccounting {
	a := &HeapAccounting{src: src}
	a.mu.Init(c, lockrank.RankMonitoring)
	a.Recalculate()
	a.mu.Lock()
	a.init[Eden] = a.edenCommitted
	a.init[Survivor] = a.survivorCommitted
	a.init[Old] = a.oldCommitted
	a.mu.Unlock()
	return a
}

func subtractUpToZero(x, y uint64) uint64 {
	if x > y {
		return x - y
	}
	return 0
}

func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// Recalculate recomputes every space's used and committed size.
func (a *HeapAccounting) Recalculate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.src.Sizes()
	a.regionSize = s.RegionSize
	a.initialCapacity = s.InitialCapacity
	a.maxCapacity = s.MaxCapacity

	// Eden and survivor are sampled separately from the overall used
	// size, so old gen used is derived defensively.
	a.overallUsed = s.Used
	a.edenUsed = s.EdenUsed
	a.survivorUsed = s.SurvivorUsed
	a.oldUsed = subtractUpToZero(a.overallUsed, a.edenUsed+a.survivorUsed)

	a.survivorCommitted = s.SurvivorRegions * s.RegionSize
	a.oldCommitted = alignUp(a.oldUsed, s.RegionSize)

	a.overallCommitted = s.Capacity
	diff := subtractUpToZero(a.overallCommitted, a.survivorCommitted+a.oldCommitted)

	// Eden gets what the young target allows; the rest goes to old.
	edenMax := subtractUpToZero(s.YoungMaxRegions, s.SurvivorRegions) * s.RegionSize
	a.edenCommitted = min(edenMax, diff)
	a.oldCommitted += diff - a.edenCommitted

	a.edenUsed = min(a.edenUsed, a.edenCommitted)
	a.survivorUsed = min(a.survivorUsed, a.survivorCommitted)

	a.recalculations++
}

// UpdateEdenSize refreshes eden's used size only. It is called when a
// mutator installs a new allocation region.
func (a *HeapAccounting) UpdateEdenSize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edenUsed = min(a.src.Sizes().EdenUsed, a.edenCommitted)
}

// Recalculations returns the number of full recalculations so far.
func (a *HeapAccounting) Recalculations() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recalculations
}

// Snapshot returns the usage of pool id. Committed sizes are padded.
func (a *HeapAccounting) Snapshot(id PoolID) MemoryUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch id {
	case Eden:
		return NewMemoryUsage(a.init[Eden], a.edenUsed, PadCapacity(a.edenCommitted, 1), Undefined)
	case Survivor:
		return NewMemoryUsage(a.init[Survivor], a.survivorUsed, PadCapacity(a.survivorCommitted, 1), Undefined)
	case Old:
		return NewMemoryUsage(a.init[Old], a.oldUsed, PadCapacity(a.oldCommitted, 1), a.maxCapacity)
	}
	panic("monitor: bad pool id")
}

// Young returns the usage of eden and survivor together.
func (a *HeapAccounting) Young() MemoryUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	committed := a.edenCommitted + a.survivorCommitted
	return NewMemoryUsage(a.init[Eden]+a.init[Survivor], a.edenUsed+a.survivorUsed,
		PadCapacity(committed, 3), Undefined)
}

// Overall returns the usage of the whole heap.
func (a *HeapAccounting) Overall() MemoryUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return NewMemoryUsage(a.initialCapacity, a.overallUsed, a.overallCommitted, a.maxCapacity)
}
