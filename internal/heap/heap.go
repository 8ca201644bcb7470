// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap is a simulated region heap.
//
// It has no object graph. Objects are byte counts with a reference
// strength and a liveness flag that mutators clear with Drop. Regions
// are fixed-size, except for large regions holding a single object.
// The heap implements the collaborators the driver sequences: marking
// computes live bytes per region, reference processing clears soft and
// weak objects, relocation compacts sparse regions, and the
// out-of-memory check fails allocations that stalled for a whole cycle.
//
// All region and object state is protected by the page lock. The
// counters read by monitoring are atomics and are read without it.
package heap

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
)

var (
	// ErrOutOfMemory is returned to a mutator whose allocation
	// stalled and could not be satisfied by a complete cycle.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrClosed is returned to mutators stalled when the heap closed.
	ErrClosed = errors.New("heap: closed")
)

// Config describes the heap's geometry.
type Config struct {
	RegionSize      uint64
	InitialCapacity uint64
	MaxCapacity     uint64
	SoftMaxCapacity uint64
	// YoungMaxRegions is the young generation target reported to
	// monitoring.
	YoungMaxRegions uint64
	// FragmentationLimit is the percentage of garbage above which a
	// region is selected for relocation.
	FragmentationLimit uint64
}

func (c *Config) validate() error {
	switch {
	case c.RegionSize == 0 || c.RegionSize&(c.RegionSize-1) != 0:
		return fmt.Errorf("heap: region size %d is not a power of two", c.RegionSize)
	case c.MaxCapacity < c.RegionSize:
		return fmt.Errorf("heap: max capacity %d smaller than a region", c.MaxCapacity)
	case c.InitialCapacity > c.MaxCapacity:
		return fmt.Errorf("heap: initial capacity %d exceeds max capacity %d", c.InitialCapacity, c.MaxCapacity)
	case c.FragmentationLimit > 100:
		return fmt.Errorf("heap: fragmentation limit %d%% out of range", c.FragmentationLimit)
	}
	return nil
}

// Requester starts asynchronous cycles on behalf of the heap.
type Requester func(c cause.Cause)

// Heap is a simulated region heap.
type Heap struct {
	cfg Config
	log *zap.Logger

	// mu is the page lock. It protects everything below up to the
	// counters.
	mu         lockrank.Mutex
	regions    map[uint64]*region
	nextID     uint64
	allocating *region // current eden region
	objects    map[Handle]*object
	nextObj    Handle
	stalls     []*stall
	closed     bool

	// Cycle state, written by the collaborator methods.
	markSeq   uint64 // first object handle not yet marked
	markTries int
	relocSet  []*region
	workers   uint

	requestGC Requester
	acc       *monitor.HeapAccounting

	_ cpu.CacheLinePad
	counters
	_ cpu.CacheLinePad
}

// counters are read lock-free by monitoring and the director.
type counters struct {
	used            atomic.Uint64
	edenUsed        atomic.Uint64
	survivorUsed    atomic.Uint64
	survivorRegions atomic.Uint64
	capacity        atomic.Uint64
	allocated       atomic.Uint64 // total bytes ever allocated
	cycles          atomic.Uint64 // cycles started (mark start pauses)

	stallCount   atomic.Uint64
	oomCount     atomic.Uint64
	relocated    atomic.Uint64 // bytes
	freedRegions atomic.Uint64
	softCleared  atomic.Uint64
	weakCleared  atomic.Uint64
}

// New returns an empty heap with InitialCapacity committed.
func New(cfg Config, log *zap.Logger, c *lockrank.Checker) (*Heap, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SoftMaxCapacity == 0 || cfg.SoftMaxCapacity > cfg.MaxCapacity {
		cfg.SoftMaxCapacity = cfg.MaxCapacity
	}
	if cfg.FragmentationLimit == 0 {
		cfg.FragmentationLimit = 25
	}
	h := &Heap{
		cfg:       cfg,
		log:       log,
		regions:   make(map[uint64]*region),
		objects:   make(map[Handle]*object),
		nextObj:   1,
		workers:   1,
		requestGC: func(cause.Cause) {},
	}
	h.mu.Init(c, lockrank.RankPages)
	h.capacity.Store(alignUp(cfg.InitialCapacity, cfg.RegionSize))
	return h, nil
}

// SetRequester sets the function the heap starts cycles with.
func (h *Heap) SetRequester(r Requester) {
	h.mu.Lock()
	h.requestGC = r
	h.mu.Unlock()
}

// SetAccounting sets the accounting refreshed when eden grows.
func (h *Heap) SetAccounting(acc *monitor.HeapAccounting) {
	h.mu.Lock()
	h.acc = acc
	h.mu.Unlock()
}

func (h *Heap) Config() Config { return h.cfg }

// Sizes implements monitor.SizeSource.
func (h *Heap) Sizes() monitor.HeapSizes {
	return monitor.HeapSizes{
		Used:            h.used.Load(),
		EdenUsed:        h.edenUsed.Load(),
		SurvivorUsed:    h.survivorUsed.Load(),
		SurvivorRegions: h.survivorRegions.Load(),
		YoungMaxRegions: h.cfg.YoungMaxRegions,
		Capacity:        h.capacity.Load(),
		InitialCapacity: h.cfg.InitialCapacity,
		MaxCapacity:     h.cfg.MaxCapacity,
		RegionSize:      h.cfg.RegionSize,
	}
}

// Used returns the bytes in use.
func (h *Heap) Used() uint64 { return h.used.Load() }

// SoftMaxCapacity returns the heap size the director aims to stay under.
func (h *Heap) SoftMaxCapacity() uint64 { return h.cfg.SoftMaxCapacity }

// Allocated returns the total number of bytes ever allocated.
func (h *Heap) Allocated() uint64 { return h.allocated.Load() }

// CyclesStarted returns the number of cycles whose mark start pause ran.
func (h *Heap) CyclesStarted() uint64 { return h.cycles.Load() }

// Stats are cumulative heap event counts.
type Stats struct {
	Allocated      uint64 `json:"allocated"`
	Stalls         uint64 `json:"stalls"`
	OutOfMemory    uint64 `json:"outOfMemory"`
	RelocatedBytes uint64 `json:"relocatedBytes"`
	FreedRegions   uint64 `json:"freedRegions"`
	SoftCleared    uint64 `json:"softCleared"`
	WeakCleared    uint64 `json:"weakCleared"`
	PendingStalls  int    `json:"pendingStalls"`
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	pending := len(h.stalls)
	h.mu.Unlock()
	return Stats{
		Allocated:      h.allocated.Load(),
		Stalls:         h.stallCount.Load(),
		OutOfMemory:    h.oomCount.Load(),
		RelocatedBytes: h.relocated.Load(),
		FreedRegions:   h.freedRegions.Load(),
		SoftCleared:    h.softCleared.Load(),
		WeakCleared:    h.weakCleared.Load(),
		PendingStalls:  pending,
	}
}

// Close fails every stalled allocation with ErrClosed. Later stalls fail
// at once.
func (h *Heap) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, s := range h.stalls {
		s.complete(0, ErrClosed)
	}
	h.stalls = nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
