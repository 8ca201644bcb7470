// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// Manager names.
const (
	CyclesManager = "ZGC Cycles"
	PausesManager = "ZGC Pauses"
)

// Service is the memory service: the heap's pools, the managers that
// collect them and the accounting they read from.
type Service struct {
	acc   *HeapAccounting
	pools []*Pool

	cycles *Manager
	pauses *Manager

	log *zap.Logger
	now func() time.Time
}

// NewService returns a service over acc with one pool per space, a
// cycle manager that records pool usage and a pause manager that only
// counts pauses.
func NewService(acc *HeapAccounting, log *zap.Logger, c *lockrank.Checker) *Service {
	s := &Service{acc: acc, log: log, now: time.Now}
	for id := PoolID(0); id < numPools; id++ {
		s.pools = append(s.pools, newPool(id, acc, log, c))
	}
	s.cycles = newManager(CyclesManager, s.pools, true, c)
	s.pauses = newManager(PausesManager, s.pools, false, c)
	return s
}

// Accounting returns the heap accounting the pools read from.
func (s *Service) Accounting() *HeapAccounting { return s.acc }

// MemoryUsage returns the usage of the whole heap.
func (s *Service) MemoryUsage() MemoryUsage { return s.acc.Overall() }

func (s *Service) Pools() []*Pool { return s.pools }

func (s *Service) Managers() []*Manager { return []*Manager{s.cycles, s.pauses} }

// Pool returns the pool with the given name, or nil.
func (s *Service) Pool(name string) *Pool {
	for _, p := range s.pools {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Manager returns the manager with the given name, or nil.
func (s *Service) Manager(name string) *Manager {
	for _, m := range s.Managers() {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// TrackMemoryUsage samples every pool, updating peaks and thresholds.
func (s *Service) TrackMemoryUsage() {
	for _, p := range s.pools {
		p.Usage()
	}
}

// Trace is an open collection on one manager. It is closed by End.
type Trace struct {
	s       *Service
	m       *Manager
	cause   cause.Cause
	recalc  bool
	started time.Time
}

// TraceCycle begins a collection cycle. Its End recalculates the
// accounting before the cycle is counted.
func (s *Service) TraceCycle(c cause.Cause) *Trace {
	t := &Trace{s: s, m: s.cycles, cause: c, recalc: true, started: s.now()}
	s.cycles.GCBegin(t.started)
	return t
}

// TracePause begins a pause. Pauses are counted without touching the
// accounting.
func (s *Service) TracePause(c cause.Cause) *Trace {
	t := &Trace{s: s, m: s.pauses, cause: c, started: s.now()}
	s.pauses.GCBegin(t.started)
	return t
}

// End closes the collection and returns its duration.
func (t *Trace) End() time.Duration {
	if t.recalc {
		t.s.acc.Recalculate()
		t.s.TrackMemoryUsage()
	}
	end := t.s.now()
	t.m.GCEnd(end, t.cause)
	if t.recalc {
		t.s.log.Debug("memory manager collection ended",
			zap.String("manager", t.m.Name()),
			zap.Uint64("count", t.m.CollectionCount()),
			zap.Stringer("heap", t.s.MemoryUsage()))
	}
	return end.Sub(t.started)
}

// Abandon closes a collection that did not complete. The accounting is
// left as it is and the collection is not counted.
func (t *Trace) Abandon() time.Duration {
	t.m.GCAbandon()
	d := t.s.now().Sub(t.started)
	if t.recalc {
		t.s.log.Debug("memory manager collection abandoned",
			zap.String("manager", t.m.Name()),
			zap.Stringer("cause", t.cause),
			zap.Duration("duration", d))
	}
	return d
}
