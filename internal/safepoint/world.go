// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safepoint

import (
	"sync/atomic"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// World tracks running mutators. A mutator is running between Enter and
// Leave; a stopped world has no running mutator. Mutators that try to
// Enter while a stop is pending block until the world restarts.
//
// A mutator must Leave before blocking on anything the safepoint
// goroutine might be waiting for, in particular the heap lock.
type World struct {
	mu    lockrank.RWMutex
	stops atomic.Uint64
}

// NewWorld returns a running world. If c is non-nil, the world lock is
// rank-checked.
func NewWorld(c *lockrank.Checker) *World {
	w := new(World)
	w.mu.Init(c, lockrank.RankWorld)
	return w
}

// Enter marks the calling mutator running.
func (w *World) Enter() { w.mu.RLock() }

// Leave marks the calling mutator parked.
func (w *World) Leave() { w.mu.RUnlock() }

// Stops returns the number of times the world was stopped.
func (w *World) Stops() uint64 { return w.stops.Load() }

func (w *World) stop() {
	w.mu.Lock()
	w.stops.Add(1)
}

func (w *World) start() { w.mu.Unlock() }
