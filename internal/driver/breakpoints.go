// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"sync"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// Named breakpoints the driver passes during a cycle.
const (
	AfterMarkingStarted             = "AFTER MARKING STARTED"
	BeforeMarkingCompleted          = "BEFORE MARKING COMPLETED"
	AfterReferenceProcessingStarted = "AFTER CONCURRENT REFERENCE PROCESSING STARTED"
)

// Breakpoints lets a controller, typically a test, hold the collector
// at named points of a cycle.
//
// While controlled, the driver does not start a cycle until the
// controller asks for one (RunTo) and stops at the breakpoint the
// controller runs to. Uncontrolled breakpoints cost one lock acquisition.
type Breakpoints struct {
	mu   lockrank.Mutex // leaf
	cond sync.Cond
	log  *zap.Logger

	// collect requests a breakpoint cycle. It is called without mu.
	collect func()

	controlled bool
	runTo      string
	stopped    bool
	idle       bool
	startGC    bool
	completed  uint64 // cycles completed
	closed     bool
}

func newBreakpoints(log *zap.Logger, c *lockrank.Checker) *Breakpoints {
	b := &Breakpoints{log: log, idle: true}
	b.mu.Init(c, lockrank.LeafRank)
	b.cond.L = &b.mu
	return b
}

func (b *Breakpoints) resetRequest() {
	b.runTo = ""
	b.stopped = false
}

// AcquireControl takes control of the collector, waiting for any other
// controller to release it.
func (b *Breakpoints) AcquireControl() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.controlled && !b.closed {
		b.cond.Wait()
	}
	b.controlled = true
	b.resetRequest()
	b.log.Debug("breakpoint control acquired")
}

// ReleaseControl gives up control. A cycle stopped at a breakpoint
// resumes.
func (b *Breakpoints) ReleaseControl() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetRequest()
	b.controlled = false
	b.cond.Broadcast()
	b.log.Debug("breakpoint control released")
}

// RunToIdle lets the current cycle, if any, run to completion and waits
// until the collector is idle.
func (b *Breakpoints) RunToIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.controlled {
		panic("driver: RunToIdle without control")
	}
	b.resetRequest()
	b.cond.Broadcast()
	for !b.idle && !b.closed {
		b.cond.Wait()
	}
}

// RunTo runs the collector until it reaches the named breakpoint, starting
// a cycle if the collector is idle. It reports whether the breakpoint was
// reached; it is false if the cycle completed without passing it.
func (b *Breakpoints) RunTo(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.controlled {
		panic("driver: RunTo without control")
	}
	b.resetRequest()
	b.runTo = name
	b.cond.Broadcast()
	start := b.completed
	if b.idle {
		b.mu.Unlock()
		b.collect()
		b.mu.Lock()
	}
	for !b.stopped && b.completed == start && !b.closed {
		b.cond.Wait()
	}
	return b.stopped
}

// Stopped reports whether the collector is held at a breakpoint.
func (b *Breakpoints) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// startGCRequest lets the driver start the next cycle while controlled.
func (b *Breakpoints) startGCRequest() {
	b.mu.Lock()
	b.startGC = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// atBeforeGC is called by the driver before a cycle. While controlled
// it waits until a breakpoint cycle was requested.
func (b *Breakpoints) atBeforeGC() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.controlled && !b.startGC && !b.closed {
		b.cond.Wait()
	}
	b.startGC = false
	b.idle = false
	b.cond.Broadcast()
}

// at is called by the driver when it passes the named breakpoint.
func (b *Breakpoints) at(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runTo != name {
		return
	}
	b.log.Debug("stopped at breakpoint", zap.String("breakpoint", name))
	b.runTo = ""
	b.stopped = true
	b.cond.Broadcast()
	for b.stopped && !b.closed {
		b.cond.Wait()
	}
	b.log.Debug("resumed from breakpoint", zap.String("breakpoint", name))
}

// atAfterGC is called by the driver after a completed cycle.
func (b *Breakpoints) atAfterGC() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idle = true
	b.completed++
	b.cond.Broadcast()
}

// close releases everything blocked on b.
func (b *Breakpoints) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
