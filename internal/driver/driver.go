// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver runs collection cycles.
//
// A single service goroutine receives collection requests from a
// message port and runs one cycle per request: an alternation of short
// pauses, executed at a safepoint, and concurrent phases running next to
// the mutators. Pauses that the GC locker rejects are retried once the
// locker is released. Stopping the driver abandons the cycle in progress
// at the next phase boundary.
package driver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/trace"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
	"github.com/SerenityOS/serenity-sub095/internal/port"
	"github.com/SerenityOS/serenity-sub095/internal/safepoint"
	"github.com/SerenityOS/serenity-sub095/internal/stat"
)

// SafepointExecutor runs pause operations with the world stopped.
type SafepointExecutor interface {
	Execute(op *safepoint.Operation)
}

// Marker marks live objects.
type Marker interface {
	// MarkStart is the body of the mark start pause.
	MarkStart()
	// Mark marks concurrently; initial is set for the first
	// marking of a cycle.
	Mark(initial bool)
	// MarkContinue continues marking after an incomplete MarkEnd.
	MarkContinue()
	// MarkEnd is the body of the mark end pause. It reports false
	// if marking is incomplete and must continue concurrently.
	MarkEnd() bool
	// MarkFree releases marking resources.
	MarkFree()
}

// Relocator moves live objects out of sparsely populated regions.
type Relocator interface {
	ResetRelocationSet()
	SelectRelocationSet()
	// RelocateStart is the body of the relocate start pause.
	RelocateStart()
	Relocate()
}

// ReferenceProcessor processes soft, weak and phantom references.
type ReferenceProcessor interface {
	ProcessNonStrongReferences(clearSoft bool)
}

// Verifier checks heap consistency at a safepoint.
type Verifier interface {
	Verify()
}

// OOMChecker fails or retries allocations that stalled before the
// completed cycle.
type OOMChecker interface {
	CheckOutOfMemory()
}

// WorkerSetter is told the number of concurrent workers of each cycle.
type WorkerSetter interface {
	SetActiveWorkers(n uint)
}

// LockerPort is the rendezvous between the driver and the mutator that
// releases the GC locker. *port.Rendezvous implements it.
type LockerPort interface {
	Wait()
	Ack()
	Signal()
	SignalSync()
	Close()
}

// Collaborators are the subsystems the driver sequences. Verifier and
// Workers may be nil.
type Collaborators struct {
	Safepoint  SafepointExecutor
	Marker     Marker
	Relocator  Relocator
	References ReferenceProcessor
	Verifier   Verifier
	OOM        OOMChecker
	Workers    WorkerSetter
}

// Options configure the driver.
type Options struct {
	// ConcGCThreads is the maximum number of concurrent workers.
	ConcGCThreads uint
	// DynamicGCThreads uses the worker count of each request
	// instead of ConcGCThreads.
	DynamicGCThreads bool
	// Verify runs a verification pause in every cycle.
	Verify bool
}

// Driver is the collector's service goroutine.
type Driver struct {
	opts    Options
	c       Collaborators
	port    *port.MessagePort[Request]
	locker  LockerPort
	service *monitor.Service
	stats   *stat.Recorder
	bp      *Breakpoints
	log     *zap.Logger
	events  trace.EventLog

	terminate atomic.Bool
	phase     atomic.Int32
	cycles    atomic.Uint64 // cycles started
	completed atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}

	// Set for the cycle in progress; touched only by the driver
	// goroutine.
	cycle *cycleState
}

type cycleState struct {
	id        uint64
	req       Request
	workers   uint
	clearSoft bool
	tr        trace.Trace
	mon       *monitor.Trace
	before    monitor.MemoryUsage
}

// New returns a stopped driver. locker may be nil, in which case the
// driver makes its own rendezvous.
func New(opts Options, c Collaborators, locker LockerPort, service *monitor.Service,
	stats *stat.Recorder, log *zap.Logger, checker *lockrank.Checker) *Driver {
	if opts.ConcGCThreads == 0 {
		opts.ConcGCThreads = 1
	}
	if locker == nil {
		locker = port.NewRendezvous(checker)
	}
	if stats == nil {
		stats = stat.NewRecorder()
	}
	d := &Driver{
		opts:    opts,
		c:       c,
		port:    port.NewMessagePort(Request.Equal, checker),
		locker:  locker,
		service: service,
		stats:   stats,
		bp:      newBreakpoints(log.Named("breakpoint"), checker),
		log:     log,
		done:    make(chan struct{}),
	}
	d.bp.collect = func() { d.Collect(Request{Cause: cause.Breakpoint}) }
	return d
}

// Start starts the service goroutine.
func (d *Driver) Start() {
	d.startOnce.Do(func() {
		d.events = trace.NewEventLog("zdriver", "driver")
		d.started.Store(true)
		go d.run()
	})
}

// Stop terminates the driver. A cycle in progress is abandoned at the
// next phase boundary; its synchronous requesters are released without
// the cycle completing. Stop waits for the service goroutine to exit.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.terminate.Store(true)
		d.port.SendAsync(Request{Cause: cause.NoGC})
		d.port.Close()
		d.locker.Close()
		d.bp.close()
	})
	if d.started.Load() {
		<-d.done
	}
}

// Collect requests a collection. Synchronous causes block until a cycle
// serving the request completed; asynchronous causes return at once.
// Collect panics for causes without a delivery.
func (d *Driver) Collect(req Request) {
	switch cause.DeliveryOf(req.Cause) {
	case cause.Sync:
		d.port.SendSync(req)
	case cause.Async:
		d.port.SendAsync(req)
	case cause.LockerSignal:
		d.locker.SignalSync()
	case cause.BreakpointStart:
		d.bp.startGCRequest()
		d.port.SendAsync(req)
	default:
		panic(fmt.Sprintf("driver: unsupported collection cause %v", req.Cause))
	}
}

// Busy reports whether a cycle is in progress.
func (d *Driver) Busy() bool { return d.port.Busy() }

// Phase returns the phase the driver is in.
func (d *Driver) Phase() Phase { return Phase(d.phase.Load()) }

// Cycles returns the number of cycles started and completed.
func (d *Driver) Cycles() (started, completed uint64) {
	return d.cycles.Load(), d.completed.Load()
}

// Breakpoints returns the driver's breakpoint control.
func (d *Driver) Breakpoints() *Breakpoints { return d.bp }

// Stats returns the phase statistics.
func (d *Driver) Stats() *stat.Recorder { return d.stats }

func (d *Driver) shouldTerminate() bool { return d.terminate.Load() }

func (d *Driver) setPhase(p Phase) { d.phase.Store(int32(p)) }

func (d *Driver) run() {
	defer close(d.done)
	defer d.events.Finish()

	for !d.shouldTerminate() {
		req := d.port.Receive()
		if req.Cause == cause.NoGC {
			continue
		}

		d.bp.atBeforeGC()

		d.gc(req)

		if d.shouldTerminate() {
			d.events.Printf("cycle for %v abandoned", req)
			break
		}

		d.port.Ack()
		d.completed.Add(1)

		d.c.OOM.CheckOutOfMemory()

		d.bp.atAfterGC()
	}
	d.setPhase(Terminating)
	d.log.Debug("driver terminated")
}

// gc runs one cycle. It returns early if the driver is stopped.
func (d *Driver) gc(req Request) {
	d.beginCycle(req)
	defer d.endCycle()

	// Phase 1: Pause Mark Start
	d.pause(MarkStart, safepoint.MarkStart, func() bool {
		d.c.Marker.MarkStart()
		return true
	})
	if d.shouldTerminate() {
		return
	}

	// Phase 2: Concurrent Mark
	if !d.concurrent(Mark, func() {
		d.bp.at(AfterMarkingStarted)
		d.c.Marker.Mark(true)
		d.bp.at(BeforeMarkingCompleted)
	}) {
		return
	}

	// Phase 3: Pause Mark End
	for !d.pause(MarkEnd, safepoint.MarkEnd, d.c.Marker.MarkEnd) {
		if d.shouldTerminate() {
			return
		}
		// Phase 3.5: Concurrent Mark Continue
		if !d.concurrent(MarkContinue, d.c.Marker.MarkContinue) {
			return
		}
	}

	// Phase 4: Concurrent Mark Free
	if !d.concurrent(MarkFree, d.c.Marker.MarkFree) {
		return
	}

	// Phase 5: Concurrent Process Non-Strong References
	if !d.concurrent(ProcessNonStrongReferences, func() {
		d.bp.at(AfterReferenceProcessingStarted)
		d.c.References.ProcessNonStrongReferences(d.cycle.clearSoft)
	}) {
		return
	}

	// Phase 6: Concurrent Reset Relocation Set
	if !d.concurrent(ResetRelocationSet, d.c.Relocator.ResetRelocationSet) {
		return
	}

	// Phase 7: Pause Verify
	d.pauseVerify()

	// Phase 8: Concurrent Select Relocation Set
	if !d.concurrent(SelectRelocationSet, d.c.Relocator.SelectRelocationSet) {
		return
	}

	// Phase 9: Pause Relocate Start
	d.pause(RelocateStart, safepoint.RelocateStart, func() bool {
		d.c.Relocator.RelocateStart()
		return true
	})
	if d.shouldTerminate() {
		return
	}

	// Phase 10: Concurrent Relocate
	d.concurrent(Relocate, d.c.Relocator.Relocate)
}

// pause runs body in a pause operation of the given kind, retrying for
// as long as the GC locker rejects it. It returns body's result. Once
// the operation ran, the locker port is acked exactly once, releasing
// the mutator that restarted it.
func (d *Driver) pause(p Phase, kind safepoint.Kind, body func() bool) bool {
	d.setPhase(p)
	c := d.cycle.req.Cause
	start := time.Now()
	rejected := 0
	for {
		op := safepoint.NewOperation(kind, func() bool {
			tr := d.service.TracePause(c)
			ok := body()
			tr.End()
			return ok
		})
		d.c.Safepoint.Execute(op)
		if !op.GCLocked() {
			d.locker.Ack()
			d.record(stat.Pause, p, time.Since(start), zap.Int("gcLocked", rejected), zap.Bool("success", op.Success()))
			return op.Success()
		}

		rejected++
		d.log.Info("pause rejected by GC locker, waiting for release",
			zap.Uint64("gc", d.cycle.id), zap.Stringer("phase", p), zap.Int("attempt", rejected))
		d.cycle.tr.LazyPrintf("%v: GC locked (attempt %d)", p, rejected)
		d.locker.Wait()
		if d.shouldTerminate() {
			return false
		}
	}
}

// pauseVerify runs the verification pause if enabled. It does not
// move objects, so it is not subject to the GC locker.
func (d *Driver) pauseVerify() {
	if !d.opts.Verify || d.c.Verifier == nil {
		return
	}
	d.setPhase(Verify)
	start := time.Now()
	op := safepoint.NewOperation(safepoint.Verify, func() bool {
		d.c.Verifier.Verify()
		return true
	})
	d.c.Safepoint.Execute(op)
	d.record(stat.Pause, Verify, time.Since(start))
}

// concurrent runs fn as phase p and reports whether the cycle may
// continue.
func (d *Driver) concurrent(p Phase, fn func()) bool {
	d.setPhase(p)
	start := time.Now()
	fn()
	d.record(stat.Concurrent, p, time.Since(start))
	return !d.shouldTerminate()
}

func (d *Driver) record(kind stat.Kind, p Phase, dur time.Duration, fields ...zap.Field) {
	d.stats.Record(kind, p.String(), dur)
	d.cycle.tr.LazyPrintf("%v %v", p, dur)
	if ce := d.log.Check(zap.DebugLevel, "phase"); ce != nil {
		ce.Write(append([]zap.Field{
			zap.Uint64("gc", d.cycle.id),
			zap.Stringer("phase", p),
			zap.Duration("duration", dur),
		}, fields...)...)
	}
}

// selectWorkers returns the number of concurrent workers for req.
func (d *Driver) selectWorkers(req Request) uint {
	n := d.opts.ConcGCThreads
	if !cause.BoostsWorkers(req.Cause) && d.opts.DynamicGCThreads && req.Workers > 0 {
		n = req.Workers
	}
	return min(max(n, 1), d.opts.ConcGCThreads)
}

func (d *Driver) beginCycle(req Request) {
	d.cycle = &cycleState{
		id:        d.cycles.Add(1),
		req:       req,
		workers:   d.selectWorkers(req),
		clearSoft: cause.ClearsSoftReferences(req.Cause),
		tr:        trace.New("zdriver.cycle", req.Cause.String()),
	}
	if d.c.Workers != nil {
		d.c.Workers.SetActiveWorkers(d.cycle.workers)
	}
	d.cycle.tr.LazyPrintf("GC(%d) %v workers=%d clearSoft=%v", d.cycle.id, req, d.cycle.workers, d.cycle.clearSoft)
	d.events.Printf("GC(%d) start: %v", d.cycle.id, req)
	d.cycle.before = d.service.MemoryUsage()
	d.cycle.mon = d.service.TraceCycle(req.Cause)
}

func (d *Driver) endCycle() {
	if d.shouldTerminate() {
		d.abandonCycle()
		return
	}
	dur := d.cycle.mon.End()
	after := d.service.MemoryUsage()

	d.stats.Record(stat.Cycle, "Garbage Collection", dur)
	d.log.Info(fmt.Sprintf("GC(%d) Garbage Collection (%v) %dM->%dM", d.cycle.id, d.cycle.req.Cause,
		d.cycle.before.Used>>20, after.Used>>20),
		zap.Uint64("gc", d.cycle.id),
		zap.Stringer("cause", d.cycle.req.Cause),
		zap.Uint("workers", d.cycle.workers),
		zap.Bool("clearSoft", d.cycle.clearSoft),
		zap.Uint64("usedBefore", d.cycle.before.Used),
		zap.Uint64("usedAfter", after.Used),
		zap.Duration("duration", dur))
	d.cycle.tr.Finish()
	d.events.Printf("GC(%d) end: %dM->%dM in %v", d.cycle.id, d.cycle.before.Used>>20, after.Used>>20, dur)
	d.setPhase(Idle)
}

// abandonCycle closes a cycle cut short by Stop. The memory accounting
// and the collection count are left untouched.
func (d *Driver) abandonCycle() {
	dur := d.cycle.mon.Abandon()
	d.log.Info(fmt.Sprintf("GC(%d) Garbage Collection (%v) abandoned", d.cycle.id, d.cycle.req.Cause),
		zap.Uint64("gc", d.cycle.id),
		zap.Stringer("cause", d.cycle.req.Cause),
		zap.Stringer("phase", d.Phase()),
		zap.Duration("duration", dur))
	d.cycle.tr.LazyPrintf("abandoned in %v", d.Phase())
	d.cycle.tr.SetError()
	d.cycle.tr.Finish()
	d.events.Printf("GC(%d) abandoned in %v", d.cycle.id, d.Phase())
	d.setPhase(Idle)
}
