// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package director decides when to start collection cycles.
//
// The director samples the heap at a fixed rate. On each sample, if the
// driver is idle, it evaluates its rules in order and sends the first
// matching cause to the driver as an asynchronous request:
//
//	Timer           the collection interval elapsed since the last cycle
//	Warmup          heap usage crossed 10%, 20% or 30% of the soft max
//	                during the first three cycles
//	AllocationRate  the predicted allocation rate would exhaust the free
//	                heap before a cycle could complete
//	HighUsage       less than 5% of the soft max heap is free
//	Proactive       the heap grew by 10% of the soft max, or 5 minutes
//	                passed, and a cycle costs less than 1% throughput
//
// Allocation stalls are requested by the mutators themselves.
package director

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
)

const (
	warmupCycles        = 3
	highUsagePercent    = 5.0
	proactiveGrowth     = 0.10
	proactiveMaxWait    = 5 * time.Minute
	throughputDropLimit = 1.0 // percent
	rateWindow          = time.Second
)

// Heap is the heap the director watches.
type Heap interface {
	Used() uint64
	SoftMaxCapacity() uint64
	// Allocated returns the number of bytes ever allocated.
	Allocated() uint64
}

// Collector is the driver the director sends requests to.
type Collector interface {
	Collect(driver.Request)
	Busy() bool
}

// History reports the last completed cycle.
type History interface {
	LastGCStat() (monitor.GCStatInfo, bool)
}

// Options configure the director.
type Options struct {
	Interval           time.Duration // sampling interval
	CollectionInterval time.Duration // 0 disables the timer rule
	Proactive          bool
	SpikeTolerance     float64
	ConcGCThreads      uint
	DynamicGCThreads   bool
}

// Director is the collector's decision goroutine.
type Director struct {
	opts    Options
	heap    Heap
	driver  Collector
	history History
	log     *zap.Logger
	now     func() time.Time

	// Sampler state, owned by the director goroutine (or the test
	// calling Tick).
	started     time.Time
	lastSample  time.Time
	lastAlloc   uint64
	rates       []float64 // bytes per second, ring of the last window
	next        int
	cycle       uint64 // index of the last completed cycle seen
	lastEnd     time.Time
	usedAfterGC uint64
	gcDurations stats.StreamStats // seconds
	lastWorkers uint              // workers of the last requested cycle
	decisions   [cause.Breakpoint + 1]uint64
	decisionsMu sync.Mutex

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a stopped director.
func New(opts Options, h Heap, d Collector, history History, log *zap.Logger) *Director {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.ConcGCThreads == 0 {
		opts.ConcGCThreads = 1
	}
	n := max(int(rateWindow/opts.Interval), 1)
	return &Director{
		opts:        opts,
		heap:        h,
		driver:      d,
		history:     history,
		log:         log,
		now:         time.Now,
		rates:       make([]float64, 0, n),
		lastWorkers: opts.ConcGCThreads,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start starts the director goroutine.
func (d *Director) Start() {
	if d.running.Swap(true) {
		return
	}
	d.reset(d.now())
	go d.loop()
}

// Stop stops the director goroutine and waits for it to exit.
func (d *Director) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.running.Load() {
		<-d.done
	}
}

func (d *Director) loop() {
	defer close(d.done)
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			d.Tick()
		}
	}
}

func (d *Director) reset(now time.Time) {
	d.started = now
	d.lastSample = now
	d.lastEnd = now
	d.lastAlloc = d.heap.Allocated()
}

// Tick samples the heap and, if the driver is idle, requests a cycle
// when a rule matches. It reports the request sent, if any.
func (d *Director) Tick() (driver.Request, bool) {
	now := d.now()
	if d.started.IsZero() {
		d.reset(now)
	}
	d.sample(now)
	if d.driver.Busy() {
		return driver.Request{}, false
	}
	req, ok := d.decide(now)
	if !ok {
		return req, false
	}
	d.lastWorkers = d.opts.ConcGCThreads
	if d.opts.DynamicGCThreads && req.Workers > 0 {
		d.lastWorkers = req.Workers
	}
	d.decisionsMu.Lock()
	d.decisions[req.Cause]++
	d.decisionsMu.Unlock()
	d.log.Debug("requesting collection", zap.Stringer("cause", req.Cause), zap.Uint("workers", req.Workers))
	d.driver.Collect(req)
	return req, true
}

// Decisions returns how many requests the director sent per cause.
func (d *Director) Decisions() map[cause.Cause]uint64 {
	d.decisionsMu.Lock()
	defer d.decisionsMu.Unlock()
	m := make(map[cause.Cause]uint64)
	for c, n := range d.decisions {
		if n > 0 {
			m[cause.Cause(c)] = n
		}
	}
	return m
}

func (d *Director) sample(now time.Time) {
	alloc := d.heap.Allocated()
	if dt := now.Sub(d.lastSample).Seconds(); dt > 0 {
		rate := float64(alloc-d.lastAlloc) / dt
		if len(d.rates) < cap(d.rates) {
			d.rates = append(d.rates, rate)
		} else {
			d.rates[d.next] = rate
		}
		d.next = (d.next + 1) % cap(d.rates)
	}
	d.lastSample, d.lastAlloc = now, alloc

	if info, ok := d.history.LastGCStat(); ok && info.Index != d.cycle {
		d.cycle = info.Index
		d.lastEnd = info.End
		d.usedAfterGC = d.heap.Used()
		d.gcDurations.Add(info.End.Sub(info.Start).Seconds())
	}
}

// allocRate returns the mean and the spike-tolerant maximum of the
// sampled allocation rates, in bytes per second.
func (d *Director) allocRate() (avg, predicted float64) {
	s := stats.Sample{Xs: d.rates}
	if len(s.Xs) == 0 {
		return 0, 0
	}
	avg = s.Mean()
	return avg, avg + s.StdDev()*d.opts.SpikeTolerance
}

// gcDuration returns a pessimistic estimate of a cycle's duration in
// seconds.
func (d *Director) gcDuration() float64 {
	if d.gcDurations.Weight() == 0 {
		return 0
	}
	sd := d.gcDurations.StdDev()
	if math.IsNaN(sd) {
		sd = 0
	}
	return d.gcDurations.Mean() + sd
}

func (d *Director) warm() bool { return d.cycle >= warmupCycles }

func (d *Director) decide(now time.Time) (driver.Request, bool) {
	rules := []struct {
		c    cause.Cause
		rule func(time.Time) (uint, bool)
	}{
		{cause.Timer, d.ruleTimer},
		{cause.Warmup, d.ruleWarmup},
		{cause.AllocationRate, d.ruleAllocationRate},
		{cause.HighUsage, d.ruleHighUsage},
		{cause.Proactive, d.ruleProactive},
	}
	for _, r := range rules {
		if workers, ok := r.rule(now); ok {
			return driver.Request{Cause: r.c, Workers: workers}, true
		}
	}
	return driver.Request{}, false
}

func (d *Director) ruleTimer(now time.Time) (uint, bool) {
	if d.opts.CollectionInterval == 0 {
		return 0, false
	}
	return 0, now.Sub(d.lastEnd) >= d.opts.CollectionInterval
}

func (d *Director) ruleWarmup(time.Time) (uint, bool) {
	if d.warm() {
		return 0, false
	}
	threshold := float64(d.heap.SoftMaxCapacity()) * float64(d.cycle+1) * 0.1
	return 0, float64(d.heap.Used()) >= threshold
}

func (d *Director) free() float64 {
	soft, used := d.heap.SoftMaxCapacity(), d.heap.Used()
	if used >= soft {
		return 0
	}
	return float64(soft - used)
}

func (d *Director) ruleAllocationRate(time.Time) (uint, bool) {
	if !d.warm() {
		return 0, false
	}
	_, rate := d.allocRate()
	untilOOM := d.free() / (rate + 1)
	gc := d.gcDuration()
	interval := d.opts.Interval.Seconds()
	if !d.opts.DynamicGCThreads {
		return 0, untilOOM-gc-interval <= 0
	}
	// The last cycle took gc seconds with lastWorkers workers. Pick
	// the fewest workers that finish before the heap runs out, and
	// start now if that is more than the last cycle had or if even
	// all workers are only just fast enough.
	work := gc * float64(d.lastWorkers)
	n := d.opts.ConcGCThreads
	if deadline := untilOOM - interval; deadline > 0 {
		n = min(max(uint(math.Ceil(work/deadline)), 1), n)
	}
	if n <= d.lastWorkers && untilOOM-work/float64(n)-interval > 0 {
		return 0, false
	}
	return n, true
}

func (d *Director) ruleHighUsage(time.Time) (uint, bool) {
	soft := d.heap.SoftMaxCapacity()
	if soft == 0 {
		return 0, false
	}
	return 0, d.free()*100/float64(soft) <= highUsagePercent
}

func (d *Director) ruleProactive(now time.Time) (uint, bool) {
	if !d.opts.Proactive || !d.warm() {
		return 0, false
	}
	since := now.Sub(d.lastEnd)
	threshold := float64(d.usedAfterGC) + float64(d.heap.SoftMaxCapacity())*proactiveGrowth
	if float64(d.heap.Used()) < threshold && since < proactiveMaxWait {
		return 0, false
	}
	acceptable := d.gcDuration() * (100 - throughputDropLimit) / throughputDropLimit
	return 0, since.Seconds() >= acceptable
}
