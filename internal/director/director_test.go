// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package director

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
)

const mb = 1 << 20

type fakeHeap struct {
	mu              sync.Mutex
	used, allocated uint64
	softMax         uint64
}

func (h *fakeHeap) Used() uint64            { h.mu.Lock(); defer h.mu.Unlock(); return h.used }
func (h *fakeHeap) Allocated() uint64       { h.mu.Lock(); defer h.mu.Unlock(); return h.allocated }
func (h *fakeHeap) SoftMaxCapacity() uint64 { return h.softMax }

func (h *fakeHeap) alloc(n uint64) {
	h.mu.Lock()
	h.used += n
	h.allocated += n
	h.mu.Unlock()
}

type fakeCollector struct {
	mu   sync.Mutex
	busy bool
	reqs []driver.Request
}

func (c *fakeCollector) Collect(r driver.Request) {
	c.mu.Lock()
	c.reqs = append(c.reqs, r)
	c.mu.Unlock()
}

func (c *fakeCollector) Busy() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.busy }

func (c *fakeCollector) count() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.reqs) }

type fakeHistory struct {
	info monitor.GCStatInfo
}

func (h *fakeHistory) LastGCStat() (monitor.GCStatInfo, bool) {
	return h.info, h.info.Index > 0
}

// completed records that cycle n ran for dur and ended at end.
func (h *fakeHistory) completed(n uint64, end time.Time, dur time.Duration) {
	h.info = monitor.GCStatInfo{Index: n, Start: end.Add(-dur), End: end}
}

type fixture struct {
	d       *Director
	heap    *fakeHeap
	coll    *fakeCollector
	history *fakeHistory
	now     time.Time
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		heap:    &fakeHeap{softMax: 100 * mb},
		coll:    &fakeCollector{},
		history: &fakeHistory{},
		now:     time.Unix(1000, 0),
	}
	if opts.Interval == 0 {
		opts.Interval = 100 * time.Millisecond
	}
	f.d = New(opts, f.heap, f.coll, f.history, zap.NewNop())
	f.d.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) tick(t *testing.T, advance time.Duration) (driver.Request, bool) {
	t.Helper()
	f.now = f.now.Add(advance)
	return f.d.Tick()
}

func (f *fixture) warm(dur time.Duration) {
	f.history.completed(warmupCycles, f.now, dur)
}

func TestTimer(t *testing.T) {
	f := newFixture(Options{CollectionInterval: time.Second})
	f.d.Tick() // start sampling at f.now
	if req, ok := f.tick(t, 500*time.Millisecond); ok {
		t.Fatalf("got %v before the interval elapsed", req)
	}
	req, ok := f.tick(t, 500*time.Millisecond)
	if !ok || req.Cause != cause.Timer {
		t.Fatalf("got %v, %v, want Timer", req, ok)
	}
	// A completed cycle restarts the interval.
	f.history.completed(1, f.now, 10*time.Millisecond)
	if req, ok := f.tick(t, 100*time.Millisecond); ok {
		t.Fatalf("got %v right after a cycle", req)
	}
}

func TestWarmup(t *testing.T) {
	f := newFixture(Options{})
	for _, tc := range []struct {
		cycles uint64
		used   uint64
		want   bool
	}{
		{0, 9 * mb, false},
		{0, 10 * mb, true},
		{1, 15 * mb, false},
		{1, 20 * mb, true},
		{2, 30 * mb, true},
		{3, 40 * mb, false}, // warm
	} {
		if tc.cycles > 0 {
			f.history.completed(tc.cycles, f.now, time.Millisecond)
		}
		f.heap.used = tc.used
		req, ok := f.tick(t, 100*time.Millisecond)
		if ok != tc.want || ok && req.Cause != cause.Warmup {
			t.Errorf("after %d cycles with %d MB used: got %v, %v, want %v", tc.cycles, tc.used/mb, req, ok, tc.want)
		}
	}
}

func TestBusyDriverSkipped(t *testing.T) {
	f := newFixture(Options{CollectionInterval: time.Millisecond})
	f.coll.busy = true
	if req, ok := f.tick(t, time.Second); ok {
		t.Fatalf("got %v while the driver is busy", req)
	}
	f.coll.busy = false
	if _, ok := f.tick(t, time.Millisecond); !ok {
		t.Fatal("no request once the driver is idle")
	}
}

func TestHighUsage(t *testing.T) {
	f := newFixture(Options{})
	f.warm(0)
	f.heap.used = 94 * mb
	if req, ok := f.tick(t, 100*time.Millisecond); ok {
		t.Fatalf("got %v with 6%% free", req)
	}
	f.heap.used = 95 * mb
	req, ok := f.tick(t, 100*time.Millisecond)
	if !ok || req.Cause != cause.HighUsage {
		t.Fatalf("got %v, %v, want HighUsage", req, ok)
	}
}

func TestAllocationRate(t *testing.T) {
	for _, tc := range []struct {
		name        string
		dynamic     bool
		wantWorkers uint
	}{
		{"static", false, 0},
		{"dynamic", true, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(Options{ConcGCThreads: 4, DynamicGCThreads: tc.dynamic})
			f.heap.softMax = 1000 * mb
			f.heap.used = 400 * mb
			f.warm(time.Second)
			f.d.Tick()
			// 1 MB/s for a second: the free heap lasts far longer
			// than a cycle.
			for i := 0; i < 10; i++ {
				f.heap.alloc(mb / 10)
				if req, ok := f.tick(t, 100*time.Millisecond); ok {
					t.Fatalf("tick %d: got %v at a low allocation rate", i, req)
				}
			}
			// 1 GB/s: 500 MB free lasts half a second, less than
			// the one-second cycle.
			var req driver.Request
			var ok bool
			for i := 0; i < 10 && !ok; i++ {
				f.heap.alloc(100 * mb)
				req, ok = f.tick(t, 100*time.Millisecond)
			}
			if !ok || req.Cause != cause.AllocationRate {
				t.Fatalf("got %v, %v, want AllocationRate", req, ok)
			}
			if req.Workers != tc.wantWorkers {
				t.Errorf("workers = %d, want %d", req.Workers, tc.wantWorkers)
			}
		})
	}
}

func TestAllocationRateWorkers(t *testing.T) {
	f := newFixture(Options{ConcGCThreads: 8, DynamicGCThreads: true})
	f.heap.softMax = 1000 * mb
	f.warm(100 * time.Millisecond)
	f.d.Tick()
	f.d.rates = append(f.d.rates[:0], 1000*mb)
	f.d.lastWorkers = 2

	// 250 MB free at 1000 MB/s: two workers finish the 0.2
	// worker-seconds of marking with time to spare.
	f.heap.used = 750 * mb
	if workers, ok := f.d.ruleAllocationRate(f.now); ok {
		t.Fatalf("rule matched with %d workers", workers)
	}
	// 180 MB free: two workers are too slow, three are enough.
	f.heap.used = 820 * mb
	workers, ok := f.d.ruleAllocationRate(f.now)
	if !ok || workers != 3 {
		t.Fatalf("got %d, %v, want 3 workers", workers, ok)
	}
	// 50 MB free: not even all workers finish in time.
	f.heap.used = 950 * mb
	workers, ok = f.d.ruleAllocationRate(f.now)
	if !ok || workers != 8 {
		t.Fatalf("got %d, %v, want 8 workers", workers, ok)
	}
}

func TestProactive(t *testing.T) {
	f := newFixture(Options{Proactive: true})
	f.heap.used = 50 * mb
	f.warm(10 * time.Millisecond)
	f.d.Tick() // records the usage after the last cycle
	f.heap.used = 55 * mb
	if req, ok := f.tick(t, 2*time.Second); ok {
		t.Fatalf("got %v after 5%% growth", req)
	}
	f.heap.used = 60 * mb
	req, ok := f.tick(t, 100*time.Millisecond)
	if !ok || req.Cause != cause.Proactive {
		t.Fatalf("got %v, %v, want Proactive", req, ok)
	}
	// Without growth a proactive cycle is still due every five minutes.
	f.history.completed(warmupCycles+1, f.now, 10*time.Millisecond)
	f.d.Tick()
	if _, ok := f.tick(t, proactiveMaxWait); !ok {
		t.Fatal("no proactive cycle after five minutes")
	}
}

func TestProactiveDisabled(t *testing.T) {
	f := newFixture(Options{Proactive: false})
	f.warm(10 * time.Millisecond)
	f.d.Tick()
	if req, ok := f.tick(t, 10*time.Minute); ok {
		t.Fatalf("got %v with proactive cycles disabled", req)
	}
}

func TestDecisions(t *testing.T) {
	f := newFixture(Options{CollectionInterval: time.Second})
	f.tick(t, 0)
	f.tick(t, time.Second)
	f.tick(t, time.Second)
	got := f.d.Decisions()
	if len(got) != 1 || got[cause.Timer] != 2 {
		t.Errorf("Decisions() = %v, want 2 Timer", got)
	}
}

func TestStartStop(t *testing.T) {
	heap := &fakeHeap{softMax: 100 * mb}
	coll := &fakeCollector{}
	d := New(Options{Interval: time.Millisecond, CollectionInterval: time.Millisecond}, heap, coll, &fakeHistory{}, zap.NewNop())
	d.Start()
	deadline := time.Now().Add(10 * time.Second)
	for coll.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("director sent no request")
		}
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	d.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	d := New(Options{}, &fakeHeap{}, &fakeCollector{}, &fakeHistory{}, zap.NewNop())
	d.Stop()
}
