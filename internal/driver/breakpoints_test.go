// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"testing"
	"time"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
)

func (e *events) has(s string) bool { return e.count(s) > 0 }

func TestRunToBreakpoints(t *testing.T) {
	f := newFixture(t, Options{ConcGCThreads: 1})
	bp := f.d.Breakpoints()
	bp.AcquireControl()
	defer bp.ReleaseControl()

	for _, tc := range []struct {
		name     string
		phase    Phase
		ran, not string
	}{
		{AfterMarkingStarted, Mark, "exec Pause Mark Start", "mark initial=true"},
		{BeforeMarkingCompleted, Mark, "mark initial=true", "exec Pause Mark End"},
		{AfterReferenceProcessingStarted, ProcessNonStrongReferences, "markFree", "references clearSoft=false"},
	} {
		if !bp.RunTo(tc.name) {
			t.Fatalf("RunTo(%q) did not reach the breakpoint", tc.name)
		}
		if !bp.Stopped() {
			t.Fatalf("not stopped at %q", tc.name)
		}
		if got := f.d.Phase(); got != tc.phase {
			t.Errorf("at %q: phase = %v, want %v", tc.name, got, tc.phase)
		}
		if !f.ev.has(tc.ran) || f.ev.has(tc.not) {
			t.Errorf("at %q: events %q", tc.name, f.ev.all())
		}
	}

	bp.RunToIdle()
	if _, completed := f.d.Cycles(); completed != 1 {
		t.Errorf("completed = %d after RunToIdle, want 1", completed)
	}
	if started, _ := f.d.Cycles(); started != 1 {
		t.Errorf("started = %d, want 1", started)
	}
}

func TestRunToPassedBreakpoint(t *testing.T) {
	f := newFixture(t, Options{ConcGCThreads: 1})
	bp := f.d.Breakpoints()
	bp.AcquireControl()
	defer bp.ReleaseControl()

	if !bp.RunTo(BeforeMarkingCompleted) {
		t.Fatalf("did not reach %q", BeforeMarkingCompleted)
	}
	// Already passed in this cycle: the cycle runs to completion.
	if bp.RunTo(AfterMarkingStarted) {
		t.Fatalf("reached %q after it was passed", AfterMarkingStarted)
	}
	if _, completed := f.d.Cycles(); completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
}

func TestControlHoldsCycles(t *testing.T) {
	f := newFixture(t, Options{ConcGCThreads: 1})
	bp := f.d.Breakpoints()
	bp.AcquireControl()

	f.d.Collect(Request{Cause: cause.Timer})
	time.Sleep(20 * time.Millisecond)
	if started, _ := f.d.Cycles(); started != 0 {
		t.Fatalf("cycle started while under breakpoint control")
	}

	bp.ReleaseControl()
	f.waitCompleted(t, 1)
}

func TestStopReleasesBreakpoint(t *testing.T) {
	f := newFixture(t, Options{ConcGCThreads: 1})
	bp := f.d.Breakpoints()
	bp.AcquireControl()
	if !bp.RunTo(AfterMarkingStarted) {
		t.Fatalf("did not reach %q", AfterMarkingStarted)
	}

	done := make(chan struct{})
	go func() {
		f.d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Stop blocked on a breakpoint")
	}
	if f.ev.has("exec Pause Mark End") {
		t.Errorf("cycle continued after Stop")
	}
}

func TestBreakpointsWithoutControl(t *testing.T) {
	f := newFixture(t, Options{ConcGCThreads: 1})
	bp := f.d.Breakpoints()
	for _, fn := range []func(){bp.RunToIdle, func() { bp.RunTo(AfterMarkingStarted) }} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("breakpoint call without control did not panic")
				}
			}()
			fn()
		}()
	}
}
