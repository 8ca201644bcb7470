// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stat

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/google/pprof/profile"
)

var _ stats.Histogram = (*TimeHistogram)(nil)

func (h *TimeHistogram) index(d time.Duration) int {
	_, counts, _ := h.Counts()
	for i, c := range counts {
		if c != 0 {
			return i
		}
	}
	return -1
}

func TestTimeHistogramBuckets(t *testing.T) {
	for _, d := range []time.Duration{
		0, 1, 15, 16, 17, 31, 32, 100, 1023, 1024,
		time.Microsecond, time.Millisecond, 17 * time.Millisecond,
		time.Second, time.Hour,
	} {
		var h TimeHistogram
		h.Record(d)
		i := h.index(d)
		if i < 0 {
			t.Fatalf("%v: not recorded", d)
		}
		lo, hi := h.BinToValue(float64(i)), h.BinToValue(float64(i+1))
		if float64(d) < lo || float64(d) >= hi {
			t.Errorf("%v recorded in bin %d = [%v, %v)", d, i, lo, hi)
		}
		// The relative error is bounded by one sub-bucket.
		if d >= timeHistNumSubBuckets && (hi-lo)/lo > 1.0/timeHistNumSubBuckets+1e-9 {
			t.Errorf("%v: bin %d too wide: [%v, %v)", d, i, lo, hi)
		}
	}
}

func TestTimeHistogramOverflow(t *testing.T) {
	var h TimeHistogram
	h.Record(time.Duration(math.MaxInt64))
	under, _, over := h.Counts()
	if under != 0 || over != 1 {
		t.Fatalf("under=%d over=%d, want 0 and 1", under, over)
	}
	if h.Total() != 1 {
		t.Fatalf("total = %d, want 1", h.Total())
	}
}

func TestTimeHistogramNegative(t *testing.T) {
	var h TimeHistogram
	defer func() {
		if recover() == nil {
			t.Fatalf("negative duration did not panic")
		}
	}()
	h.Record(-1)
}

func TestTimeHistogramConcurrent(t *testing.T) {
	var h TimeHistogram
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.Record(time.Duration(i) * time.Microsecond)
			}
		}()
	}
	wg.Wait()
	if got := h.Total(); got != 8000 {
		t.Fatalf("total = %d, want 8000", got)
	}
}

func TestSummary(t *testing.T) {
	r := NewRecorder()
	if _, ok := r.Summary("Pause Mark Start"); ok {
		t.Fatalf("summary of an unrecorded phase")
	}
	for i := 1; i <= 100; i++ {
		r.Record(Pause, "Pause Mark Start", time.Duration(i)*time.Millisecond)
	}
	s, ok := r.Summary("Pause Mark Start")
	if !ok {
		t.Fatalf("no summary")
	}
	if s.Count != 100 || s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Fatalf("count=%d min=%v max=%v", s.Count, s.Min, s.Max)
	}
	if s.Total != 5050*time.Millisecond {
		t.Errorf("total = %v, want 5.05s", s.Total)
	}
	if d := s.Mean - 50500*time.Microsecond; d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("mean = %v, want 50.5ms", s.Mean)
	}
	// Quantiles come from the histogram and are within one bucket.
	within := func(name string, got, want time.Duration) {
		t.Helper()
		if diff := math.Abs(float64(got - want)); diff > float64(want)/timeHistNumSubBuckets*2 {
			t.Errorf("%s = %v, want about %v", name, got, want)
		}
	}
	within("p50", s.P50, 50*time.Millisecond)
	within("p95", s.P95, 95*time.Millisecond)
	within("p99", s.P99, 99*time.Millisecond)
	if s.P99 > s.Max {
		t.Errorf("p99 %v above max %v", s.P99, s.Max)
	}
}

func TestSummariesOrder(t *testing.T) {
	r := NewRecorder()
	r.Record(Pause, "Pause Mark Start", time.Millisecond)
	r.Record(Concurrent, "Concurrent Mark", 5*time.Millisecond)
	r.Record(Pause, "Pause Mark Start", time.Millisecond)
	got := r.Summaries()
	if len(got) != 2 || got[0].Name != "Pause Mark Start" || got[1].Name != "Concurrent Mark" {
		t.Fatalf("summaries %+v", got)
	}
	if got[1].Kind != "Concurrent" || got[0].Count != 2 {
		t.Errorf("kind=%q count=%d", got[1].Kind, got[0].Count)
	}
	if r.Histogram("Concurrent Mark").Total() != 1 || r.Histogram("nope") != nil {
		t.Errorf("histogram lookup")
	}
}

func TestWriteProfile(t *testing.T) {
	r := NewRecorder()
	r.Record(Pause, "Pause Mark End", 2*time.Millisecond)
	r.Record(Pause, "Pause Mark End", 3*time.Millisecond)
	r.Record(Concurrent, "Concurrent Relocate", 10*time.Millisecond)

	var buf bytes.Buffer
	if err := r.WriteProfile(&buf); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Sample) != 2 {
		t.Fatalf("got %d samples, want 2", len(p.Sample))
	}
	want := map[string][2]int64{
		"Pause Mark End":      {2, int64(5 * time.Millisecond)},
		"Concurrent Relocate": {1, int64(10 * time.Millisecond)},
	}
	for _, s := range p.Sample {
		leaf := s.Location[0].Line[0].Function.Name
		root := s.Location[len(s.Location)-1].Line[0].Function.Name
		if root != "GC" {
			t.Errorf("%s: root frame %q, want GC", leaf, root)
		}
		w, ok := want[leaf]
		if !ok {
			t.Errorf("unexpected sample %q", leaf)
			continue
		}
		if s.Value[0] != w[0] || s.Value[1] != w[1] {
			t.Errorf("%s: values %v, want %v", leaf, s.Value, w)
		}
	}
}
