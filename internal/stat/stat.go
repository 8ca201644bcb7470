// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stat records how long each collector phase takes.
//
// Every phase has a time histogram, which is safe to update from any
// goroutine, and a running summary. Summaries report quantiles computed
// from the histogram, so they are accurate to within the histogram's
// bucket error.
package stat

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/google/pprof/profile"
)

// Kind classifies a phase.
type Kind uint8

const (
	Pause Kind = iota
	Concurrent
	Cycle
)

func (k Kind) String() string {
	switch k {
	case Pause:
		return "Pause"
	case Concurrent:
		return "Concurrent"
	case Cycle:
		return "Cycle"
	}
	return "Unknown"
}

// Summary describes the recorded durations of one phase.
type Summary struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	Count  uint          `json:"count"`
	Total  time.Duration `json:"total"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

type phase struct {
	name string
	kind Kind
	hist TimeHistogram

	mu     sync.Mutex
	stream stats.StreamStats
}

// Recorder collects phase durations.
type Recorder struct {
	mu     sync.Mutex
	phases map[string]*phase
	order  []string
	start  time.Time
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{phases: make(map[string]*phase), start: time.Now()}
}

func (r *Recorder) phase(kind Kind, name string) *phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.phases[name]
	if !ok {
		p = &phase{name: name, kind: kind}
		r.phases[name] = p
		r.order = append(r.order, name)
	}
	return p
}

// Record adds one occurrence of the named phase that took d.
func (r *Recorder) Record(kind Kind, name string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	p := r.phase(kind, name)
	p.hist.Record(d)
	p.mu.Lock()
	p.stream.Add(float64(d))
	p.mu.Unlock()
}

// Histogram returns the histogram of the named phase, or nil.
func (r *Recorder) Histogram(name string) *TimeHistogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.phases[name]; ok {
		return &p.hist
	}
	return nil
}

// Summary returns the summary of the named phase. ok is false if the
// phase was never recorded.
func (r *Recorder) Summary(name string) (s Summary, ok bool) {
	r.mu.Lock()
	p, ok := r.phases[name]
	r.mu.Unlock()
	if !ok {
		return Summary{}, false
	}
	return p.summary(), true
}

// Summaries returns the summaries of all phases in first-recorded order.
func (r *Recorder) Summaries() []Summary {
	r.mu.Lock()
	ps := make([]*phase, 0, len(r.order))
	for _, name := range r.order {
		ps = append(ps, r.phases[name])
	}
	r.mu.Unlock()

	out := make([]Summary, len(ps))
	for i, p := range ps {
		out[i] = p.summary()
	}
	return out
}

func (p *phase) summary() Summary {
	p.mu.Lock()
	st := p.stream
	p.mu.Unlock()

	s := Summary{Name: p.name, Kind: p.kind.String(), Count: st.Count}
	if st.Count == 0 {
		return s
	}
	s.Total = time.Duration(st.Total)
	s.Mean = time.Duration(st.Mean())
	if st.Count > 1 {
		s.StdDev = time.Duration(st.StdDev())
	}
	s.Min = time.Duration(st.Min)
	s.Max = time.Duration(st.Max)
	s.P50 = quantile(&p.hist, 0.50, s.Max)
	s.P95 = quantile(&p.hist, 0.95, s.Max)
	s.P99 = quantile(&p.hist, 0.99, s.Max)
	return s
}

func quantile(h *TimeHistogram, q float64, limit time.Duration) time.Duration {
	v := stats.HistogramQuantile(h, q)
	if math.IsNaN(v) {
		return limit
	}
	return min(time.Duration(v), limit)
}

// Profile returns the recorded phase time as a pprof profile. Each phase
// is one sample whose stack is the phase under its kind under "GC".
func (r *Recorder) Profile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		DefaultSampleType: "time",
		PeriodType:        &profile.ValueType{Type: "time", Unit: "nanoseconds"},
		Period:            1,
		TimeNanos:         r.start.UnixNano(),
		DurationNanos:     time.Since(r.start).Nanoseconds(),
	}

	locs := make(map[string]*profile.Location)
	location := func(name string) *profile.Location {
		if loc, ok := locs[name]; ok {
			return loc
		}
		fn := &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       name,
			SystemName: name,
		}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:   uint64(len(p.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		locs[name] = loc
		return loc
	}

	for _, s := range r.Summaries() {
		if s.Count == 0 {
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{location(s.Name), location(s.Kind), location("GC")},
			Value:    []int64{int64(s.Count), int64(s.Total)},
			Label:    map[string][]string{"kind": {s.Kind}},
		})
	}
	return p
}

// WriteProfile writes the phase profile to w in gzipped protobuf form.
func (r *Recorder) WriteProfile(w io.Writer) error {
	return r.Profile().Write(w)
}
