// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

const mb = 1 << 20

type fakeSizes struct {
	mu sync.Mutex
	s  HeapSizes
}

func (f *fakeSizes) Sizes() HeapSizes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSizes) set(s HeapSizes) {
	f.mu.Lock()
	f.s = s
	f.mu.Unlock()
}

func baseSizes() HeapSizes {
	return HeapSizes{
		RegionSize:      mb,
		Capacity:        64 * mb,
		InitialCapacity: 64 * mb,
		MaxCapacity:     256 * mb,
		YoungMaxRegions: 16,
	}
}

func newTestService(t *testing.T, src SizeSource) *Service {
	t.Helper()
	c := lockrank.NewChecker()
	return NewService(NewHeapAccounting(src, c), zaptest.NewLogger(t), c)
}

func TestPadCapacity(t *testing.T) {
	for _, tt := range []struct {
		size, mult, want uint64
	}{
		{0, 1, 8},
		{0, 3, 24},
		{mb, 1, mb + 8},
		{mb, 0, mb},
	} {
		if got := PadCapacity(tt.size, tt.mult); got != tt.want {
			t.Errorf("PadCapacity(%d, %d) = %d, want %d", tt.size, tt.mult, got, tt.want)
		}
	}
}

func TestNewMemoryUsageClamps(t *testing.T) {
	u := NewMemoryUsage(1, 100, 50, 40)
	if u.Committed != 40 || u.Used != 40 {
		t.Fatalf("got %v, want used=40 committed=40", u)
	}
	if !u.Valid() {
		t.Fatalf("%v is not valid", u)
	}
}

func TestRecalculate(t *testing.T) {
	s := baseSizes()
	s.Used = 20 * mb
	s.EdenUsed = 5 * mb
	s.SurvivorUsed = 3*mb + 100
	s.SurvivorRegions = 4
	src := &fakeSizes{s: s}
	acc := NewHeapAccounting(src, nil)

	eden := acc.Snapshot(Eden)
	surv := acc.Snapshot(Survivor)
	old := acc.Snapshot(Old)

	// old used = 20M - (5M + 3M+100); committed aligned up to regions.
	if want := uint64(12*mb - 100); old.Used != want {
		t.Errorf("old used = %d, want %d", old.Used, want)
	}
	if want := PadCapacity(4*mb, 1); surv.Committed != want {
		t.Errorf("survivor committed = %d, want %d", surv.Committed, want)
	}
	// Eden gets (16-4) regions, old gets the rest of the capacity.
	if want := PadCapacity(12*mb, 1); eden.Committed != want {
		t.Errorf("eden committed = %d, want %d", eden.Committed, want)
	}
	if want := PadCapacity(64*mb-4*mb-12*mb, 1); old.Committed != want {
		t.Errorf("old committed = %d, want %d", old.Committed, want)
	}
	if old.Max != 256*mb || eden.Max != Undefined {
		t.Errorf("max sizes old=%d eden=%d", old.Max, eden.Max)
	}
	if got := acc.Young().Committed; got != PadCapacity(16*mb, 3) {
		t.Errorf("young committed = %d, want %d", got, PadCapacity(16*mb, 3))
	}
}

func TestUpdateEdenSizeOnlyTouchesEden(t *testing.T) {
	s := baseSizes()
	s.Used = 10 * mb
	s.EdenUsed = 2 * mb
	src := &fakeSizes{s: s}
	acc := NewHeapAccounting(src, nil)
	oldBefore := acc.Snapshot(Old)

	s.Used = 30 * mb
	s.EdenUsed = 6 * mb
	src.set(s)
	acc.UpdateEdenSize()

	if got := acc.Snapshot(Eden).Used; got != 6*mb {
		t.Errorf("eden used = %d, want %d", got, 6*mb)
	}
	if got := acc.Snapshot(Old); got != oldBefore {
		t.Errorf("old changed by eden update: %v, was %v", got, oldBefore)
	}
	if got := acc.Recalculations(); got != 1 {
		t.Errorf("recalculations = %d, want 1", got)
	}
}

// TestSnapshotInvariant checks that every snapshot satisfies
// used <= committed <= max and that padded pools never report zero
// capacity, for arbitrary and mutually inconsistent counters.
func TestSnapshotInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	src := &fakeSizes{s: baseSizes()}
	acc := NewHeapAccounting(src, nil)

	for i := 0; i < 10000; i++ {
		s := HeapSizes{
			RegionSize:      uint64(1+r.Intn(4)) * mb,
			MaxCapacity:     uint64(r.Intn(512)) * mb,
			YoungMaxRegions: uint64(r.Intn(64)),
			SurvivorRegions: uint64(r.Intn(64)),
		}
		s.Capacity = uint64(r.Int63n(int64(s.MaxCapacity) + 1))
		s.InitialCapacity = s.Capacity
		s.Used = uint64(r.Int63n(int64(s.Capacity)*2 + 1))
		s.EdenUsed = uint64(r.Int63n(int64(s.Used) + mb))
		s.SurvivorUsed = uint64(r.Int63n(int64(s.Used) + mb))
		src.set(s)
		if r.Intn(4) == 0 {
			acc.UpdateEdenSize()
		} else {
			acc.Recalculate()
		}

		for id := PoolID(0); id < numPools; id++ {
			u := acc.Snapshot(id)
			if !u.Valid() {
				t.Fatalf("iteration %d: %v usage %v violates used <= committed <= max", i, id, u)
			}
			if u.Max >= PadCapacity(0, 1) && u.Committed < PadCapacity(0, 1) {
				t.Fatalf("iteration %d: %v committed %d below padding", i, id, u.Committed)
			}
		}
		if y := acc.Young(); !y.Valid() || y.Committed < PadCapacity(0, 3) {
			t.Fatalf("iteration %d: young usage %v", i, y)
		}
		if o := acc.Overall(); !o.Valid() {
			t.Fatalf("iteration %d: overall usage %v", i, o)
		}
	}
}

func TestManagerCountsCycles(t *testing.T) {
	s := baseSizes()
	s.Used = 40 * mb
	s.EdenUsed = 10 * mb
	src := &fakeSizes{s: s}
	svc := newTestService(t, src)

	tick := time.Unix(1000, 0)
	svc.now = func() time.Time {
		tick = tick.Add(10 * time.Millisecond)
		return tick
	}

	if _, ok := svc.Manager(CyclesManager).LastGCStat(); ok {
		t.Fatalf("stat published before the first collection")
	}

	tr := svc.TraceCycle(cause.ExplicitFull)
	s.Used = 8 * mb
	s.EdenUsed = 0
	src.set(s)
	if d := tr.End(); d != 10*time.Millisecond {
		t.Errorf("cycle duration %v, want 10ms", d)
	}

	m := svc.Manager(CyclesManager)
	if got := m.CollectionCount(); got != 1 {
		t.Fatalf("collection count = %d, want 1", got)
	}
	if got := m.CollectionTime(); got != 10*time.Millisecond {
		t.Errorf("collection time = %v, want 10ms", got)
	}
	info, ok := m.LastGCStat()
	if !ok {
		t.Fatalf("no stat after a collection")
	}
	if info.Index != 1 || info.Cause != cause.ExplicitFull.String() {
		t.Errorf("stat index=%d cause=%q", info.Index, info.Cause)
	}
	if len(info.Before) != 3 || len(info.After) != 3 {
		t.Fatalf("stat has %d before and %d after usages, want 3 each", len(info.Before), len(info.After))
	}
	if info.Before[Eden].Used != 10*mb || info.After[Eden].Used != 0 {
		t.Errorf("eden before=%d after=%d, want %d and 0", info.Before[Eden].Used, info.After[Eden].Used, 10*mb)
	}
	if got := svc.Pool("Eden Space").CollectionUsage().Used; got != 0 {
		t.Errorf("eden collection usage = %d, want 0", got)
	}
	if got := svc.Pool("Eden Space").PeakUsage().Used; got != 10*mb {
		t.Errorf("eden peak = %d, want %d", got, 10*mb)
	}

	// The next cycle publishes a fresh record; the returned copy of the
	// previous one is unaffected.
	svc.TraceCycle(cause.Timer).End()
	next, _ := m.LastGCStat()
	if next.Index != 2 || next.Cause != cause.Timer.String() {
		t.Errorf("second stat index=%d cause=%q", next.Index, next.Cause)
	}
	if info.Index != 1 || len(info.After) != 3 {
		t.Errorf("earlier copy changed: %+v", info)
	}
}

func TestAbandonedCycleNotCounted(t *testing.T) {
	svc := newTestService(t, &fakeSizes{s: baseSizes()})
	acc := svc.Accounting()
	before := acc.Recalculations()
	m := svc.Manager(CyclesManager)

	svc.TraceCycle(cause.Timer).Abandon()
	if got := m.CollectionCount(); got != 0 {
		t.Errorf("collection count = %d, want 0", got)
	}
	if _, ok := m.LastGCStat(); ok {
		t.Errorf("abandoned cycle published a stat")
	}
	if got := acc.Recalculations(); got != before {
		t.Errorf("accounting recalculated %d times, want 0", got-before)
	}

	// The next completed cycle takes the index the abandoned one had and
	// carries only its own usages.
	svc.TraceCycle(cause.HighUsage).End()
	info, ok := m.LastGCStat()
	if !ok || info.Index != 1 || info.Cause != cause.HighUsage.String() {
		t.Fatalf("stat after abandon: %+v, %v", info, ok)
	}
	if len(info.Before) != 3 || len(info.After) != 3 {
		t.Errorf("stat has %d before and %d after usages, want 3 each", len(info.Before), len(info.After))
	}
}

func TestPauseManagerDoesNotRecordUsage(t *testing.T) {
	svc := newTestService(t, &fakeSizes{s: baseSizes()})
	acc := svc.Accounting()
	before := acc.Recalculations()
	for i := 0; i < 3; i++ {
		svc.TracePause(cause.Warmup).End()
	}
	m := svc.Manager(PausesManager)
	if got := m.CollectionCount(); got != 3 {
		t.Fatalf("pause count = %d, want 3", got)
	}
	info, _ := m.LastGCStat()
	if len(info.Before) != 0 || len(info.After) != 0 {
		t.Errorf("pause manager recorded usage: %+v", info)
	}
	if acc.Recalculations() != before {
		t.Errorf("pause recalculated the accounting")
	}
}

func TestUsageThresholds(t *testing.T) {
	s := baseSizes()
	src := &fakeSizes{s: s}
	svc := newTestService(t, src)
	acc := svc.Accounting()
	old := svc.Pool("Old Gen")
	old.SetUsageThreshold(20 * mb)
	old.SetCollectionUsageThreshold(30 * mb)

	for _, used := range []uint64{10, 25, 26, 5, 21, 40} {
		s.Used = used * mb
		src.set(s)
		acc.Recalculate()
		old.Usage()
	}
	// Crossings at 25 and 21 (26 stays above, 40 stays above after 21).
	if got := old.UsageThresholdCount(); got != 2 {
		t.Errorf("usage threshold count = %d, want 2", got)
	}
	if got := old.PeakUsage().Used; got != 40*mb {
		t.Errorf("peak = %d, want %d", got, 40*mb)
	}

	svc.TraceCycle(cause.HighUsage).End()
	if got := old.CollectionUsageThresholdCount(); got != 1 {
		t.Errorf("collection usage threshold count = %d, want 1", got)
	}

	old.ResetPeakUsage()
	s.Used = 1 * mb
	src.set(s)
	acc.Recalculate()
	old.ResetPeakUsage()
	if got := old.PeakUsage().Used; got != 1*mb {
		t.Errorf("peak after reset = %d, want %d", got, mb)
	}
}

func TestServiceLookup(t *testing.T) {
	svc := newTestService(t, &fakeSizes{s: baseSizes()})
	if len(svc.Pools()) != 3 || len(svc.Managers()) != 2 {
		t.Fatalf("got %d pools and %d managers", len(svc.Pools()), len(svc.Managers()))
	}
	if svc.Pool("nope") != nil || svc.Manager("nope") != nil {
		t.Errorf("lookup of unknown names succeeded")
	}
	names := svc.Manager(CyclesManager).PoolNames()
	if len(names) != 3 || names[0] != "Eden Space" || names[2] != "Old Gen" {
		t.Errorf("pool names %v", names)
	}
}
