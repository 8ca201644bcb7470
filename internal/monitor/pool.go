// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// Pool is a memory pool: one space of the heap as seen by monitoring
// consumers. Besides the current usage it tracks the peak usage, the
// usage after the last collection and two low-memory thresholds.
type Pool struct {
	id  PoolID
	acc *HeapAccounting
	log *zap.Logger

	mu lockrank.Mutex // RankStatInfo

	peak            MemoryUsage
	collectionUsage MemoryUsage

	usage      threshold
	collection threshold
}

// threshold counts how often usage crossed a limit from below. A zero
// limit disables the threshold.
type threshold struct {
	limit    uint64
	exceeded bool
	count    uint64
}

func (t *threshold) check(used uint64) (crossed bool) {
	if t.limit == 0 {
		return false
	}
	if used < t.limit {
		t.exceeded = false
		return false
	}
	if t.exceeded {
		return false
	}
	t.exceeded = true
	t.count++
	return true
}

func newPool(id PoolID, acc *HeapAccounting, log *zap.Logger, c *lockrank.Checker) *Pool {
	p := &Pool{id: id, acc: acc, log: log}
	p.mu.Init(c, lockrank.RankStatInfo)
	return p
}

func (p *Pool) Name() string { return p.id.String() }

func (p *Pool) ID() PoolID { return p.id }

// Usage returns the pool's current usage and records it into the peak
// usage and the usage threshold.
func (p *Pool) Usage() MemoryUsage {
	u := p.acc.Snapshot(p.id)
	p.mu.Lock()
	p.peak = peak(p.peak, u)
	crossed := p.usage.check(u.Used)
	limit := p.usage.limit
	p.mu.Unlock()
	if crossed {
		p.log.Warn("memory pool usage threshold exceeded",
			zap.String("pool", p.Name()), zap.Uint64("used", u.Used), zap.Uint64("threshold", limit))
	}
	return u
}

// PeakUsage returns the peak usage since creation or the last
// ResetPeakUsage.
func (p *Pool) PeakUsage() MemoryUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// ResetPeakUsage resets the peak usage to the current usage.
func (p *Pool) ResetPeakUsage() {
	u := p.acc.Snapshot(p.id)
	p.mu.Lock()
	p.peak = u
	p.mu.Unlock()
}

// CollectionUsage returns the usage right after the last collection.
func (p *Pool) CollectionUsage() MemoryUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collectionUsage
}

// SetUsageThreshold sets the usage threshold in bytes; 0 disables it.
func (p *Pool) SetUsageThreshold(n uint64) {
	p.mu.Lock()
	p.usage = threshold{limit: n}
	p.mu.Unlock()
}

// UsageThresholdCount returns how many times usage crossed the usage
// threshold.
func (p *Pool) UsageThresholdCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage.count
}

// SetCollectionUsageThreshold sets the threshold checked against the
// usage after each collection; 0 disables it.
func (p *Pool) SetCollectionUsageThreshold(n uint64) {
	p.mu.Lock()
	p.collection = threshold{limit: n}
	p.mu.Unlock()
}

// CollectionUsageThresholdCount returns how many collections left the
// pool above the collection usage threshold after it was below.
func (p *Pool) CollectionUsageThresholdCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collection.count
}

// setCollectionUsage records the usage after a collection.
func (p *Pool) setCollectionUsage(u MemoryUsage) {
	p.mu.Lock()
	p.collectionUsage = u
	p.peak = peak(p.peak, u)
	crossed := p.collection.check(u.Used)
	limit := p.collection.limit
	p.mu.Unlock()
	if crossed {
		p.log.Warn("memory pool collection usage threshold exceeded",
			zap.String("pool", p.Name()), zap.Uint64("used", u.Used), zap.Uint64("threshold", limit))
	}
}
