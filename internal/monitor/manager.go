// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"time"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// GCStatInfo describes one collection counted by a Manager.
type GCStatInfo struct {
	Index  uint64        `json:"index"`
	Cause  string        `json:"cause"`
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Before []MemoryUsage `json:"before,omitempty"`
	After  []MemoryUsage `json:"after,omitempty"`
}

func (s *GCStatInfo) clear() {
	*s = GCStatInfo{Before: s.Before[:0], After: s.After[:0]}
}

// Manager counts the collections of one kind. Collection i is written
// into the current stat record by the single collector goroutine between
// GCBegin and GCEnd; GCEnd publishes it by swapping it with the last
// record under mu, so readers never see a partially written record.
type Manager struct {
	name  string
	pools []*Pool
	// recordUsage enables the before and after usage of the pools.
	recordUsage bool

	// Written only by the collector goroutine.
	current *GCStatInfo
	begin   time.Time

	mu          lockrank.Mutex // RankStatInfo
	last        *GCStatInfo
	count       uint64
	accumulated time.Duration
}

func newManager(name string, pools []*Pool, recordUsage bool, c *lockrank.Checker) *Manager {
	m := &Manager{
		name:        name,
		pools:       pools,
		recordUsage: recordUsage,
		current:     new(GCStatInfo),
		last:        new(GCStatInfo),
	}
	m.mu.Init(c, lockrank.RankStatInfo)
	return m
}

func (m *Manager) Name() string { return m.name }

// Pools returns the pools this manager collects.
func (m *Manager) Pools() []*Pool { return m.pools }

// PoolNames returns the names of the manager's pools.
func (m *Manager) PoolNames() []string {
	names := make([]string, len(m.pools))
	for i, p := range m.pools {
		names[i] = p.Name()
	}
	return names
}

// GCBegin starts a collection at now.
func (m *Manager) GCBegin(now time.Time) {
	m.begin = now
	m.mu.Lock()
	index := m.count + 1
	m.mu.Unlock()

	m.current.Index = index
	m.current.Start = now
	if m.recordUsage {
		for _, p := range m.pools {
			m.current.Before = append(m.current.Before, p.Usage())
		}
	}
}

// GCEnd ends the collection started by the last GCBegin, counts it and
// publishes its stat record.
func (m *Manager) GCEnd(now time.Time, c cause.Cause) {
	m.current.End = now
	m.current.Cause = c.String()
	if m.recordUsage {
		for _, p := range m.pools {
			u := p.Usage()
			m.current.After = append(m.current.After, u)
			p.setCollectionUsage(u)
		}
	}

	m.mu.Lock()
	m.accumulated += now.Sub(m.begin)
	m.count++
	m.current, m.last = m.last, m.current
	m.mu.Unlock()

	m.current.clear()
}

// GCAbandon drops the collection started by the last GCBegin without
// counting or publishing it.
func (m *Manager) GCAbandon() {
	m.current.clear()
}

// CollectionCount returns the number of collections ended so far.
func (m *Manager) CollectionCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// CollectionTime returns the accumulated duration of all collections.
func (m *Manager) CollectionTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accumulated
}

// LastGCStat returns a copy of the last published stat record. ok is
// false if no collection ended yet.
func (m *Manager) LastGCStat() (info GCStatInfo, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return GCStatInfo{}, false
	}
	info = *m.last
	info.Before = append([]MemoryUsage(nil), m.last.Before...)
	info.After = append([]MemoryUsage(nil), m.last.After...)
	return info, true
}
