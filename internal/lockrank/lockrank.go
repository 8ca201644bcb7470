// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lockrank implements static lock ranking for the collector's
// locks. If a lock is given a rank, it may only be acquired while every
// lock held by the same goroutine has a strictly lower rank. Leaf locks
// (LeafRank) may not be held while acquiring any other ranked lock.
//
// Ranking is only checked when a lock is bound to a Checker. An unbound
// Mutex behaves exactly like a sync.Mutex. A Checker also records every
// observed "held A while acquiring B" pair into a Graph; cycles in that
// graph indicate potential deadlocks even when no ordering violation was
// observed in a single run.
package lockrank

import (
	"fmt"
	"sync"
)

// Rank is the static rank of a lock class.
type Rank int

// Ranks of the collector's lock classes, in acquisition order.
const (
	RankDummy      Rank = 0
	RankHeap       Rank = 10
	RankWorld      Rank = 20
	RankLocker     Rank = 25
	RankPages      Rank = 28
	RankMonitoring Rank = 30
	RankStatInfo   Rank = 40

	// LeafRank is the rank of locks that never have another ranked
	// lock acquired while they are held: the message ports, the
	// breakpoint monitor, the stall queue.
	LeafRank Rank = 1000
)

var rankNames = map[Rank]string{
	RankDummy:      "",
	RankHeap:       "heap",
	RankWorld:      "world",
	RankLocker:     "gcLocker",
	RankPages:      "pageAllocator",
	RankMonitoring: "monitoring",
	RankStatInfo:   "gcStatInfo",
	LeafRank:       "leaf",
}

func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rank%d", int(r))
}

// Checker validates lock acquisition order across goroutines and
// accumulates the lock-order graph.
type Checker struct {
	mu    sync.Mutex
	held  map[int64][]Rank // goroutine ID -> held ranks in acquisition order
	graph *Graph
}

// NewChecker returns a Checker with an empty lock-order graph.
func NewChecker() *Checker {
	return &Checker{held: make(map[int64][]Rank), graph: newGraph()}
}

// Graph returns a copy of the lock-order graph observed so far.
func (c *Checker) Graph() *Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.clone()
}

// acquire records that the current goroutine is about to acquire a lock
// of rank r. It panics if that would violate the ranking.
func (c *Checker) acquire(r Rank) {
	id := goid()
	c.mu.Lock()
	held := c.held[id]
	if n := len(held); n > 0 {
		prev := held[n-1]
		c.graph.addEdge(prev.String(), r.String())
		if prev >= r {
			stack := append([]Rank(nil), held...)
			c.mu.Unlock()
			panic(fmt.Sprintf("lock ordering problem: acquiring %v (rank %d) while holding %v", r, int(r), stack))
		}
	} else {
		c.graph.addNode(r.String())
	}
	c.held[id] = append(held, r)
	c.mu.Unlock()
}

// release records that the current goroutine released a lock of rank r.
// Locks may be released in any order.
func (c *Checker) release(r Rank) {
	id := goid()
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.held[id]
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == r {
			held = append(held[:i], held[i+1:]...)
			if len(held) == 0 {
				delete(c.held, id)
			} else {
				c.held[id] = held
			}
			return
		}
	}
	panic(fmt.Sprintf("lock ordering problem: releasing %v which is not held", r))
}

// Mutex is a mutual exclusion lock with a static rank. The zero value is
// an unranked, unchecked mutex.
type Mutex struct {
	mu      sync.Mutex
	rank    Rank
	checker *Checker
}

// Init sets the rank of m and binds it to c. c may be nil, which
// disables checking. Init must be called before m is first used.
func (m *Mutex) Init(c *Checker, r Rank) {
	m.checker = c
	m.rank = r
}

func (m *Mutex) Lock() {
	if m.checker != nil {
		m.checker.acquire(m.rank)
	}
	m.mu.Lock()
}

func (m *Mutex) Unlock() {
	m.mu.Unlock()
	if m.checker != nil {
		m.checker.release(m.rank)
	}
}

// RWMutex is a reader/writer lock with a static rank. Readers and the
// writer are ranked identically.
type RWMutex struct {
	mu      sync.RWMutex
	rank    Rank
	checker *Checker
}

// Init sets the rank of m and binds it to c. c may be nil.
func (m *RWMutex) Init(c *Checker, r Rank) {
	m.checker = c
	m.rank = r
}

func (m *RWMutex) Lock() {
	if m.checker != nil {
		m.checker.acquire(m.rank)
	}
	m.mu.Lock()
}

func (m *RWMutex) Unlock() {
	m.mu.Unlock()
	if m.checker != nil {
		m.checker.release(m.rank)
	}
}

func (m *RWMutex) RLock() {
	if m.checker != nil {
		m.checker.acquire(m.rank)
	}
	m.mu.RLock()
}

func (m *RWMutex) RUnlock() {
	m.mu.RUnlock()
	if m.checker != nil {
		m.checker.release(m.rank)
	}
}
