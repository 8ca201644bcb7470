// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lockrank

import (
	"strings"
	"sync"
	"testing"
)

func TestOrderedAcquire(t *testing.T) {
	c := NewChecker()
	var heap, mon Mutex
	heap.Init(c, RankHeap)
	mon.Init(c, RankMonitoring)

	heap.Lock()
	mon.Lock()
	mon.Unlock()
	heap.Unlock()

	g := c.Graph()
	if !g.HasEdge("heap", "monitoring") {
		t.Fatalf("missing heap -> monitoring edge in %v", g.Labels)
	}
	if nodes, _ := Cycles(g); len(nodes) != 0 {
		t.Fatalf("unexpected cycle through %v", nodes)
	}
}

func TestRankViolation(t *testing.T) {
	c := NewChecker()
	var heap, mon Mutex
	heap.Init(c, RankHeap)
	mon.Init(c, RankMonitoring)

	mon.Lock()
	defer mon.Unlock()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("acquiring heap while holding monitoring did not panic")
		}
		if !strings.Contains(r.(string), "lock ordering problem") {
			t.Fatalf("unexpected panic %v", r)
		}
	}()
	heap.Lock()
}

func TestLeafHeldTwice(t *testing.T) {
	c := NewChecker()
	var a, b Mutex
	a.Init(c, LeafRank)
	b.Init(c, LeafRank)
	a.Lock()
	defer a.Unlock()
	defer func() {
		if recover() == nil {
			t.Fatalf("nested leaf locks did not panic")
		}
	}()
	b.Lock()
}

func TestPerGoroutine(t *testing.T) {
	// Holding monitoring on one goroutine must not constrain another.
	c := NewChecker()
	var heap, mon Mutex
	heap.Init(c, RankHeap)
	mon.Init(c, RankMonitoring)

	mon.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heap.Lock()
		heap.Unlock()
	}()
	wg.Wait()
	mon.Unlock()
}

func TestUnboundMutex(t *testing.T) {
	var m Mutex
	m.Lock()
	m.Unlock()
	var rw RWMutex
	rw.RLock()
	rw.RLock()
	rw.RUnlock()
	rw.RUnlock()
	rw.Lock()
	rw.Unlock()
}

func TestCyclesAndDot(t *testing.T) {
	g := newGraph()
	g.addEdge("a", "b")
	g.addEdge("b", "c")
	g.addEdge("c", "a")
	g.addEdge("c", "d")
	g.addEdge("c", "d")

	nodes, edges := Cycles(g)
	if len(nodes) != 3 {
		t.Fatalf("got cycle nodes %v, want a, b, c", nodes)
	}
	if len(edges) != 3 {
		t.Fatalf("got %d cycle edges, want 3", len(edges))
	}

	var sb strings.Builder
	if err := g.WriteDot(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "color=red") {
		t.Errorf("cycle edges not highlighted:\n%s", out)
	}
	if !strings.Contains(out, "[label=2]") {
		t.Errorf("repeated edge count missing:\n%s", out)
	}
}

func TestGoid(t *testing.T) {
	id := goid()
	if id <= 0 {
		t.Fatalf("goid() = %d", id)
	}
	ch := make(chan int64)
	go func() { ch <- goid() }()
	if other := <-ch; other == id {
		t.Fatalf("two goroutines share ID %d", id)
	}
}
