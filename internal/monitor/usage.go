// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor keeps the memory accounting exposed to monitoring
// consumers: per-pool usage recomputed from the collector's counters,
// the memory managers that count collections, and the service that ties
// pools and managers together.
package monitor

import (
	"fmt"
	"math"
)

// Undefined is the Max of a pool without a maximum size.
const Undefined = math.MaxUint64

// MemoryUsage is a snapshot of a pool's size in bytes.
type MemoryUsage struct {
	Init      uint64 `json:"init"`
	Used      uint64 `json:"used"`
	Committed uint64 `json:"committed"`
	Max       uint64 `json:"max"`
}

// NewMemoryUsage returns a usage clamped so that
// Used <= Committed <= Max. Counters are sampled without a common lock,
// so small inconsistencies between them are expected.
func NewMemoryUsage(init, used, committed, max uint64) MemoryUsage {
	committed = min(committed, max)
	used = min(used, committed)
	return MemoryUsage{Init: init, Used: used, Committed: committed, Max: max}
}

// Valid reports whether u satisfies the usage invariant.
func (u MemoryUsage) Valid() bool {
	return u.Used <= u.Committed && u.Committed <= u.Max
}

func (u MemoryUsage) String() string {
	limit := "undefined"
	if u.Max != Undefined {
		limit = fmt.Sprint(u.Max)
	}
	return fmt.Sprintf("init=%d used=%d committed=%d max=%s", u.Init, u.Used, u.Committed, limit)
}

// peak returns the larger of each field of u and v.
func peak(u, v MemoryUsage) MemoryUsage {
	return MemoryUsage{
		Init:      max(u.Init, v.Init),
		Used:      max(u.Used, v.Used),
		Committed: max(u.Committed, v.Committed),
		Max:       max(u.Max, v.Max),
	}
}
