// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/heap"
)

// allocator is the mutator interface the workload drives.
type allocator interface {
	Alloc(ctx context.Context, size uint64, ref heap.Ref) (heap.Handle, error)
	Drop(id heap.Handle)
	Critical(fn func())
}

type mutatorSource interface {
	NewMutator() *heap.Mutator
}

// workload is a synthetic allocation pattern: every mutator allocates
// fixed-size objects as fast as it can and keeps the most recent ones
// alive.
type workload struct {
	Mutators         int
	ObjectSize       uint64
	LivePerMutator   uint64
	SoftFraction     float64
	WeakFraction     float64
	CriticalFraction float64
}

func defaultWorkload() *workload {
	return &workload{
		Mutators:         4,
		ObjectSize:       64 << 10,
		LivePerMutator:   1 << 20,
		SoftFraction:     0.1,
		WeakFraction:     0.1,
		CriticalFraction: 0.01,
	}
}

type workloadResult struct {
	Allocations uint64
	Bytes       uint64
	OutOfMemory uint64
	Critical    uint64
	MaxLatency  time.Duration
	Elapsed     time.Duration
}

// run drives the workload until ctx is done or the heap is closed.
func (w *workload) run(ctx context.Context, z mutatorSource, log *zap.Logger) *workloadResult {
	var (
		allocs, bytes, ooms, crit atomic.Uint64
		maxLat                    atomic.Int64
		wg                        sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < w.Mutators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(start.UnixNano()), uint64(i)))
			st := w.mutate(ctx, z.NewMutator(), rng)
			allocs.Add(st.Allocations)
			bytes.Add(st.Bytes)
			ooms.Add(st.OutOfMemory)
			crit.Add(st.Critical)
			for {
				cur := maxLat.Load()
				if int64(st.MaxLatency) <= cur || maxLat.CompareAndSwap(cur, int64(st.MaxLatency)) {
					break
				}
			}
		}()
	}
	wg.Wait()
	res := &workloadResult{
		Allocations: allocs.Load(),
		Bytes:       bytes.Load(),
		OutOfMemory: ooms.Load(),
		Critical:    crit.Load(),
		MaxLatency:  time.Duration(maxLat.Load()),
		Elapsed:     time.Since(start),
	}
	log.Info("workload finished",
		zap.Uint64("allocations", res.Allocations),
		zap.Uint64("outOfMemory", res.OutOfMemory),
		zap.Duration("maxLatency", res.MaxLatency))
	return res
}

// mutate is one mutator's loop.
func (w *workload) mutate(ctx context.Context, m allocator, rng *rand.Rand) workloadResult {
	var st workloadResult
	live := make([]heap.Handle, max(w.LivePerMutator/max(w.ObjectSize, 1), 1))
	for next := 0; ctx.Err() == nil; next = (next + 1) % len(live) {
		ref := heap.Strong
		switch p := rng.Float64(); {
		case p < w.WeakFraction:
			ref = heap.Weak
		case p < w.WeakFraction+w.SoftFraction:
			ref = heap.Soft
		}
		t0 := time.Now()
		id, err := m.Alloc(ctx, w.ObjectSize, ref)
		st.MaxLatency = max(st.MaxLatency, time.Since(t0))
		switch {
		case errors.Is(err, heap.ErrOutOfMemory):
			// Give up half of the live set and carry on.
			st.OutOfMemory++
			for i := 0; i < len(live); i += 2 {
				if live[i] != 0 {
					m.Drop(live[i])
					live[i] = 0
				}
			}
			continue
		case err != nil:
			return st
		}
		st.Allocations++
		st.Bytes += w.ObjectSize
		if old := live[next]; old != 0 {
			m.Drop(old)
		}
		live[next] = id
		if rng.Float64() < w.CriticalFraction {
			m.Critical(runtime.Gosched)
			st.Critical++
		}
	}
	return st
}
