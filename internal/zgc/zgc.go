// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zgc assembles a collector from its configuration: the heap,
// its monitoring service, the safepoint thread, the cycle driver, the
// director and the debug server.
package zgc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/config"
	"github.com/SerenityOS/serenity-sub095/internal/debugserver"
	"github.com/SerenityOS/serenity-sub095/internal/director"
	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/heap"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
	"github.com/SerenityOS/serenity-sub095/internal/safepoint"
	"github.com/SerenityOS/serenity-sub095/internal/stat"
)

// Context is a collector and everything it runs on.
type Context struct {
	cfg   config.Config
	log   *zap.Logger
	locks *lockrank.Checker

	heapLock lockrank.Mutex
	heap     *heap.Heap
	service  *monitor.Service
	world    *safepoint.World
	locker   *safepoint.GCLocker
	thread   *safepoint.Thread
	driver   *driver.Driver
	director *director.Director
	debug    *debugserver.Server
}

// New returns a stopped collector configured by cfg.
func New(cfg config.Config, log *zap.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	z := &Context{cfg: cfg, log: log}
	if cfg.LockRank {
		z.locks = lockrank.NewChecker()
	}
	z.heapLock.Init(z.locks, lockrank.RankHeap)

	h, err := heap.New(heap.Config{
		RegionSize:         cfg.RegionSize,
		InitialCapacity:    cfg.InitialHeap,
		MaxCapacity:        cfg.MaxHeap,
		SoftMaxCapacity:    cfg.SoftMaxHeap,
		YoungMaxRegions:    cfg.YoungMaxRegions,
		FragmentationLimit: cfg.FragmentationLimit,
	}, log.Named("heap"), z.locks)
	if err != nil {
		return nil, fmt.Errorf("zgc: %w", err)
	}
	z.heap = h
	acc := monitor.NewHeapAccounting(h, z.locks)
	h.SetAccounting(acc)
	z.service = monitor.NewService(acc, log.Named("monitor"), z.locks)

	z.world = safepoint.NewWorld(z.locks)
	z.locker = safepoint.NewGCLocker(func() {
		z.driver.Collect(driver.Request{Cause: cause.GCLocker})
	}, log.Named("gclocker"), z.locks)
	z.thread = safepoint.NewThread(&z.heapLock, z.world, z.locker, log.Named("safepoint"))

	z.driver = driver.New(driver.Options{
		ConcGCThreads:    cfg.ConcGCThreads,
		DynamicGCThreads: cfg.DynamicGCThreads,
		Verify:           cfg.Verify,
	}, driver.Collaborators{
		Safepoint:  z.thread,
		Marker:     h,
		Relocator:  h,
		References: h,
		Verifier:   h,
		OOM:        h,
		Workers:    h,
	}, nil, z.service, stat.NewRecorder(), log.Named("driver"), z.locks)

	h.SetRequester(func(c cause.Cause) { z.driver.Collect(driver.Request{Cause: c}) })

	z.director = director.New(director.Options{
		Interval:           cfg.DirectorInterval,
		CollectionInterval: cfg.CollectionInterval,
		Proactive:          cfg.Proactive,
		SpikeTolerance:     cfg.SpikeTolerance,
		ConcGCThreads:      cfg.ConcGCThreads,
		DynamicGCThreads:   cfg.DynamicGCThreads,
	}, h, z.driver, z.service.Manager(monitor.CyclesManager), log.Named("director"))

	if cfg.DebugAddr != "" {
		z.debug = debugserver.New(debugserver.Sources{
			Service:   z.service,
			Heap:      h,
			Driver:    z.driver,
			Decisions: z.director.Decisions,
			Stats:     z.driver.Stats(),
			Locks:     z.locks,
		}, log.Named("debug"))
	}
	return z, nil
}

// Start starts the collector's goroutines and the debug server.
func (z *Context) Start() error {
	if z.debug != nil {
		if err := z.debug.Start(z.cfg.DebugAddr, z.cfg.DebugMaxConns); err != nil {
			return err
		}
	}
	z.thread.Start()
	z.driver.Start()
	z.director.Start()
	z.log.Info("collector started",
		zap.String("maxHeap", config.FormatSize(z.cfg.MaxHeap)),
		zap.String("softMaxHeap", config.FormatSize(z.cfg.SoftMax())),
		zap.String("regionSize", config.FormatSize(z.cfg.RegionSize)),
		zap.Uint("concGCThreads", z.cfg.ConcGCThreads))
	return nil
}

// Stop stops the director, abandons the cycle in progress, fails pending
// allocation stalls with heap.ErrClosed and stops the safepoint thread
// and the debug server.
func (z *Context) Stop() error {
	z.director.Stop()
	z.driver.Stop()
	z.heap.Close()
	z.thread.Stop()
	var err error
	if z.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, z.debug.Shutdown(ctx))
	}
	if z.locks != nil {
		if nodes, _ := lockrank.Cycles(z.locks.Graph()); len(nodes) > 0 {
			err = multierr.Append(err, fmt.Errorf("zgc: lock-order cycle among %d lock classes", len(nodes)))
		}
	}
	started, completed := z.driver.Cycles()
	z.log.Info("collector stopped", zap.Uint64("cyclesStarted", started), zap.Uint64("cyclesCompleted", completed))
	return err
}

// GC runs an explicit full collection and returns when it completed.
func (z *Context) GC() {
	z.driver.Collect(driver.Request{Cause: cause.ExplicitFull})
}

// NewMutator returns an allocator for one goroutine.
func (z *Context) NewMutator() *heap.Mutator {
	return z.heap.NewMutator(z.world, z.locker)
}

func (z *Context) Config() config.Config        { return z.cfg }
func (z *Context) Heap() *heap.Heap             { return z.heap }
func (z *Context) Service() *monitor.Service    { return z.service }
func (z *Context) Driver() *driver.Driver       { return z.driver }
func (z *Context) Director() *director.Director { return z.director }
func (z *Context) Locker() *safepoint.GCLocker  { return z.locker }
func (z *Context) Thread() *safepoint.Thread    { return z.thread }

// DebugAddr returns the debug server's address, or "" if it is disabled.
func (z *Context) DebugAddr() string {
	if z.debug == nil || z.debug.Addr() == nil {
		return ""
	}
	return z.debug.Addr().String()
}
