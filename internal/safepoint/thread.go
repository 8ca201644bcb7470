// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safepoint

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// Thread is the single goroutine that executes pause operations. Only
// one operation runs at a time.
type Thread struct {
	heapLock *lockrank.Mutex
	world    *World
	locker   *GCLocker
	log      *zap.Logger

	ops  chan *task
	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	mu       sync.Mutex
	executed uint64
	rejected uint64
	ttsp     time.Duration // longest time to stop the world
}

type task struct {
	op   *Operation
	done chan struct{}
}

// NewThread returns a stopped Thread. heapLock is held by the caller of
// Execute for the whole operation; locker may be nil.
func NewThread(heapLock *lockrank.Mutex, world *World, locker *GCLocker, log *zap.Logger) *Thread {
	return &Thread{
		heapLock: heapLock,
		world:    world,
		locker:   locker,
		log:      log,
		ops:      make(chan *task),
		quit:     make(chan struct{}),
	}
}

// Start starts the executing goroutine.
func (t *Thread) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.loop()
	})
}

// Stop stops the executing goroutine after the operation in progress, if
// any, completed. Operations submitted after Stop are not run.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() { close(t.quit) })
	t.wg.Wait()
}

// Execute runs op at a safepoint and returns when it finished. The heap
// lock is held for the duration. Afterwards op.GCLocked reports whether
// the operation was rejected because of an active GC locker.
func (t *Thread) Execute(op *Operation) {
	t.heapLock.Lock()
	defer t.heapLock.Unlock()

	tk := &task{op: op, done: make(chan struct{})}
	select {
	case t.ops <- tk:
	case <-t.quit:
		t.log.Warn("safepoint thread stopped, operation not run", zap.Stringer("op", op.Kind()))
		return
	}
	<-tk.done
}

// Stats returns the number of executed and rejected operations and the
// longest time it took to stop the world.
func (t *Thread) Stats() (executed, rejected uint64, maxTimeToSafepoint time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed, t.rejected, t.ttsp
}

func (t *Thread) loop() {
	defer t.wg.Done()
	for {
		select {
		case tk := <-t.ops:
			t.run(tk)
		case <-t.quit:
			return
		}
	}
}

func (t *Thread) run(tk *task) {
	defer close(tk.done)

	begin := time.Now()
	ttsp := t.stopped(tk.op)

	t.mu.Lock()
	if tk.op.GCLocked() {
		t.rejected++
	} else {
		t.executed++
	}
	if ttsp > t.ttsp {
		t.ttsp = ttsp
	}
	t.mu.Unlock()

	t.log.Debug("safepoint",
		zap.Stringer("op", tk.op.Kind()),
		zap.Bool("gcLocked", tk.op.GCLocked()),
		zap.Duration("timeToSafepoint", ttsp),
		zap.Duration("total", time.Since(begin)))
}

// stopped runs op with the world stopped and returns the time it took
// to stop it.
func (t *Thread) stopped(op *Operation) time.Duration {
	begin := time.Now()
	t.world.stop()
	defer t.world.start()
	ttsp := time.Since(begin)
	if t.locker != nil {
		op.Run(t.locker)
	} else {
		op.Run(nil)
	}
	return ttsp
}
