// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safepoint

import (
	"sync"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// GCLocker lets mutators pin the heap for the duration of a critical
// region. Pauses that move objects are rejected while any critical
// region is active; the rejection marks the locker as needing a GC, new
// critical regions stall until it happened, and the mutator leaving the
// last critical region calls the release hook, which restarts the
// rejected pause and returns once it ran.
//
// Critical regions do not nest. Enter and Exit block, so a mutator must
// call them outside the World: enter the locker, then the world, and
// leave in the opposite order.
type GCLocker struct {
	mu   lockrank.Mutex
	cond sync.Cond

	active  int
	needsGC bool
	doingGC bool

	release func()
	log     *zap.Logger

	stalls   uint64
	releases uint64
}

// NewGCLocker returns an inactive locker. release is called without the
// locker's lock held by the mutator leaving the last critical region
// after a pause was rejected; it may block.
func NewGCLocker(release func(), log *zap.Logger, c *lockrank.Checker) *GCLocker {
	l := &GCLocker{release: release, log: log}
	l.mu.Init(c, lockrank.RankLocker)
	l.cond.L = &l.mu
	return l
}

// Enter begins a critical region, stalling while a GC is pending.
func (l *GCLocker) Enter() {
	l.mu.Lock()
	if l.needsGC || l.doingGC {
		l.stalls++
		l.log.Debug("critical region entry stalled by pending GC")
		for l.needsGC || l.doingGC {
			l.cond.Wait()
		}
	}
	l.active++
	l.mu.Unlock()
}

// Exit ends a critical region.
func (l *GCLocker) Exit() {
	l.mu.Lock()
	if l.active <= 0 {
		l.mu.Unlock()
		panic("safepoint: GCLocker.Exit without Enter")
	}
	l.active--
	if l.active == 0 && l.needsGC && !l.doingGC {
		l.doingGC = true
		l.releases++
		release := l.release
		l.mu.Unlock()
		l.log.Debug("GC locker released, restarting blocked pause")
		if release != nil {
			release()
		}
		l.mu.Lock()
		l.doingGC = false
		l.needsGC = false
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Active reports whether any critical region is active.
func (l *GCLocker) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active > 0
}

// NeedsGC reports whether a pause was rejected and has not been
// restarted yet.
func (l *GCLocker) NeedsGC() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.needsGC
}

// Stats returns how many critical region entries stalled and how many
// times a release restarted a pause.
func (l *GCLocker) Stats() (stalls, releases uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stalls, l.releases
}

// CheckActiveBeforeGC is called at a safepoint before a pause that must
// not run while the locker is active. It reports whether the pause has
// to be rejected, and if so records that a GC is needed.
func (l *GCLocker) CheckActiveBeforeGC() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 && !l.needsGC {
		l.needsGC = true
		l.log.Info("GC locker active, pause rejected", zap.Int("critical", l.active))
	}
	return l.active > 0 && l.needsGC
}
