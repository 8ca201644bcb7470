// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package port

import (
	"sync"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// Rendezvous is a payload-free meeting point between one waiter and any
// number of signalers. The driver waits on it after the GC locker
// rejected a pause; whoever releases the GC locker signals it; the
// driver acks once the retried pause has actually run.
//
// A signal that arrives before the waiter is remembered, so a release
// racing with the rejection is never lost.
type Rendezvous struct {
	mu   lockrank.Mutex
	cond sync.Cond

	pending bool
	acks    uint64
	closed  bool
}

// NewRendezvous returns a rendezvous. If c is non-nil, its lock is
// rank-checked as a leaf lock.
func NewRendezvous(c *lockrank.Checker) *Rendezvous {
	r := new(Rendezvous)
	r.mu.Init(c, lockrank.LeafRank)
	r.cond.L = &r.mu
	return r
}

// Wait blocks until a signal is pending and consumes it.
func (r *Rendezvous) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.pending && !r.closed {
		r.cond.Wait()
	}
	r.pending = false
}

// Signal wakes the waiter. It never waits for anything and only holds
// the rendezvous' own leaf lock, so it may be called with other locks
// held.
func (r *Rendezvous) Signal() {
	r.mu.Lock()
	r.pending = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// SignalSync signals and then blocks until the waiter acks.
func (r *Rendezvous) SignalSync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = true
	seq := r.acks
	r.cond.Broadcast()
	for r.acks == seq && !r.closed {
		r.cond.Wait()
	}
}

// Ack reports that the operation the waiter was blocked on completed.
// Any signal still pending is stale and discarded.
func (r *Rendezvous) Ack() {
	r.mu.Lock()
	r.pending = false
	r.acks++
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Close releases every current and future waiter.
func (r *Rendezvous) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}
