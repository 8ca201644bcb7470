// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package port implements the mailboxes the collector's service
// goroutines block on: a message port with synchronous and asynchronous
// senders and a single receiver, and a rendezvous used to restart
// operations that were rejected by the GC locker.
package port

import (
	"sync"

	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
)

// A request is a synchronous sender waiting for its message to be
// serviced. seq is the port's sequence number when the request was
// enqueued; the request is satisfied by the first Ack of an equal
// message whose service started after that.
type request[T any] struct {
	msg  T
	seq  uint64
	done bool
}

// MessagePort is a mailbox with any number of senders and a single
// receiver. The receiver services one message at a time: Receive
// returns the next message and Ack reports that servicing it finished.
//
// Synchronous senders block until a matching message was serviced.
// Equal messages coalesce: every synchronous request for a message
// equal to the one being serviced is satisfied by the same Ack, so
// concurrent requests for the same work never start duplicate service.
//
// The zero value is not usable; use NewMessagePort.
type MessagePort[T any] struct {
	equal func(a, b T) bool

	mu   lockrank.Mutex
	cond sync.Cond

	// seqnum counts Receive calls.
	seqnum uint64

	// message is the message being serviced while serving is set.
	message T
	serving bool

	// pending is the un-consumed asynchronous message, if any.
	pending    T
	hasPending bool

	// queue holds synchronous requests in arrival order.
	queue []*request[T]

	closed bool
}

// NewMessagePort returns a port whose messages are compared with equal.
// If c is non-nil, the port's lock is rank-checked as a leaf lock.
func NewMessagePort[T any](equal func(a, b T) bool, c *lockrank.Checker) *MessagePort[T] {
	p := &MessagePort[T]{equal: equal}
	p.mu.Init(c, lockrank.LeafRank)
	p.cond.L = &p.mu
	return p
}

// SendSync sends msg and blocks until it has been serviced.
//
// If an equal message is being serviced right now, the caller joins
// that service rather than requesting another one. Otherwise the request
// is queued and satisfied by the next completed service of an equal
// message, which may have been requested by someone else.
//
// SendSync returns immediately if the port is closed, and returns
// promptly if the port is closed while it waits.
func (p *MessagePort[T]) SendSync(msg T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	r := &request[T]{msg: msg, seq: p.seqnum}
	if p.serving && p.equal(p.message, msg) {
		// Satisfied by the Ack of the current service.
		r.seq = p.seqnum - 1
	}
	p.queue = append(p.queue, r)
	p.cond.Broadcast()
	for !r.done && !p.closed {
		p.cond.Wait()
	}
}

// SendAsync posts msg and returns without waiting. A message equal to
// the one being serviced is dropped, since that service covers it.
// Otherwise msg replaces any asynchronous message that has not been
// received yet.
func (p *MessagePort[T]) SendAsync(msg T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.serving && p.equal(p.message, msg) {
		return
	}
	p.pending = msg
	p.hasPending = true
	p.cond.Broadcast()
}

// Receive blocks until a message is available and returns it. The
// port is busy until the matching Ack. Queued synchronous requests are
// serviced before a pending asynchronous message.
//
// If the port is closed, Receive returns the zero value of T.
func (p *MessagePort[T]) Receive() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && !p.hasPending && len(p.queue) == 0 {
		p.cond.Wait()
	}
	if p.closed {
		var zero T
		return zero
	}
	p.seqnum++
	if len(p.queue) > 0 {
		p.message = p.queue[0].msg
	} else {
		p.message = p.pending
		p.hasPending = false
		var zero T
		p.pending = zero
	}
	p.serving = true
	return p.message
}

// Ack reports that servicing the last received message completed. It
// satisfies every queued request equal to that message that was
// enqueued before the service started (or joined it).
func (p *MessagePort[T]) Ack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.serving {
		// Nothing to ack.
		return
	}
	keep := p.queue[:0]
	for _, r := range p.queue {
		if r.seq < p.seqnum && p.equal(r.msg, p.message) {
			r.done = true
			continue
		}
		keep = append(keep, r)
	}
	for i := len(keep); i < len(p.queue); i++ {
		p.queue[i] = nil
	}
	p.queue = keep
	p.serving = false
	if p.hasPending && p.equal(p.pending, p.message) {
		// Posted before the service started; it was covered.
		p.hasPending = false
	}
	p.cond.Broadcast()
}

// Busy reports whether a received message is being serviced.
func (p *MessagePort[T]) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serving
}

// Close poisons the port. Blocked and future senders return
// immediately and Receive returns the zero value.
func (p *MessagePort[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}
