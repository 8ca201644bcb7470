// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package safepoint runs pause operations: bounded units of collector
// work executed by a single goroutine while every mutator is parked and
// the heap lock is held.
package safepoint

import "fmt"

// Kind identifies a pause operation.
type Kind uint8

const (
	MarkStart Kind = iota + 1
	MarkEnd
	RelocateStart
	Verify
)

func (k Kind) String() string {
	switch k {
	case MarkStart:
		return "Pause Mark Start"
	case MarkEnd:
		return "Pause Mark End"
	case RelocateStart:
		return "Pause Relocate Start"
	case Verify:
		return "Pause Verify"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Operation is one pause. The set of kinds is closed; the work is the
// closure do, which reports success. An Operation is single-use: a
// pause that has to be retried is retried with a fresh Operation.
type Operation struct {
	kind Kind
	do   func() bool

	executed bool
	success  bool
	gcLocked bool
}

// NewOperation returns a pause of the given kind that runs do.
func NewOperation(kind Kind, do func() bool) *Operation {
	return &Operation{kind: kind, do: do}
}

func (op *Operation) Kind() Kind { return op.kind }

// NeedsInactiveGCLocker reports whether the operation must be rejected
// while any mutator holds the GC locker.
func (op *Operation) NeedsInactiveGCLocker() bool {
	switch op.kind {
	case MarkStart, MarkEnd, RelocateStart:
		return true
	case Verify:
		return false
	}
	panic("safepoint: unknown operation kind " + op.kind.String())
}

// Success reports the result of the operation's work. It is false if
// the operation was rejected.
func (op *Operation) Success() bool { return op.success }

// GCLocked reports whether the operation was rejected because the GC
// locker was active.
func (op *Operation) GCLocked() bool { return op.gcLocked }

// Executed reports whether the operation's work ran.
func (op *Operation) Executed() bool { return op.executed }

// LockerCheck is consulted before running an operation that needs an
// inactive GC locker. *GCLocker implements it.
type LockerCheck interface {
	CheckActiveBeforeGC() bool
}

// Run executes op on the calling goroutine. The caller must have
// stopped the world. locker may be nil.
func (op *Operation) Run(locker LockerCheck) {
	if op.executed || op.gcLocked {
		panic("safepoint: operation reused")
	}
	if op.NeedsInactiveGCLocker() && locker != nil && locker.CheckActiveBeforeGC() {
		op.gcLocked = true
		return
	}
	op.executed = true
	op.success = op.do()
}
