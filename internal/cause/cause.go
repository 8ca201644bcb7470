// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cause defines the closed set of reasons a collection cycle can
// be requested for, and the per-cause policy the driver applies: how the
// request is delivered, whether soft references are cleared, and whether
// the cycle runs with the maximum number of concurrent workers.
package cause

import "fmt"

// Cause is the reason a collection was requested.
type Cause uint8

const (
	// NoGC is the sentinel cause. The driver ignores requests
	// carrying it; it is used to wake the driver at shutdown.
	NoGC Cause = iota

	// ExplicitFull is an explicit, forced full collection
	// (System.gc, a diagnostic command, a test hook).
	ExplicitFull

	// MetadataClearSoftRefs is a metadata-threshold collection that
	// must clear soft references to make progress.
	MetadataClearSoftRefs

	// AllocationStall is requested by a mutator whose allocation
	// could not be satisfied.
	AllocationStall

	// AllocationRate is requested by the director when the
	// allocation rate predicts running out of memory before a
	// cycle could complete.
	AllocationRate

	// Timer is requested by the director when the configured
	// collection interval elapsed.
	Timer

	// Warmup is requested by the director during the first cycles
	// of the process, before statistics are meaningful.
	Warmup

	// Proactive is requested by the director to collect while the
	// heap is not under pressure.
	Proactive

	// HighUsage is requested by the director when free memory
	// falls below a small fraction of the soft max heap.
	HighUsage

	// MetadataThreshold is requested when class metadata crossed
	// its collection threshold.
	MetadataThreshold

	// GCLocker is sent when the GC locker is released after it
	// rejected a pause. It restarts the rejected pause instead of
	// starting a cycle.
	GCLocker

	// Breakpoint starts a cycle under concurrent-GC breakpoint
	// control.
	Breakpoint

	numCauses
)

var causeNames = [...]string{
	NoGC:                  "No GC",
	ExplicitFull:          "Explicit Full",
	MetadataClearSoftRefs: "Metadata GC Clear Soft References",
	AllocationStall:       "Allocation Stall",
	AllocationRate:        "Allocation Rate",
	Timer:                 "Timer",
	Warmup:                "Warmup",
	Proactive:             "Proactive",
	HighUsage:             "High Usage",
	MetadataThreshold:     "Metadata GC Threshold",
	GCLocker:              "GCLocker Initiated GC",
	Breakpoint:            "Concurrent GC Breakpoint",
}

func (c Cause) String() string {
	if c < numCauses {
		return causeNames[c]
	}
	return fmt.Sprintf("Cause(%d)", uint8(c))
}

// Valid reports whether c is one of the defined causes.
func (c Cause) Valid() bool {
	return c < numCauses
}

// Delivery is how a request for a cause reaches the driver.
type Delivery uint8

const (
	// Unsupported causes are a caller bug.
	Unsupported Delivery = iota
	// Sync requests block the caller until a cycle serving them
	// completed.
	Sync
	// Async requests return immediately.
	Async
	// LockerSignal restarts a pause rejected by the GC locker.
	LockerSignal
	// BreakpointStart starts a cycle held at breakpoints, then
	// posts it asynchronously.
	BreakpointStart
)

// DeliveryOf returns how requests with cause c are delivered. NoGC is
// Unsupported: it is only ever posted by the driver itself.
func DeliveryOf(c Cause) Delivery {
	switch c {
	case ExplicitFull, MetadataClearSoftRefs:
		return Sync
	case AllocationStall, AllocationRate, Timer, Warmup, Proactive, HighUsage, MetadataThreshold:
		return Async
	case GCLocker:
		return LockerSignal
	case Breakpoint:
		return BreakpointStart
	}
	return Unsupported
}

// ClearsSoftReferences reports whether a cycle started for c must clear
// all soft references.
func ClearsSoftReferences(c Cause) bool {
	switch c {
	case ExplicitFull, MetadataClearSoftRefs, AllocationStall:
		return true
	}
	return false
}

// BoostsWorkers reports whether a cycle started for c runs with the
// maximum number of concurrent workers regardless of the request.
func BoostsWorkers(c Cause) bool {
	// Same set: these cycles exist to free memory as fast as possible.
	return ClearsSoftReferences(c)
}

// All returns every defined cause except NoGC, in declaration order.
func All() []Cause {
	cs := make([]Cause, 0, numCauses-1)
	for c := NoGC + 1; c < numCauses; c++ {
		cs = append(cs, c)
	}
	return cs
}
