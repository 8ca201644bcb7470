// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"fmt"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
)

// Phase is the step of the collection cycle the driver is in.
//
//	Idle -> MarkStart -> Mark -> MarkEnd -(incomplete)-> MarkContinue -> MarkEnd
//	                             MarkEnd -(complete)-> MarkFree
//	MarkFree -> ProcessNonStrongReferences -> ResetRelocationSet -> Verify
//	Verify -> SelectRelocationSet -> RelocateStart -> Relocate -> Idle
//
// Any phase can lead to Terminating once the driver is stopped.
type Phase int32

const (
	Idle Phase = iota
	MarkStart
	Mark
	MarkEnd
	MarkContinue
	MarkFree
	ProcessNonStrongReferences
	ResetRelocationSet
	Verify
	SelectRelocationSet
	RelocateStart
	Relocate
	Terminating
)

var phaseNames = [...]string{
	Idle:                       "Idle",
	MarkStart:                  "Pause Mark Start",
	Mark:                       "Concurrent Mark",
	MarkEnd:                    "Pause Mark End",
	MarkContinue:               "Concurrent Mark Continue",
	MarkFree:                   "Concurrent Mark Free",
	ProcessNonStrongReferences: "Concurrent Process Non-Strong References",
	ResetRelocationSet:         "Concurrent Reset Relocation Set",
	Verify:                     "Pause Verify",
	SelectRelocationSet:        "Concurrent Select Relocation Set",
	RelocateStart:              "Pause Relocate Start",
	Relocate:                   "Concurrent Relocate",
	Terminating:                "Terminating",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Request asks the driver for a collection cycle.
type Request struct {
	Cause cause.Cause
	// Workers is the number of concurrent workers the requester
	// suggests. It is only honored with dynamic worker selection.
	Workers uint
}

// Equal reports whether r and o request the same collection. Requests
// are equal if their causes are; the worker count is advisory.
func (r Request) Equal(o Request) bool {
	return r.Cause == o.Cause
}

func (r Request) String() string {
	if r.Workers == 0 {
		return r.Cause.String()
	}
	return fmt.Sprintf("%v (%d workers)", r.Cause, r.Workers)
}
