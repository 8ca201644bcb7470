// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/SerenityOS/serenity-sub095/internal/monitor"
	"github.com/SerenityOS/serenity-sub095/internal/zgc"
)

var printer = message.NewPrinter(language.English)

// writeReport prints the workload result and the collector's state.
func writeReport(w io.Writer, z *zgc.Context, res *workloadResult) {
	p := printer
	if res != nil {
		p.Fprintf(w, "workload: %d allocations, %d bytes in %v", res.Allocations, res.Bytes, res.Elapsed.Round(time.Millisecond))
		if secs := res.Elapsed.Seconds(); secs > 0 {
			p.Fprintf(w, " (%.0f bytes/s)", float64(res.Bytes)/secs)
		}
		p.Fprintf(w, "\n          %d out of memory, %d critical regions, max allocation latency %v\n",
			res.OutOfMemory, res.Critical, res.MaxLatency)
	}
	writeCycles(w, z)
	writeMemory(w, z)
	writePhases(w, z)
}

func writeCycles(w io.Writer, z *zgc.Context) {
	p := printer
	started, completed := z.Driver().Cycles()
	p.Fprintf(w, "cycles: %d started, %d completed\n", started, completed)
	for c, n := range z.Director().Decisions() {
		p.Fprintf(w, "  %-20s %d\n", c.String()+":", n)
	}
	hs := z.Heap().Stats()
	p.Fprintf(w, "heap: %d stalls, %d bytes relocated, %d regions freed, %d soft and %d weak objects cleared\n",
		hs.Stalls, hs.RelocatedBytes, hs.FreedRegions, hs.SoftCleared, hs.WeakCleared)
	executed, rejected, ttsp := z.Thread().Stats()
	stalls, releases := z.Locker().Stats()
	p.Fprintf(w, "safepoint: %d pauses, %d rejected by the GC locker (%d locker stalls, %d releases), max time to safepoint %v\n",
		executed, rejected, stalls, releases, ttsp)
}

func writeMemory(w io.Writer, z *zgc.Context) {
	p := printer
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	p.Fprintf(tw, "pool\tinit\tused\tcommitted\tmax\tpeak used\t\n")
	row := func(name string, u, peak monitor.MemoryUsage) {
		p.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%d\t\n", name, u.Init, u.Used, u.Committed, maxString(u.Max), peak.Used)
	}
	overall := z.Service().MemoryUsage()
	row("heap", overall, overall)
	for _, pool := range z.Service().Pools() {
		row(pool.Name(), pool.Usage(), pool.PeakUsage())
	}
	tw.Flush()
	for _, m := range z.Service().Managers() {
		p.Fprintf(w, "%s: %d collections, %v\n", m.Name(), m.CollectionCount(), m.CollectionTime().Round(time.Microsecond))
	}
}

func maxString(n uint64) string {
	if n == monitor.Undefined {
		return "-"
	}
	return printer.Sprintf("%d", n)
}

func writePhases(w io.Writer, z *zgc.Context) {
	p := printer
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	p.Fprintf(tw, "phase\tcount\tmean\tp95\tmax\n")
	for _, s := range z.Driver().Stats().Summaries() {
		p.Fprintf(tw, "%s\t%d\t%v\t%v\t%v\n", s.Name, s.Count, s.Mean, s.P95, s.Max)
	}
	tw.Flush()
}
