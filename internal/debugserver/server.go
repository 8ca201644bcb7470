// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugserver serves the collector's state over HTTP.
//
// Routes:
//
//	/debug/zdriver/memory    heap and pool usage (JSON)
//	/debug/zdriver/managers  memory managers and their last cycle (JSON)
//	/debug/zdriver/driver    driver phase, cycle counts and director decisions (JSON)
//	/debug/zdriver/phases    phase times as a pprof profile; ?debug=1 for JSON summaries
//	/debug/zdriver/locks     lock-order graph in dot format
//	/debug/requests          per-cycle traces
//	/debug/events            driver event log
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/net/trace"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/heap"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
	"github.com/SerenityOS/serenity-sub095/internal/stat"
)

// Driver is the driver state the server reports.
type Driver interface {
	Phase() driver.Phase
	Busy() bool
	Cycles() (started, completed uint64)
}

// Sources are what the server reports on. Nil sources are left out.
type Sources struct {
	Service   *monitor.Service
	Heap      interface{ Stats() heap.Stats }
	Driver    Driver
	Decisions func() map[cause.Cause]uint64
	Stats     *stat.Recorder
	Locks     *lockrank.Checker
}

// Server is the debug HTTP server.
type Server struct {
	src  Sources
	log  *zap.Logger
	mux  *http.ServeMux
	http *http.Server
	ln   net.Listener
}

// New returns a server over src. It does not listen until Start.
func New(src Sources, log *zap.Logger) *Server {
	s := &Server{src: src, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/debug/zdriver/memory", s.memory)
	s.mux.HandleFunc("/debug/zdriver/managers", s.managers)
	s.mux.HandleFunc("/debug/zdriver/driver", s.driver)
	s.mux.HandleFunc("/debug/zdriver/phases", s.phases)
	s.mux.HandleFunc("/debug/zdriver/locks", s.locks)
	s.mux.HandleFunc("/debug/requests", trace.Traces)
	s.mux.HandleFunc("/debug/events", trace.Events)
	return s
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on addr, accepting at most maxConns connections at a
// time, and serves in a new goroutine.
func (s *Server) Start(addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debugserver: %w", err)
	}
	s.ln = netutil.LimitListener(ln, maxConns)
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.log.Info("debug server listening", zap.Stringer("addr", ln.Addr()), zap.Int("maxConns", maxConns))
	go func() {
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the server, waiting for active requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	if err := enc.Encode(v); err != nil {
		s.log.Warn("debug response failed", zap.Error(err))
	}
}

type poolInfo struct {
	Name                     string              `json:"name"`
	Usage                    monitor.MemoryUsage `json:"usage"`
	Peak                     monitor.MemoryUsage `json:"peak"`
	Collection               monitor.MemoryUsage `json:"collection"`
	UsageThresholdCount      uint64              `json:"usageThresholdCount"`
	CollectionThresholdCount uint64              `json:"collectionThresholdCount"`
}

func (s *Server) memory(w http.ResponseWriter, r *http.Request) {
	if s.src.Service == nil {
		http.NotFound(w, r)
		return
	}
	var resp struct {
		Heap  monitor.MemoryUsage `json:"heap"`
		Pools []poolInfo          `json:"pools"`
		Stats *heap.Stats         `json:"stats,omitempty"`
	}
	resp.Heap = s.src.Service.MemoryUsage()
	for _, p := range s.src.Service.Pools() {
		resp.Pools = append(resp.Pools, poolInfo{
			Name:                     p.Name(),
			Usage:                    p.Usage(),
			Peak:                     p.PeakUsage(),
			Collection:               p.CollectionUsage(),
			UsageThresholdCount:      p.UsageThresholdCount(),
			CollectionThresholdCount: p.CollectionUsageThresholdCount(),
		})
	}
	if s.src.Heap != nil {
		st := s.src.Heap.Stats()
		resp.Stats = &st
	}
	s.writeJSON(w, resp)
}

type managerInfo struct {
	Name  string              `json:"name"`
	Pools []string            `json:"pools"`
	Count uint64              `json:"count"`
	Time  time.Duration       `json:"time"`
	Last  *monitor.GCStatInfo `json:"last,omitempty"`
}

func (s *Server) managers(w http.ResponseWriter, r *http.Request) {
	if s.src.Service == nil {
		http.NotFound(w, r)
		return
	}
	var resp []managerInfo
	for _, m := range s.src.Service.Managers() {
		mi := managerInfo{
			Name:  m.Name(),
			Pools: m.PoolNames(),
			Count: m.CollectionCount(),
			Time:  m.CollectionTime(),
		}
		if last, ok := m.LastGCStat(); ok {
			mi.Last = &last
		}
		resp = append(resp, mi)
	}
	s.writeJSON(w, resp)
}

func (s *Server) driver(w http.ResponseWriter, r *http.Request) {
	if s.src.Driver == nil {
		http.NotFound(w, r)
		return
	}
	var resp struct {
		Phase     string            `json:"phase"`
		Busy      bool              `json:"busy"`
		Started   uint64            `json:"started"`
		Completed uint64            `json:"completed"`
		Decisions map[string]uint64 `json:"decisions,omitempty"`
	}
	resp.Phase = s.src.Driver.Phase().String()
	resp.Busy = s.src.Driver.Busy()
	resp.Started, resp.Completed = s.src.Driver.Cycles()
	if s.src.Decisions != nil {
		resp.Decisions = make(map[string]uint64)
		for c, n := range s.src.Decisions() {
			resp.Decisions[c.String()] = n
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) phases(w http.ResponseWriter, r *http.Request) {
	if s.src.Stats == nil {
		http.NotFound(w, r)
		return
	}
	if r.FormValue("debug") != "" {
		s.writeJSON(w, s.src.Stats.Summaries())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="phases.pb.gz"`)
	if err := s.src.Stats.WriteProfile(w); err != nil {
		s.log.Warn("phase profile failed", zap.Error(err))
	}
}

func (s *Server) locks(w http.ResponseWriter, r *http.Request) {
	if s.src.Locks == nil {
		http.Error(w, "lock ranking is disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	if err := s.src.Locks.Graph().WriteDot(w); err != nil {
		s.log.Warn("lock graph failed", zap.Error(err))
	}
}
