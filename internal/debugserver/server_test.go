// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"go.uber.org/zap/zaptest"

	"github.com/SerenityOS/serenity-sub095/internal/cause"
	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/heap"
	"github.com/SerenityOS/serenity-sub095/internal/lockrank"
	"github.com/SerenityOS/serenity-sub095/internal/monitor"
	"github.com/SerenityOS/serenity-sub095/internal/stat"
)

const mb = 1 << 20

type fakeDriver struct{}

func (fakeDriver) Phase() driver.Phase      { return driver.Phase(0) }
func (fakeDriver) Busy() bool               { return false }
func (fakeDriver) Cycles() (uint64, uint64) { return 3, 2 }

func newSources(t *testing.T) Sources {
	t.Helper()
	log := zaptest.NewLogger(t)
	c := lockrank.NewChecker()
	h, err := heap.New(heap.Config{
		RegionSize:      mb,
		InitialCapacity: 4 * mb,
		MaxCapacity:     16 * mb,
		YoungMaxRegions: 4,
	}, log, c)
	if err != nil {
		t.Fatal(err)
	}
	acc := monitor.NewHeapAccounting(h, c)
	h.SetAccounting(acc)
	svc := monitor.NewService(acc, log, c)
	if _, err := h.NewMutator(nil, nil).Alloc(context.Background(), 4096, heap.Strong); err != nil {
		t.Fatal(err)
	}
	svc.TraceCycle(cause.Timer).End()

	stats := stat.NewRecorder()
	stats.Record(stat.Pause, "Pause Mark Start", 2*time.Millisecond)
	stats.Record(stat.Concurrent, "Concurrent Mark", 20*time.Millisecond)

	return Sources{
		Service:   svc,
		Heap:      h,
		Driver:    fakeDriver{},
		Decisions: func() map[cause.Cause]uint64 { return map[cause.Cause]uint64{cause.Warmup: 1} },
		Stats:     stats,
		Locks:     c,
	}
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestMemory(t *testing.T) {
	srv := httptest.NewServer(New(newSources(t), zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/debug/zdriver/memory")
	var got struct {
		Heap  monitor.MemoryUsage
		Pools []struct{ Name string }
		Stats heap.Stats
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if got.Heap.Used == 0 || got.Heap.Max != 16*mb {
		t.Errorf("heap usage %+v", got.Heap)
	}
	if len(got.Pools) != 3 || got.Pools[0].Name != "Eden Space" {
		t.Errorf("pools %+v", got.Pools)
	}
	if got.Stats.Allocated != 4096 {
		t.Errorf("allocated = %d, want 4096", got.Stats.Allocated)
	}
}

func TestManagers(t *testing.T) {
	srv := httptest.NewServer(New(newSources(t), zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/debug/zdriver/managers")
	var got []struct {
		Name  string
		Count uint64
		Last  *monitor.GCStatInfo
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if len(got) != 2 || got[0].Name != monitor.CyclesManager || got[1].Name != monitor.PausesManager {
		t.Fatalf("managers %+v", got)
	}
	if got[0].Count != 1 || got[0].Last == nil || got[0].Last.Cause != "Timer" {
		t.Errorf("cycle manager %+v", got[0])
	}
	if got[1].Count != 0 || got[1].Last != nil {
		t.Errorf("pause manager %+v", got[1])
	}
}

func TestDriver(t *testing.T) {
	srv := httptest.NewServer(New(newSources(t), zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/debug/zdriver/driver")
	var got struct {
		Started, Completed uint64
		Decisions          map[string]uint64
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if got.Started != 3 || got.Completed != 2 || got.Decisions["Warmup"] != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestPhases(t *testing.T) {
	srv := httptest.NewServer(New(newSources(t), zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/debug/zdriver/phases")
	p, err := profile.ParseData(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Sample) != 2 {
		t.Fatalf("got %d samples, want 2", len(p.Sample))
	}
	var total int64
	for _, s := range p.Sample {
		total += s.Value[1]
	}
	if want := int64(22 * time.Millisecond); total != want {
		t.Errorf("total time %d, want %d", total, want)
	}

	_, body = get(t, srv, "/debug/zdriver/phases?debug=1")
	var sums []stat.Summary
	if err := json.Unmarshal(body, &sums); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	if len(sums) != 2 || sums[0].Name != "Pause Mark Start" {
		t.Errorf("summaries %+v", sums)
	}
}

func TestLocks(t *testing.T) {
	srv := httptest.NewServer(New(newSources(t), zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/debug/zdriver/locks")
	if !strings.HasPrefix(string(body), "digraph locks {") {
		t.Errorf("got %q", body)
	}
}

func TestMissingSources(t *testing.T) {
	srv := httptest.NewServer(New(Sources{}, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	for _, path := range []string{"/debug/zdriver/memory", "/debug/zdriver/managers", "/debug/zdriver/driver", "/debug/zdriver/phases", "/debug/zdriver/locks"} {
		if resp, _ := get(t, srv, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestTraces(t *testing.T) {
	srv := httptest.NewServer(New(Sources{}, zaptest.NewLogger(t)).Handler())
	defer srv.Close()

	for _, path := range []string{"/debug/requests", "/debug/events"} {
		if resp, _ := get(t, srv, path); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
	}
}

func TestStartShutdown(t *testing.T) {
	s := New(newSources(t), zaptest.NewLogger(t))
	if err := s.Start("127.0.0.1:0", 2); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + s.Addr().String() + "/debug/zdriver/memory")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
