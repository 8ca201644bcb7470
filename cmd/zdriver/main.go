// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Zdriver runs a simulated concurrent region collector under a
// synthetic allocation workload.
//
// Usage:
//
//	zdriver [flags]
//
// Collector settings are read from the ZDRIVER environment variable as
// comma-separated key=value pairs and may be overridden by flags of the
// same names (see -help). The workload flags choose how many mutators
// allocate, how fast, and for how long. With -i, zdriver starts an
// interactive console instead of exiting when the workload ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/SerenityOS/serenity-sub095/internal/config"
	"github.com/SerenityOS/serenity-sub095/internal/logging"
	"github.com/SerenityOS/serenity-sub095/internal/zgc"
)

var (
	flagDuration    = flag.Duration("duration", 5*time.Second, "run the workload for `d`")
	flagInteractive = flag.Bool("i", false, "start an interactive console")
	flagProfile     = flag.String("phaseprofile", "", "write a pprof profile of phase times to `file` on exit")
	wl              = defaultWorkload()
)

func init() {
	flag.IntVar(&wl.Mutators, "mutators", wl.Mutators, "number of allocating goroutines")
	flag.Func("objsize", "object size (K, M and G suffixes accepted)", sizeFlag(&wl.ObjectSize))
	flag.Func("live", "live bytes kept by each mutator", sizeFlag(&wl.LivePerMutator))
	flag.Float64Var(&wl.SoftFraction, "soft", wl.SoftFraction, "fraction of objects that are softly reachable")
	flag.Float64Var(&wl.WeakFraction, "weak", wl.WeakFraction, "fraction of objects that are weakly reachable")
	flag.Float64Var(&wl.CriticalFraction, "critical", wl.CriticalFraction, "fraction of allocations followed by a GC locker critical region")
}

func sizeFlag(p *uint64) func(string) error {
	return func(s string) error {
		n, err := config.ParseSize(s)
		if err == nil {
			*p = n
		}
		return err
	}
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zdriver: %s: %v\n", config.EnvVar, err)
		os.Exit(2)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: zdriver [flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zdriver: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("zdriver failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	z, err := zgc.New(cfg, log)
	if err != nil {
		return err
	}
	if err := z.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var res *workloadResult
	if *flagInteractive {
		wctx, cancel := context.WithCancel(ctx)
		done := make(chan *workloadResult, 1)
		go func() { done <- wl.run(wctx, z, log.Named("workload")) }()
		err = newConsole(z, os.Stdout).interact()
		cancel()
		res = <-done
	} else {
		wctx, cancel := context.WithTimeout(ctx, *flagDuration)
		res = wl.run(wctx, z, log.Named("workload"))
		cancel()
	}

	writeReport(os.Stdout, z, res)
	if *flagProfile != "" {
		if perr := writePhaseProfile(z, *flagProfile); perr != nil && err == nil {
			err = perr
		}
	}
	if serr := z.Stop(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func writePhaseProfile(z *zgc.Context, file string) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if err := z.Driver().Stats().WriteProfile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
