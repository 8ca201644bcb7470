// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the collector's settings.
//
// Settings are read from a GODEBUG-style string of comma-separated
// key=value pairs, usually the ZDRIVER environment variable, and can be
// overridden by command-line flags of the same names.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// EnvVar is the environment variable FromEnv reads.
const EnvVar = "ZDRIVER"

// Config is the collector configuration.
type Config struct {
	// Driver.
	ConcGCThreads    uint
	DynamicGCThreads bool
	Verify           bool

	// Heap geometry, in bytes.
	InitialHeap        uint64
	MaxHeap            uint64
	SoftMaxHeap        uint64
	RegionSize         uint64
	YoungMaxRegions    uint64
	FragmentationLimit uint64 // percent

	// Director.
	CollectionInterval time.Duration // 0 disables timer cycles
	Proactive          bool
	DirectorInterval   time.Duration
	SpikeTolerance     float64

	// Diagnostics.
	LockRank      bool
	LogLevel      string
	LogFormat     string
	DebugAddr     string // empty disables the debug server
	DebugMaxConns int
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ConcGCThreads:      uint(max(runtime.NumCPU()/4, 1)),
		DynamicGCThreads:   true,
		InitialHeap:        64 << 20,
		MaxHeap:            256 << 20,
		RegionSize:         2 << 20,
		YoungMaxRegions:    32,
		FragmentationLimit: 25,
		Proactive:          true,
		DirectorInterval:   100 * time.Millisecond,
		SpikeTolerance:     2,
		LogLevel:           "info",
		LogFormat:          "console",
		DebugMaxConns:      8,
	}
}

type dbgVar struct {
	name   string
	usage  string
	set    func(c *Config, v string) error
	get    func(c *Config) string
	isBool bool
}

func uintVar(name, usage string, field func(*Config) *uint) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 0)
			if err == nil {
				*field(c) = uint(n)
			}
			return err
		},
		func(c *Config) string { return strconv.FormatUint(uint64(*field(c)), 10) },
		false,
	}
}

func intVar(name, usage string, field func(*Config) *int) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err == nil {
				*field(c) = n
			}
			return err
		},
		func(c *Config) string { return strconv.Itoa(*field(c)) },
		false,
	}
}

func boolVar(name, usage string, field func(*Config) *bool) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err == nil {
				*field(c) = b
			}
			return err
		},
		func(c *Config) string { return strconv.FormatBool(*field(c)) },
		true,
	}
}

func sizeVar(name, usage string, field func(*Config) *uint64) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			n, err := ParseSize(v)
			if err == nil {
				*field(c) = n
			}
			return err
		},
		func(c *Config) string { return FormatSize(*field(c)) },
		false,
	}
}

func countVar(name, usage string, field func(*Config) *uint64) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err == nil {
				*field(c) = n
			}
			return err
		},
		func(c *Config) string { return strconv.FormatUint(*field(c), 10) },
		false,
	}
}

func durationVar(name, usage string, field func(*Config) *time.Duration) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err == nil {
				*field(c) = d
			}
			return err
		},
		func(c *Config) string { return field(c).String() },
		false,
	}
}

func floatVar(name, usage string, field func(*Config) *float64) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err == nil {
				*field(c) = f
			}
			return err
		},
		func(c *Config) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		false,
	}
}

func stringVar(name, usage string, field func(*Config) *string) dbgVar {
	return dbgVar{name, usage,
		func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
		func(c *Config) string { return *field(c) },
		false,
	}
}

var dbgvars = []dbgVar{
	uintVar("conc_gc_threads", "maximum number of concurrent GC workers", func(c *Config) *uint { return &c.ConcGCThreads }),
	boolVar("dynamic_gc_threads", "let the director choose the number of workers per cycle", func(c *Config) *bool { return &c.DynamicGCThreads }),
	boolVar("verify", "verify the heap in a pause every cycle", func(c *Config) *bool { return &c.Verify }),
	sizeVar("initial_heap", "initially committed heap size", func(c *Config) *uint64 { return &c.InitialHeap }),
	sizeVar("max_heap", "maximum heap size", func(c *Config) *uint64 { return &c.MaxHeap }),
	sizeVar("soft_max_heap", "heap size the director tries to stay under (0 means max_heap)", func(c *Config) *uint64 { return &c.SoftMaxHeap }),
	sizeVar("region_size", "heap region size, a power of two", func(c *Config) *uint64 { return &c.RegionSize }),
	countVar("young_max_regions", "young generation target in regions", func(c *Config) *uint64 { return &c.YoungMaxRegions }),
	countVar("fragmentation_limit", "percent of garbage that makes a region a relocation candidate", func(c *Config) *uint64 { return &c.FragmentationLimit }),
	durationVar("collection_interval", "start a cycle at least this often (0 disables)", func(c *Config) *time.Duration { return &c.CollectionInterval }),
	boolVar("proactive", "collect proactively while the heap is not under pressure", func(c *Config) *bool { return &c.Proactive }),
	durationVar("director_interval", "how often the director samples the heap", func(c *Config) *time.Duration { return &c.DirectorInterval }),
	floatVar("spike_tolerance", "allocation rate spike tolerance, in standard deviations", func(c *Config) *float64 { return &c.SpikeTolerance }),
	boolVar("lockrank", "check lock ranking", func(c *Config) *bool { return &c.LockRank }),
	stringVar("log_level", "log level: debug, info, warn or error", func(c *Config) *string { return &c.LogLevel }),
	stringVar("log_format", "log format: console or json", func(c *Config) *string { return &c.LogFormat }),
	stringVar("debug_addr", "debug HTTP server address (empty disables)", func(c *Config) *string { return &c.DebugAddr }),
	intVar("debug_max_conns", "maximum concurrent debug server connections", func(c *Config) *int { return &c.DebugMaxConns }),
}

func lookup(key string) *dbgVar {
	for i := range dbgvars {
		if dbgvars[i].name == key {
			return &dbgvars[i]
		}
	}
	return nil
}

// Parse applies the comma-separated key=value settings in s to c. All
// malformed settings are reported; the valid ones are applied.
func (c *Config) Parse(s string) error {
	var errs error
	for p := s; p != ""; {
		field := ""
		i := strings.IndexByte(p, ',')
		if i < 0 {
			field, p = p, ""
		} else {
			field, p = p[:i], p[i+1:]
		}
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("config: %q is not key=value", field))
			continue
		}
		v := lookup(key)
		if v == nil {
			errs = multierr.Append(errs, fmt.Errorf("config: unknown setting %q", key))
			continue
		}
		if err := v.set(c, value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("config: %s: %w", key, err))
		}
	}
	return errs
}

// Parse returns the default configuration with s applied.
func Parse(s string) (Config, error) {
	c := Default()
	err := c.Parse(s)
	return c, err
}

// FromEnv returns the default configuration with the ZDRIVER environment
// variable applied.
func FromEnv() (Config, error) {
	return Parse(os.Getenv(EnvVar))
}

// String returns c in the form Parse accepts.
func (c *Config) String() string {
	var b strings.Builder
	for i, v := range dbgvars {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(v.name)
		b.WriteByte('=')
		b.WriteString(v.get(c))
	}
	return b.String()
}

type flagValue struct {
	c *Config
	v *dbgVar
}

func (f flagValue) String() string {
	if f.c == nil || f.v == nil {
		return ""
	}
	return f.v.get(f.c)
}

func (f flagValue) Set(s string) error { return f.v.set(f.c, s) }

// IsBoolFlag lets boolean settings be given as a bare -name.
func (f flagValue) IsBoolFlag() bool { return f.v != nil && f.v.isBool }

// RegisterFlags defines one flag per setting on fs, writing into c.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	for i := range dbgvars {
		v := &dbgvars[i]
		fs.Var(flagValue{c, v}, v.name, v.usage)
	}
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("config: "+format, args...))
		}
	}
	check(c.ConcGCThreads > 0, "conc_gc_threads must be positive")
	check(c.RegionSize > 0 && c.RegionSize&(c.RegionSize-1) == 0, "region_size %s is not a power of two", FormatSize(c.RegionSize))
	check(c.MaxHeap >= c.RegionSize, "max_heap %s is smaller than a region", FormatSize(c.MaxHeap))
	check(c.InitialHeap <= c.MaxHeap, "initial_heap %s exceeds max_heap %s", FormatSize(c.InitialHeap), FormatSize(c.MaxHeap))
	check(c.SoftMaxHeap <= c.MaxHeap, "soft_max_heap %s exceeds max_heap %s", FormatSize(c.SoftMaxHeap), FormatSize(c.MaxHeap))
	check(c.YoungMaxRegions > 0, "young_max_regions must be positive")
	check(c.FragmentationLimit <= 100, "fragmentation_limit %d is not a percentage", c.FragmentationLimit)
	check(c.CollectionInterval >= 0, "collection_interval must not be negative")
	check(c.DirectorInterval > 0, "director_interval must be positive")
	check(c.SpikeTolerance >= 0, "spike_tolerance must not be negative")
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		check(false, "unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		check(false, "unknown log_format %q", c.LogFormat)
	}
	check(c.DebugMaxConns > 0, "debug_max_conns must be positive")
	return errs
}

// SoftMax returns the soft max heap size, defaulting to the max heap size.
func (c *Config) SoftMax() uint64 {
	if c.SoftMaxHeap == 0 {
		return c.MaxHeap
	}
	return c.SoftMaxHeap
}
