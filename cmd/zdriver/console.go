// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/SerenityOS/serenity-sub095/internal/driver"
	"github.com/SerenityOS/serenity-sub095/internal/zgc"
)

// console is the interactive command interpreter.
type console struct {
	z *zgc.Context
	w io.Writer

	controlled bool // holds breakpoint control
}

type command struct {
	usage string
	run   func(c *console, args string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {"list commands", (*console).help},
		"gc":     {"run an explicit full collection", (*console).gc},
		"stats":  {"print cycle, heap and safepoint counts", (*console).stats},
		"memory": {"print pool usage", (*console).memory},
		"phases": {"print phase times", (*console).phases},
		"config": {"print the configuration", (*console).config},
		"heap":   {"print heap counters as JSON", (*console).heap},
		"bp":     {"breakpoints: bp acquire | release | idle | run NAME | names", (*console).bp},
	}
}

var errQuit = errors.New("quit")

func newConsole(z *zgc.Context, w io.Writer) *console {
	return &console{z: z, w: w}
}

func (c *console) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range commandNames() {
		if name == "bp" {
			items = append(items, readline.PcItem("bp",
				readline.PcItem("acquire"), readline.PcItem("release"), readline.PcItem("idle"), readline.PcItem("names"),
				readline.PcItem("run",
					readline.PcItem(driver.AfterMarkingStarted),
					readline.PcItem(driver.BeforeMarkingCompleted),
					readline.PcItem(driver.AfterReferenceProcessingStarted))))
			continue
		}
		items = append(items, readline.PcItem(name))
	}
	items = append(items, readline.PcItem("quit"))
	return readline.NewPrefixCompleter(items...)
}

// interact reads commands from the terminal until quit or end of input.
func (c *console) interact() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "zdriver> ",
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	defer func() {
		if c.controlled {
			c.z.Driver().Breakpoints().ReleaseControl()
			c.controlled = false
		}
	}()
	c.w = rl.Stdout()
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if err := c.exec(line); errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			fmt.Fprintf(rl.Stderr(), "%v\n", err)
		}
	}
}

// exec runs one command line.
func (c *console) exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, args, _ := strings.Cut(line, " ")
	if name == "quit" || name == "exit" {
		return errQuit
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q; try help", name)
	}
	return cmd.run(c, strings.TrimSpace(args))
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *console) help(string) error {
	for _, name := range commandNames() {
		fmt.Fprintf(c.w, "  %-8s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(c.w, "  %-8s %s\n", "quit", "exit the console")
	return nil
}

func (c *console) gc(string) error {
	c.z.GC()
	started, completed := c.z.Driver().Cycles()
	fmt.Fprintf(c.w, "cycles: %d started, %d completed\n", started, completed)
	return nil
}

func (c *console) stats(string) error  { writeCycles(c.w, c.z); return nil }
func (c *console) memory(string) error { writeMemory(c.w, c.z); return nil }
func (c *console) phases(string) error { writePhases(c.w, c.z); return nil }

func (c *console) config(string) error {
	cfg := c.z.Config()
	for _, kv := range strings.Split(cfg.String(), ",") {
		fmt.Fprintf(c.w, "  %s\n", kv)
	}
	return nil
}

func (c *console) heap(string) error {
	enc := json.NewEncoder(c.w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.z.Heap().Stats())
}

func (c *console) bp(args string) error {
	b := c.z.Driver().Breakpoints()
	sub, rest, _ := strings.Cut(args, " ")
	switch sub {
	case "acquire", "release", "idle", "run":
		if c.controlled != (sub != "acquire") {
			if c.controlled {
				return errors.New("bp: control already acquired")
			}
			return fmt.Errorf("bp %s: acquire control first", sub)
		}
	}
	switch sub {
	case "acquire":
		b.AcquireControl()
		c.controlled = true
	case "release":
		b.ReleaseControl()
		c.controlled = false
	case "idle":
		b.RunToIdle()
	case "names":
		for _, n := range []string{driver.AfterMarkingStarted, driver.BeforeMarkingCompleted, driver.AfterReferenceProcessingStarted} {
			fmt.Fprintln(c.w, n)
		}
		return nil
	case "run":
		name := strings.ToUpper(strings.TrimSpace(rest))
		if name == "" {
			return errors.New("bp run: missing breakpoint name")
		}
		if b.RunTo(name) {
			fmt.Fprintf(c.w, "stopped at %s\n", name)
		} else {
			fmt.Fprintf(c.w, "cycle completed without reaching %s\n", name)
		}
		return nil
	default:
		return fmt.Errorf("bp: unknown subcommand %q", sub)
	}
	fmt.Fprintf(c.w, "phase %v\n", c.z.Driver().Phase())
	return nil
}
