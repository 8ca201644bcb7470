// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"G", 30},
	{"M", 20},
	{"K", 10},
}

// ParseSize parses a byte count with an optional K, M or G suffix
// (binary units, case-insensitive, optional trailing B).
func ParseSize(s string) (uint64, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if len(t) > 1 && strings.HasSuffix(t, "B") {
		t = t[:len(t)-1]
	}
	var shift uint
	for _, u := range sizeSuffixes {
		if strings.HasSuffix(t, u.suffix) {
			t, shift = t[:len(t)-1], u.shift
			break
		}
	}
	n, err := strconv.ParseUint(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxUint64>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n << shift, nil
}

// FormatSize formats n with the largest suffix that divides it exactly.
func FormatSize(n uint64) string {
	if n == 0 {
		return "0"
	}
	for _, u := range sizeSuffixes {
		if n%(1<<u.shift) == 0 {
			return strconv.FormatUint(n>>u.shift, 10) + u.suffix
		}
	}
	return strconv.FormatUint(n, 10)
}
