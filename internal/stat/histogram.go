// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stat

import (
	"math/bits"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

const (
	// For the time histogram type, we use an HDR histogram
	// with a maximum error of 1/timeHistNumSubBuckets*100%.
	//
	// timeHistNumBuckets defines the range of the histogram.
	// 48 buckets corresponds to a maximum supported duration
	// of approx. 3 days.
	timeHistSubBucketBits = 4
	timeHistNumSubBuckets = 1 << timeHistSubBucketBits
	timeHistNumBuckets    = 48 - (timeHistSubBucketBits - 1)
	timeHistTotalBuckets  = timeHistNumBuckets * timeHistNumSubBuckets
)

// TimeHistogram is a distribution of durations in nanoseconds.
//
// It is an HDR histogram with exponentially-distributed buckets and
// linearly distributed sub-buckets. Counts are updated atomically, so it
// is safe for concurrent use.
//
// TimeHistogram implements the go-moremath stats.Histogram interface
// with one bin per sub-bucket and values in nanoseconds.
type TimeHistogram struct {
	_        cpu.CacheLinePad
	counts   [timeHistTotalBuckets]atomic.Uint64
	overflow atomic.Uint64
	_        cpu.CacheLinePad
}

// Record adds d to the distribution. d must be non-negative.
func (h *TimeHistogram) Record(d time.Duration) {
	if d < 0 {
		panic("stat: TimeHistogram encountered negative duration")
	}
	duration := uint64(d)
	// The index of the exponential bucket is just the index of the
	// highest set bit adjusted for how many bits we use for the
	// sub-bucket. Bucket 0 holds values < timeHistNumSubBuckets
	// directly.
	var bucket, subBucket uint
	if duration >= timeHistNumSubBuckets {
		bucket = uint(bits.Len64(duration)) - timeHistSubBucketBits
		if bucket >= timeHistNumBuckets {
			h.overflow.Add(1)
			return
		}
		// The linear sub-bucket index is the timeHistSubBucketBits
		// bits after the top bit. Shifting leaves the top bit and
		// those bits; the modulus drops the top bit.
		subBucket = uint((duration >> (bucket - 1)) % timeHistNumSubBuckets)
	} else {
		subBucket = uint(duration)
	}
	h.counts[bucket*timeHistNumSubBuckets+subBucket].Add(1)
}

// Add records x nanoseconds.
func (h *TimeHistogram) Add(x float64) {
	if x < 0 {
		x = 0
	}
	h.Record(time.Duration(x))
}

// Counts returns a snapshot of the bin counts. Nothing is ever below
// the lowest bin; over counts durations beyond the supported range.
func (h *TimeHistogram) Counts() (under uint, counts []uint, over uint) {
	counts = make([]uint, timeHistTotalBuckets)
	for i := range h.counts {
		counts[i] = uint(h.counts[i].Load())
	}
	return 0, counts, uint(h.overflow.Load())
}

// Total returns the number of recorded durations.
func (h *TimeHistogram) Total() uint64 {
	n := h.overflow.Load()
	for i := range h.counts {
		n += h.counts[i].Load()
	}
	return n
}

// BinToValue returns the lower bound in nanoseconds of bin, interpolating
// linearly for fractional bins.
func (h *TimeHistogram) BinToValue(bin float64) float64 {
	i := int(bin)
	lo := binLowerBound(i)
	if frac := bin - float64(i); frac > 0 {
		return lo + frac*(binLowerBound(i+1)-lo)
	}
	return lo
}

func binLowerBound(i int) float64 {
	bucket, subBucket := uint(i/timeHistNumSubBuckets), uint(i%timeHistNumSubBuckets)
	if bucket == 0 {
		return float64(subBucket)
	}
	return float64(uint64(timeHistNumSubBuckets+subBucket) << (bucket - 1))
}
