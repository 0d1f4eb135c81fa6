/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package replay implements the sliding-window anti-replay filter each
// transport session uses to reject duplicate or too-old counters, per the
// algorithm WireGuard publishes: a 2048-bit bitmap trailing the greatest
// counter value accepted so far.
package replay

const (
	// WindowSize matches the published 2048-bit replay window (64-bit
	// base, 32 uint64 words of bitmap).
	windowSize  = 2048
	blockBits   = 64
	blockCount  = windowSize / blockBits
)

// Filter is a per-session anti-replay window. The zero value is ready to
// use. It is not safe for concurrent use by multiple goroutines; callers
// serialize access per session (e.g. behind the peer's sequential receiver).
type Filter struct {
	last   uint64
	block  [blockCount]uint64
	inited bool
}

// Reset clears the filter, as done whenever a keypair is (re)installed.
func (f *Filter) Reset() {
	f.inited = true
	f.last = 0
	for i := range f.block {
		f.block[i] = 0
	}
}

// ValidateCounter reports whether counter is acceptable under this replay
// window, and if so records it, sliding the window forward when counter
// exceeds the highest counter seen so far. limit bounds counter values this
// filter will ever accept (REJECT_AFTER_MESSAGES).
func (f *Filter) ValidateCounter(counter, limit uint64) bool {
	if !f.inited {
		f.Reset()
	}
	if counter >= limit {
		return false
	}

	indexBlock := counter / blockBits

	if counter > f.last {
		// Slide the window forward to cover the new counter, zeroing
		// blocks that fall out of the trailing windowSize range.
		diff := indexBlock - f.last/blockBits
		if diff > blockCount {
			diff = blockCount
		}
		for i := uint64(0); i < diff; i++ {
			f.block[(f.last/blockBits+i+1)%blockCount] = 0
		}
		f.last = counter
	} else if f.last-counter >= windowSize {
		// Too old to be represented in the window at all.
		return false
	}

	indexBlock %= blockCount
	indexBit := counter % blockBits

	old := f.block[indexBlock]
	f.block[indexBlock] |= 1 << indexBit
	return old&(1<<indexBit) == 0
}
