/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package replay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const noLimit = math.MaxUint64

func TestFirstCounterIsAccepted(t *testing.T) {
	var f Filter
	require.True(t, f.ValidateCounter(0, noLimit))
}

func TestDuplicateCounterIsRejected(t *testing.T) {
	var f Filter
	require.True(t, f.ValidateCounter(5, noLimit))
	require.False(t, f.ValidateCounter(5, noLimit))
}

func TestOutOfOrderWithinWindowIsAccepted(t *testing.T) {
	var f Filter
	require.True(t, f.ValidateCounter(100, noLimit))
	require.True(t, f.ValidateCounter(98, noLimit))
	require.True(t, f.ValidateCounter(99, noLimit))
	require.False(t, f.ValidateCounter(99, noLimit))
}

func TestTooOldCounterIsRejected(t *testing.T) {
	var f Filter
	require.True(t, f.ValidateCounter(windowSize+10, noLimit))
	require.False(t, f.ValidateCounter(5, noLimit))
}

func TestCounterAtOrAboveLimitIsRejected(t *testing.T) {
	var f Filter
	require.False(t, f.ValidateCounter(10, 10))
	require.True(t, f.ValidateCounter(9, 10))
}

func TestResetClearsWindow(t *testing.T) {
	var f Filter
	require.True(t, f.ValidateCounter(5, noLimit))
	require.False(t, f.ValidateCounter(5, noLimit))

	f.Reset()
	require.True(t, f.ValidateCounter(5, noLimit))
}

func TestSlidingWindowAdvancesMonotonically(t *testing.T) {
	var f Filter
	for i := uint64(0); i < uint64(windowSize*2); i++ {
		require.True(t, f.ValidateCounter(i, noLimit))
	}
	// Counters far behind the trailing edge of the window must now be
	// rejected even though they were never seen before.
	require.False(t, f.ValidateCounter(0, noLimit))
}
