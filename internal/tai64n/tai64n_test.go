/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package tai64n

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsMonotonicallyComparable(t *testing.T) {
	t1 := Now()
	time.Sleep(1100 * time.Millisecond)
	t2 := Now()

	require.True(t, t2.After(t1))
	require.False(t, t1.After(t2))
}

func TestEqualTimestampsAreNotAfterEachOther(t *testing.T) {
	ts := Now()
	require.False(t, ts.After(ts))
}

func TestZeroTimestampIsBeforeNow(t *testing.T) {
	var zero Timestamp
	now := Now()
	require.True(t, now.After(zero))
	require.False(t, zero.After(now))
}
