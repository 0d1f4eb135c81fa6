/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ratelimiter

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenThrottle(t *testing.T) {
	var rl Ratelimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	ip := netip.MustParseAddr("192.0.2.1")

	for i := 0; i < packetsBurstable-1; i++ {
		require.True(t, rl.Allow(ip), "burst packet %d should be allowed", i)
	}
	require.False(t, rl.Allow(ip), "the bucket should be exhausted once its tokens run out")
}

func TestAllowRefillsOverTime(t *testing.T) {
	var rl Ratelimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	ip := netip.MustParseAddr("192.0.2.2")
	for i := 0; i < packetsBurstable-1; i++ {
		require.True(t, rl.Allow(ip))
	}
	require.False(t, rl.Allow(ip))

	now = now.Add(time.Second)
	require.True(t, rl.Allow(ip), "a full second of refill should allow another packet")
}

func TestAllowIsPerSourceIndependent(t *testing.T) {
	var rl Ratelimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	a := netip.MustParseAddr("192.0.2.3")
	b := netip.MustParseAddr("192.0.2.4")

	for i := 0; i < packetsBurstable-1; i++ {
		require.True(t, rl.Allow(a))
	}
	require.False(t, rl.Allow(a))
	require.True(t, rl.Allow(b), "a different source must have its own bucket")
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	var rl Ratelimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	ip := netip.MustParseAddr("192.0.2.5")
	require.True(t, rl.Allow(ip))

	now = now.Add(garbageCollectTime + time.Second)
	require.True(t, rl.cleanup())

	rl.mu.RLock()
	_, exists := rl.table[ip]
	rl.mu.RUnlock()
	require.False(t, exists)
}
