/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerFiresAfterMod(t *testing.T) {
	var fired atomic.Bool
	timer := &Timer{}
	timer.timer = time.AfterFunc(time.Hour, func() {
		timer.mu.Lock()
		timer.pending = false
		timer.mu.Unlock()
		fired.Store(true)
	})
	timer.timer.Stop()

	timer.Mod(10 * time.Millisecond)
	require.True(t, timer.IsPending())

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	require.False(t, timer.IsPending())
}

func TestTimerDelCancelsPendingFire(t *testing.T) {
	var fired atomic.Bool
	timer := &Timer{}
	timer.timer = time.AfterFunc(time.Hour, func() { fired.Store(true) })
	timer.timer.Stop()

	timer.Mod(20 * time.Millisecond)
	timer.Del()
	require.False(t, timer.IsPending())

	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestTimerModReschedulesEarlier(t *testing.T) {
	var fired atomic.Bool
	timer := &Timer{}
	timer.timer = time.AfterFunc(time.Hour, func() { fired.Store(true) })
	timer.timer.Stop()

	timer.Mod(time.Hour)
	timer.Mod(10 * time.Millisecond)

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestNewPeerTimerInvokesExpireWithPeer(t *testing.T) {
	peer := &Peer{}
	done := make(chan *Peer, 1)
	timer := newPeerTimer(peer, func(p *Peer) { done <- p })
	require.False(t, timer.IsPending())

	timer.Mod(10 * time.Millisecond)
	select {
	case got := <-done:
		require.Same(t, peer, got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestJitterIsBoundedAndNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := jitter()
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, time.Duration(RekeyTimeoutJitterMaxMs)*time.Millisecond)
	}
}
