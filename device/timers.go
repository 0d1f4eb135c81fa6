/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"math/rand"
	"sync"
	"time"
)

// Timer is a one-shot, reschedulable alarm driving one edge of the peer
// timer state machine. It wraps time.AfterFunc rather than the raw
// channel-driven timers of older WireGuard implementations, matching the
// *Timer field type the peer already declares.
type Timer struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

func newPeerTimer(peer *Peer, expire func(*Peer)) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(time.Hour, func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
		expire(peer)
	})
	t.timer.Stop()
	return t
}

func (t *Timer) Mod(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = true
	t.timer.Reset(d)
}

func (t *Timer) Del() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = false
	t.timer.Stop()
}

func (t *Timer) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func jitter() time.Duration {
	return time.Duration(rand.Intn(RekeyTimeoutJitterMaxMs)) * time.Millisecond
}

// timersInit allocates the five timers driving a peer's handshake and
// keepalive state machine: handshake-initiation retry, rekey-attempt
// giving up (folded into the retransmit/zero-key pair below), keepalive
// sent, persistent keepalive, and new-handshake.
func (peer *Peer) timersInit() {
	peer.timers.retransmitHandshake = newPeerTimer(peer, expiredRetransmitHandshake)
	peer.timers.sendKeepalive = newPeerTimer(peer, expiredSendKeepalive)
	peer.timers.newHandshake = newPeerTimer(peer, expiredNewHandshake)
	peer.timers.zeroKeyMaterial = newPeerTimer(peer, expiredZeroKeyMaterial)
	peer.timers.persistentKeepalive = newPeerTimer(peer, expiredPersistentKeepalive)
}

func (peer *Peer) timersStart() {
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.timers.needAnotherKeepalive.Store(false)
}

func (peer *Peer) timersStop() {
	peer.timers.retransmitHandshake.Del()
	peer.timers.sendKeepalive.Del()
	peer.timers.newHandshake.Del()
	peer.timers.zeroKeyMaterial.Del()
	peer.timers.persistentKeepalive.Del()
}

// expiredRetransmitHandshake fires every RekeyTimeout (plus jitter) while a
// handshake is outstanding. After MaxTimerHandshakes attempts (~RekeyAttemptTime),
// it gives up: clears the endpoint if roaming is allowed, and schedules key
// material for zeroing.
func expiredRetransmitHandshake(peer *Peer) {
	if peer.timers.handshakeAttempts.Load() > MaxTimerHandshakes {
		peer.device.log.Verbosef("%v - Handshake did not complete after %d attempts, giving up", peer, MaxTimerHandshakes+1)

		peer.endpoint.Lock()
		if !peer.endpoint.disableRoaming {
			peer.endpoint.val = nil
		}
		peer.endpoint.Unlock()

		peer.timers.zeroKeyMaterial.Mod(RejectAfterTime * 3)
		return
	}

	peer.timers.handshakeAttempts.Add(1)
	peer.device.log.Verbosef("%v - Retrying handshake, attempt %d", peer, peer.timers.handshakeAttempts.Load()+1)

	peer.endpoint.Lock()
	peer.endpoint.val = nil
	peer.endpoint.Unlock()

	if err := peer.SendHandshakeInitiation(true); err != nil {
		peer.device.log.Errorf("%v - Failed to send handshake initiation: %v", peer, err)
	}
}

// expiredSendKeepalive sends an empty keepalive KeepaliveTimeout after the
// last data receipt, then optionally sends one more if traffic arrived
// while this one was in flight.
func expiredSendKeepalive(peer *Peer) {
	peer.SendKeepalive()
	if peer.timers.needAnotherKeepalive.Load() {
		peer.timers.needAnotherKeepalive.Store(false)
		peer.timers.sendKeepalive.Mod(KeepaliveTimeout)
	}
}

// expiredNewHandshake implements NewHandshake: if no authenticated packet
// has arrived within KEEPALIVE_TIMEOUT+REKEY_TIMEOUT of sending one, start a
// fresh handshake.
func expiredNewHandshake(peer *Peer) {
	peer.device.log.Verbosef("%v - Retrying handshake because we stopped hearing back", peer)
	peer.endpoint.Lock()
	peer.endpoint.val = nil
	peer.endpoint.Unlock()
	if err := peer.SendHandshakeInitiation(false); err != nil {
		peer.device.log.Errorf("%v - Failed to send handshake initiation: %v", peer, err)
	}
}

func expiredZeroKeyMaterial(peer *Peer) {
	peer.device.log.Verbosef("%v - Removing all keys, since we haven't received a new one in %v", peer, RejectAfterTime*3)
	peer.ZeroAndFlushAll()
}

func expiredPersistentKeepalive(peer *Peer) {
	if peer.persistentKeepaliveInterval.Load() > 0 {
		peer.SendKeepalive()
	}
}

// timersAnyAuthenticatedPacketTraversal reschedules the persistent-keepalive
// timer: any authenticated packet in either direction resets the interval.
func (peer *Peer) timersAnyAuthenticatedPacketTraversal() {
	interval := peer.persistentKeepaliveInterval.Load()
	if interval > 0 {
		peer.timers.persistentKeepalive.Mod(time.Duration(interval) * time.Second)
	}
}

// timersAnyAuthenticatedPacketSent arms NewHandshake: if nothing comes back
// within KEEPALIVE_TIMEOUT+REKEY_TIMEOUT, retry.
func (peer *Peer) timersAnyAuthenticatedPacketSent() {
	peer.timers.newHandshake.Mod(KeepaliveTimeout + RekeyTimeout + jitter())
}

// timersAnyAuthenticatedPacketReceived cancels the pending NewHandshake
// retry, since we just heard back.
func (peer *Peer) timersAnyAuthenticatedPacketReceived() {
	peer.timers.newHandshake.Del()
}

// timersHandshakeInitiated arms HandshakeInitiationRetry.
func (peer *Peer) timersHandshakeInitiated() {
	peer.timers.retransmitHandshake.Mod(RekeyTimeout + jitter())
}

// timersSessionDerived arms the zero-key timeout: if a handshake produces a
// session but somehow never finishes, clean up after REJECT_AFTER_TIME*3.
func (peer *Peer) timersSessionDerived() {
	peer.timers.zeroKeyMaterial.Mod(RejectAfterTime * 3)
}

// timersHandshakeComplete cancels retransmission and records the
// last-handshake timestamp.
func (peer *Peer) timersHandshakeComplete() {
	peer.timers.retransmitHandshake.Del()
	peer.timers.handshakeAttempts.Store(0)
	peer.timers.sentLastMinuteHandshake.Store(false)
	peer.lastHandshakeNano.Store(time.Now().UnixNano())
}

// timersDataSent implements RekeyAfterTime/NewHandshake arming on the send
// path: schedule a rekey attempt if nothing is already pending.
func (peer *Peer) timersDataSent() {
	if !peer.timers.newHandshake.IsPending() {
		peer.timers.newHandshake.Mod(KeepaliveTimeout + RekeyTimeout + jitter())
	}
}

// timersDataReceived implements KeepaliveSent arming on the receive path.
func (peer *Peer) timersDataReceived() {
	if !peer.timers.sendKeepalive.IsPending() {
		peer.timers.sendKeepalive.Mod(KeepaliveTimeout)
	} else {
		peer.timers.needAnotherKeepalive.Store(true)
	}
}
