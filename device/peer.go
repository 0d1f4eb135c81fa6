/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Peer represents a remote WireGuard endpoint and all state needed to
// exchange packets with it.
type Peer struct {
	isRunning         atomic.Bool
	keypairs          Keypairs
	handshake         Handshake
	device            *Device
	stopping          sync.WaitGroup // routines pending teardown
	txBytes           atomic.Uint64
	rxBytes           atomic.Uint64
	lastHandshakeNano atomic.Int64

	endpoint struct {
		sync.Mutex
		val            Endpoint
		clearSrcOnTx   bool // clear the cached source address before the next send
		disableRoaming bool
	}

	timers struct {
		retransmitHandshake     *Timer
		sendKeepalive           *Timer
		newHandshake            *Timer
		zeroKeyMaterial         *Timer
		persistentKeepalive     *Timer
		handshakeAttempts       atomic.Uint32
		needAnotherKeepalive    atomic.Bool
		sentLastMinuteHandshake atomic.Bool
	}

	state struct {
		sync.Mutex // guards against concurrent Start/Stop
	}

	queue struct {
		staged   chan *QueueOutboundElementsContainer // packets waiting on a handshake
		outbound *autodrainingOutboundQueue            // packets in send order
		inbound  *autodrainingInboundQueue             // packets in receive order, bound for the TUN device
	}

	cookieGenerator             CookieGenerator
	trieEntries                 list.List
	persistentKeepaliveInterval atomic.Uint32
}

// NewPeer creates and registers a new peer identified by pk.
func (device *Device) NewPeer(pk NoisePublicKey) (*Peer, error) {
	if device.isClosed() {
		return nil, errors.New("device closed")
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	device.peers.Lock()
	defer device.peers.Unlock()

	if len(device.peers.keyMap) >= MaxPeers {
		return nil, errors.New("too many peers")
	}

	peer := new(Peer)

	peer.cookieGenerator.Init(pk)
	peer.device = device

	peer.queue.outbound = newAutodrainingOutboundQueue(device)
	peer.queue.inbound = newAutodrainingInboundQueue(device)
	peer.queue.staged = make(chan *QueueOutboundElementsContainer, QueueStagedSize)

	_, ok := device.peers.keyMap[pk]
	if ok {
		return nil, errors.New("adding existing peer")
	}

	handshake := &peer.handshake
	handshake.mutex.Lock()
	handshake.precomputedStaticStatic, _ = device.staticIdentity.privateKey.sharedSecret(pk)
	handshake.remoteStatic = pk
	handshake.mutex.Unlock()

	peer.endpoint.Lock()
	peer.endpoint.val = nil
	peer.endpoint.disableRoaming = false
	peer.endpoint.clearSrcOnTx = false
	peer.endpoint.Unlock()

	peer.timersInit()

	device.peers.keyMap[pk] = peer

	return peer, nil
}

// SendBuffers sends buffers to the peer's current endpoint over the device's bind.
func (peer *Peer) SendBuffers(buffers [][]byte) error {
	peer.device.net.RLock()
	defer peer.device.net.RUnlock()

	if peer.device.isClosed() {
		return nil
	}

	peer.endpoint.Lock()
	endpoint := peer.endpoint.val
	if endpoint == nil {
		peer.endpoint.Unlock()
		return errors.New("no known endpoint for peer")
	}

	if peer.endpoint.clearSrcOnTx {
		endpoint.ClearSrc()
		peer.endpoint.clearSrcOnTx = false
	}
	peer.endpoint.Unlock()

	err := peer.device.net.bind.Send(buffers, endpoint)
	if err == nil {
		var totalLen uint64
		for _, b := range buffers {
			totalLen += uint64(len(b))
		}
		peer.txBytes.Add(totalLen)
	}
	return err
}

// String renders the peer as "peer(XXXX…YYYY)" using the first and last
// three bytes of its public key, base64 encoded.
func (peer *Peer) String() string {
	// Equivalent to, but faster than:
	//
	//   base64Key := base64.StdEncoding.EncodeToString(peer.handshake.remoteStatic[:])
	//   abbreviatedKey := base64Key[0:4] + "…" + base64Key[39:43]
	//   return fmt.Sprintf("peer(%s)", abbreviatedKey)

	src := peer.handshake.remoteStatic

	b64 := func(input byte) byte {
		return input + 'A' + byte(((25-int(input))>>8)&6) - byte(((51-int(input))>>8)&75) - byte(((61-int(input))>>8)&15) + byte(((62-int(input))>>8)&3)
	}

	b := []byte("peer(____…____)")
	const first = len("peer(")
	const second = len("peer(____…")

	b[first+0] = b64((src[0] >> 2) & 63)
	b[first+1] = b64(((src[0] << 4) | (src[1] >> 4)) & 63)
	b[first+2] = b64(((src[1] << 2) | (src[2] >> 6)) & 63)
	b[first+3] = b64(src[2] & 63)

	b[second+0] = b64(src[29] & 63)
	b[second+1] = b64((src[30] >> 2) & 63)
	b[second+2] = b64(((src[30] << 4) | (src[31] >> 4)) & 63)
	b[second+3] = b64((src[31] << 2) & 63)

	return string(b)
}

// Start brings the peer's packet-processing routines up.
func (peer *Peer) Start() {
	// should never be called when the device is closed
	if peer.device.isClosed() {
		return
	}

	peer.state.Lock()
	defer peer.state.Unlock()

	if peer.isRunning.Load() {
		return
	}

	device := peer.device
	device.log.Verbosef("%v - Starting", peer)

	peer.stopping.Wait()
	peer.stopping.Add(2)

	// backdate lastSentHandshake so a new handshake fires immediately
	peer.handshake.mutex.Lock()
	peer.handshake.lastSentHandshake = time.Now().Add(-(RekeyTimeout + time.Second))
	peer.handshake.mutex.Unlock()

	peer.device.queue.encryption.wg.Add(1)

	peer.timersStart()

	device.flushInboundQueue(peer.queue.inbound)
	device.flushOutboundQueue(peer.queue.outbound)

	// the device's batch size, not the bind's: it's what the memory pools were sized for
	batchSize := peer.device.BatchSize()

	go peer.RoutineSequentialSender(batchSize)
	go peer.RoutineSequentialReceiver(batchSize)

	peer.isRunning.Store(true)
}

// ZeroAndFlushAll clears the peer's keypairs and handshake state.
func (peer *Peer) ZeroAndFlushAll() {
	device := peer.device

	keypairs := &peer.keypairs
	keypairs.Lock()
	device.DeleteKeypair(keypairs.previous)
	device.DeleteKeypair(keypairs.current)
	device.DeleteKeypair(keypairs.next.Load())
	keypairs.previous = nil
	keypairs.current = nil
	keypairs.next.Store(nil)
	keypairs.Unlock()

	handshake := &peer.handshake
	handshake.mutex.Lock()
	device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	handshake.mutex.Unlock()

	peer.FlushStagedPackets()
}

// ExpireCurrentKeypairs forces a rekey by pinning the current and next
// keypairs' send nonce at the reject threshold, so neither can send again.
func (peer *Peer) ExpireCurrentKeypairs() {
	handshake := &peer.handshake
	handshake.mutex.Lock()
	peer.device.indexTable.Delete(handshake.localIndex)
	handshake.Clear()
	peer.handshake.lastSentHandshake = time.Now().Add(-(RekeyTimeout + time.Second))
	handshake.mutex.Unlock()

	keypairs := &peer.keypairs
	keypairs.Lock()
	if keypairs.current != nil {
		keypairs.current.sendNonce.Store(RejectAfterMessages)
	}
	if next := keypairs.next.Load(); next != nil {
		next.sendNonce.Store(RejectAfterMessages)
	}
	keypairs.Unlock()
}

// Stop shuts down the peer's routines and clears its sensitive state.
func (peer *Peer) Stop() {
	peer.state.Lock()
	defer peer.state.Unlock()

	if !peer.isRunning.Swap(false) {
		return
	}

	peer.device.log.Verbosef("%v - Stopping", peer)

	peer.timersStop()

	// nil wakes RoutineSequentialSender/RoutineSequentialReceiver so they exit
	peer.queue.inbound.c <- nil
	peer.queue.outbound.c <- nil

	peer.stopping.Wait()

	peer.device.queue.encryption.wg.Done()

	peer.ZeroAndFlushAll()
}

// SetEndpointFromPacket implements roaming: the peer's endpoint tracks
// wherever its packets are actually arriving from, unless roaming is disabled.
func (peer *Peer) SetEndpointFromPacket(endpoint Endpoint) {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()

	if peer.endpoint.disableRoaming {
		return
	}

	peer.endpoint.clearSrcOnTx = false
	peer.endpoint.val = endpoint
}

// markEndpointSrcForClearing flags the endpoint's cached source address to
// be cleared before the next send, forcing the routing table to be
// consulted again (useful after an interface or route change).
func (peer *Peer) markEndpointSrcForClearing() {
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()

	if peer.endpoint.val == nil {
		return
	}

	peer.endpoint.clearSrcOnTx = true
}
