/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/titun/titun/ratelimiter"
)

// Device is a running tunnel instance: network binding, peer set, crypto
// queues, and TUN interface bundled together.
type Device struct {
	state struct {
		// state holds deviceState, accessed atomically via device.deviceState().
		// deviceState() doesn't take the mutex, so it only ever captures a
		// snapshot: state is updated before the device itself during a
		// transition, so it's either the current state or the device's
		// intended next state (e.g. during Up(), state reads deviceStateUp
		// even though Up() may still fail). Treat unsynchronized reads as
		// advisory only.
		state atomic.Uint32
		// stopping blocks until every input to Device has been closed.
		stopping sync.WaitGroup
		sync.Mutex
	}

	net struct {
		stopping      sync.WaitGroup
		sync.RWMutex
		bind          Bind
		port          uint16
		fwmark        uint32
		brokenRoaming bool
	}

	staticIdentity struct {
		sync.RWMutex
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	peers struct {
		sync.RWMutex
		keyMap map[NoisePublicKey]*Peer
	}

	rate struct {
		underLoadUntil atomic.Int64
		limiter        ratelimiter.Ratelimiter
	}

	allowedips    AllowedIPs
	indexTable    IndexTable
	cookieChecker CookieChecker

	pool struct {
		inboundElementsContainer  *WaitPool
		outboundElementsContainer *WaitPool
		messageBuffers            *WaitPool
		inboundElements           *WaitPool
		outboundElements          *WaitPool
	}

	queue struct {
		encryption *outboundQueue
		decryption *inboundQueue
		handshake  *handshakeQueue
	}

	tun struct {
		device TUNDevice
		mtu    atomic.Int32
	}

	ipcMutex sync.RWMutex
	closed   chan struct{}
	log      *Logger
}

// deviceState is one of down, up, or closed.
//
//	down -----+
//	  ^v      v
//	  up -> closed
//
// closed is terminal: once a device is closed it cannot be brought up again.
type deviceState uint32

//go:generate go run golang.org/x/tools/cmd/stringer -type deviceState -trimprefix=deviceState
const (
	deviceStateDown deviceState = iota
	deviceStateUp
	deviceStateClosed
)

func (device *Device) deviceState() deviceState {
	return deviceState(device.state.state.Load())
}

func (device *Device) isClosed() bool {
	return device.deviceState() == deviceStateClosed
}

func (device *Device) isUp() bool {
	return device.deviceState() == deviceStateUp
}

// removePeerLocked removes peer from the device. Caller must hold
// device.peers.Lock().
func removePeerLocked(device *Device, peer *Peer, key NoisePublicKey) {
	device.allowedips.RemoveByPeer(peer)
	peer.Stop()
	delete(device.peers.keyMap, key)
}

// changeState attempts to transition the device to want, reporting any
// error encountered while bringing the new state up.
func (device *Device) changeState(want deviceState) (err error) {
	device.state.Lock()
	defer device.state.Unlock()

	old := device.deviceState()
	if old == deviceStateClosed {
		// once closed, always closed
		device.log.Verbosef("Interface closed, ignored requested state %s", want)
		return nil
	}

	switch want {
	case old:
		return nil
	case deviceStateUp:
		device.state.state.Store(uint32(deviceStateUp))
		err = device.upLocked()
		if err == nil {
			break
		}
		// bringing the device up failed; tear it back down fully
		fallthrough
	case deviceStateDown:
		device.state.state.Store(uint32(deviceStateDown))
		errDown := device.downLocked()
		if err == nil {
			err = errDown
		}
	}

	device.log.Verbosef("Interface state was %s, requested %s, now %s", old, want, device.deviceState())
	return
}

// upLocked brings the device up. Caller must hold device.state.mu and is
// responsible for updating device.state.state.
func (device *Device) upLocked() error {
	if err := device.BindUpdate(); err != nil {
		device.log.Errorf("Unable to update bind: %v", err)
		return err
	}

	// an in-flight IPC set waits for peer creation before calling Start(),
	// so wait for it to finish before starting peers here
	device.ipcMutex.Lock()
	defer device.ipcMutex.Unlock()

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.Start()
		if peer.persistentKeepaliveInterval.Load() > 0 {
			peer.SendKeepalive()
		}
	}
	device.peers.RUnlock()
	return nil
}

// downLocked brings the device down. Caller must hold device.state.mu and
// is responsible for updating device.state.state.
func (device *Device) downLocked() error {
	err := device.BindClose()
	if err != nil {
		device.log.Errorf("Bind close failed: %v", err)
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.Stop()
	}
	device.peers.RUnlock()
	return err
}

func (device *Device) Up() error {
	return device.changeState(deviceStateUp)
}

// Down stops the device without closing it; it can still be brought Up again.
func (device *Device) Down() error {
	return device.changeState(deviceStateDown)
}

// IsUnderLoad reports whether the device is currently, or was recently,
// under enough handshake load to warrant cookie-based DoS mitigation.
func (device *Device) IsUnderLoad() bool {
	now := time.Now()
	underLoad := len(device.queue.handshake.c) >= QueueHandshakeSize/8
	if underLoad {
		device.rate.underLoadUntil.Store(now.Add(UnderLoadAfterTime).UnixNano())
		return true
	}
	return device.rate.underLoadUntil.Load() > now.UnixNano()
}

// SetPrivateKey replaces the device's static private key, recomputing
// precomputed static-static DH shares for every peer and expiring any peer
// that turns out to share our new public key.
func (device *Device) SetPrivateKey(sk NoisePrivateKey) error {
	device.staticIdentity.Lock()
	defer device.staticIdentity.Unlock()

	if sk.Equals(device.staticIdentity.privateKey) {
		return nil
	}

	device.peers.Lock()
	defer device.peers.Unlock()

	lockedPeers := make([]*Peer, 0, len(device.peers.keyMap))
	for _, peer := range device.peers.keyMap {
		peer.handshake.mutex.RLock()
		lockedPeers = append(lockedPeers, peer)
	}

	// a peer whose public key matches our new one would be a self-connection
	publicKey := sk.publicKey()
	for key, peer := range device.peers.keyMap {
		if peer.handshake.remoteStatic.Equals(publicKey) {
			peer.handshake.mutex.RUnlock()
			removePeerLocked(device, peer, key)
			peer.handshake.mutex.RLock()
		}
	}

	device.staticIdentity.privateKey = sk
	device.staticIdentity.publicKey = publicKey
	device.cookieChecker.Init(publicKey)

	expiredPeers := make([]*Peer, 0, len(device.peers.keyMap))
	for _, peer := range device.peers.keyMap {
		handshake := &peer.handshake
		handshake.precomputedStaticStatic, _ = device.staticIdentity.privateKey.sharedSecret(handshake.remoteStatic)
		expiredPeers = append(expiredPeers, peer)
	}

	for _, peer := range lockedPeers {
		peer.handshake.mutex.RUnlock()
	}

	for _, peer := range expiredPeers {
		peer.ExpireCurrentKeypairs()
	}

	return nil
}

// NewDevice constructs a Device around tunDevice and bind, and starts its
// worker goroutines.
func NewDevice(tunDevice TUNDevice, bind Bind, logger *Logger) *Device {
	device := new(Device)
	device.state.state.Store(uint32(deviceStateDown))
	device.closed = make(chan struct{})
	device.log = logger

	device.net.bind = bind
	device.tun.device = tunDevice

	mtu, err := device.tun.device.MTU()
	if err != nil {
		device.log.Errorf("Trouble determining MTU, assuming default: %v", err)
		mtu = DefaultMTU
	}
	device.tun.mtu.Store(int32(mtu))

	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
	device.rate.limiter.Init()
	device.indexTable.Init()

	device.PopulatePools()

	device.queue.handshake = newHandshakeQueue()
	device.queue.encryption = newOutboundQueue()
	device.queue.decryption = newInboundQueue()

	cpus := runtime.NumCPU()
	device.state.stopping.Wait()

	device.queue.encryption.wg.Add(cpus)
	for i := 0; i < cpus; i++ {
		go device.RoutineEncryption(i + 1)
		go device.RoutineDecryption(i + 1)
		go device.RoutineHandshake(i + 1)
	}

	device.state.stopping.Add(1)
	device.queue.encryption.wg.Add(1)
	go device.RoutineReadFromTUN()
	go device.RoutineTUNEventReader()

	return device
}

// BatchSize returns the larger of the bind's and TUN device's batch sizes;
// it governs how the device's memory pools are sized.
func (device *Device) BatchSize() int {
	size := device.net.bind.BatchSize()
	dSize := device.tun.device.BatchSize()
	if size < dSize {
		size = dSize
	}
	return size
}

func (device *Device) LookupPeer(pk NoisePublicKey) *Peer {
	device.peers.RLock()
	defer device.peers.RUnlock()

	return device.peers.keyMap[pk]
}

func (device *Device) RemovePeer(key NoisePublicKey) {
	device.peers.Lock()
	defer device.peers.Unlock()

	peer, ok := device.peers.keyMap[key]
	if ok {
		removePeerLocked(device, peer, key)
	}
}

func (device *Device) RemoveAllPeers() {
	device.peers.Lock()
	defer device.peers.Unlock()

	for key, peer := range device.peers.keyMap {
		removePeerLocked(device, peer, key)
	}

	device.peers.keyMap = make(map[NoisePublicKey]*Peer)
}

// Close permanently shuts the device down. This is irreversible.
func (device *Device) Close() {
	device.state.Lock()
	defer device.state.Unlock()
	device.ipcMutex.Lock()
	defer device.ipcMutex.Unlock()

	if device.isClosed() {
		return
	}

	device.state.state.Store(uint32(deviceStateClosed))
	device.log.Verbosef("Device closing")

	device.tun.device.Close()

	device.downLocked()

	// remove peers before closing the queues, since peers assume the
	// queues are live while they run
	device.RemoveAllPeers()

	// no new peers can appear now, so these queues are done being written to
	device.queue.encryption.wg.Done()
	device.queue.decryption.wg.Done()
	device.queue.handshake.wg.Done()

	device.state.stopping.Wait()

	device.rate.limiter.Close()

	device.log.Verbosef("Device closed")
	close(device.closed)
}

// Wait returns a channel that closes once the device has been Closed.
func (device *Device) Wait() chan struct{} {
	return device.closed
}

// SendKeepalivesToPeersWithCurrentKeypair sends a keepalive to every peer
// whose current keypair is still within RejectAfterTime.
func (device *Device) SendKeepalivesToPeersWithCurrentKeypair() {
	if !device.isUp() {
		return
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.keypairs.RLock()
		sendKeepalive := peer.keypairs.current != nil && !peer.keypairs.current.created.Add(RejectAfterTime).Before(time.Now())
		peer.keypairs.RUnlock()

		if sendKeepalive {
			peer.SendKeepalive()
		}
	}
	device.peers.RUnlock()
}

// closeBindLocked closes the network bind. Caller must hold the net mutex.
func closeBindLocked(device *Device) error {
	var err error
	netc := &device.net

	if netc.bind != nil {
		err = netc.bind.Close()
	}

	netc.stopping.Wait()
	return err
}

func (device *Device) Bind() Bind {
	device.net.Lock()
	defer device.net.Unlock()
	return device.net.bind
}

func (device *Device) BindSetMark(mark uint32) error {
	device.net.Lock()
	defer device.net.Unlock()

	if device.net.fwmark == mark {
		return nil
	}

	device.net.fwmark = mark
	if device.isUp() && device.net.bind != nil {
		if err := device.net.bind.SetMark(mark); err != nil {
			return err
		}
	}

	// clear cached source addresses so the new mark takes effect on
	// every subsequent outbound packet
	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.markEndpointSrcForClearing()
	}
	device.peers.RUnlock()

	return nil
}

// BindUpdate tears down and reopens the network bind, typically after a
// listen-port change.
func (device *Device) BindUpdate() error {
	device.net.Lock()
	defer device.net.Unlock()

	if err := closeBindLocked(device); err != nil {
		return err
	}

	if !device.isUp() {
		return nil
	}

	var err error
	var recvFns []ReceiveFunc
	netc := &device.net
	recvFns, netc.port, err = netc.bind.Open(netc.port)
	if err != nil {
		netc.port = 0
		return err
	}

	if netc.fwmark != 0 {
		err = netc.bind.SetMark(netc.fwmark)
		if err != nil {
			return err
		}
	}

	device.peers.RLock()
	for _, peer := range device.peers.keyMap {
		peer.markEndpointSrcForClearing()
	}
	device.peers.RUnlock()

	device.net.stopping.Add(len(recvFns))
	device.queue.decryption.wg.Add(len(recvFns)) // each receive routine feeds the decryption queue
	device.queue.handshake.wg.Add(len(recvFns))  // and the handshake queue

	batchSize := netc.bind.BatchSize()
	for _, fn := range recvFns {
		go device.RoutineReceiveIncoming(batchSize, fn)
	}

	device.log.Verbosef("UDP bind has been updated")
	return nil
}

func (device *Device) BindClose() error {
	device.net.Lock()
	err := closeBindLocked(device)
	device.net.Unlock()
	return err
}
