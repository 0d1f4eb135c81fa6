/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/titun/titun/internal/tai64n"
)

type handshakeState int

const (
	handshakeZeroed = handshakeState(iota)
	handshakeInitiationCreated
	handshakeInitiationConsumed
	handshakeResponseCreated
	handshakeResponseConsumed
)

func (hs handshakeState) String() string {
	switch hs {
	case handshakeZeroed:
		return "handshakeZeroed"
	case handshakeInitiationCreated:
		return "handshakeInitiationCreated"
	case handshakeInitiationConsumed:
		return "handshakeInitiationConsumed"
	case handshakeResponseCreated:
		return "handshakeResponseCreated"
	case handshakeResponseConsumed:
		return "handshakeResponseConsumed"
	default:
		return fmt.Sprintf("Handshake(UNKNOWN:%d)", int(hs))
	}
}

type Handshake struct {
	state                     handshakeState
	mutex                     sync.RWMutex
	hash                      [blake2s.Size]byte       // transcript hash
	chainKey                  [blake2s.Size]byte       // symmetric chaining key
	presharedKey              NoisePresharedKey        // psk
	localEphemeral            NoisePrivateKey          // ephemeral secret key
	localIndex                uint32                   // used to clear hash-table
	remoteIndex               uint32                   // index for sending
	remoteStatic              NoisePublicKey           // long term key
	remoteEphemeral           NoisePublicKey           // ephemeral public key
	precomputedStaticStatic   [NoisePublicKeySize]byte // precomputed shared secret
	lastTimestamp             tai64n.Timestamp
	lastInitiationConsumption time.Time
	lastSentHandshake         time.Time
}

var (
	InitialChainKey [blake2s.Size]byte
	InitialHash     [blake2s.Size]byte
	ZeroNonce       [chacha20poly1305.NonceSize]byte
)

func init() {
	InitialChainKey = blake2s.Sum256([]byte(NoiseConstruction))
	mixHash(&InitialHash, &InitialChainKey, []byte(WGIdentifier))
}

func mixKey(dst, c *[blake2s.Size]byte, data []byte) {
	KDF1(dst, c[:], data)
}

func mixHash(dst, h *[blake2s.Size]byte, data []byte) {
	hash, _ := blake2s.New256(nil)
	hash.Write(h[:])
	hash.Write(data)
	hash.Sum(dst[:0])
	hash.Reset()
}

func (h *Handshake) Clear() {
	setZero(h.localEphemeral[:])
	setZero(h.remoteEphemeral[:])
	setZero(h.chainKey[:])
	setZero(h.hash[:])
	h.localIndex = 0
	h.state = handshakeZeroed
}

func (h *Handshake) mixHash(data []byte) {
	mixHash(&h.hash, &h.hash, data)
}

func (h *Handshake) mixKey(data []byte) {
	mixKey(&h.chainKey, &h.chainKey, data)
}

// deriveEncryptionKey advances chainKey with ikm via KDF2 and returns the
// sibling AEAD key produced alongside it. Every handshake message encrypts
// one field this way: static key, timestamp, and (via mixPSK below) the
// empty authenticator.
func deriveEncryptionKey(chainKey *[blake2s.Size]byte, ikm []byte) [chacha20poly1305.KeySize]byte {
	var key [chacha20poly1305.KeySize]byte
	KDF2(chainKey, &key, chainKey[:], ikm)
	return key
}

// mixPresharedKey folds the preshared key into chainKey and hash via KDF3,
// returning the AEAD key used to authenticate the response's empty payload.
// Shared by the response creator and consumer so the derivation can't drift
// between the two sides.
func mixPresharedKey(chainKey, hash *[blake2s.Size]byte, psk NoisePresharedKey) [chacha20poly1305.KeySize]byte {
	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	KDF3(chainKey, &tau, &key, chainKey[:], psk[:])
	mixHash(hash, hash, tau[:])
	return key
}

func seal(key [chacha20poly1305.KeySize]byte, dst, plaintext, additional []byte) {
	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(dst, ZeroNonce[:], plaintext, additional)
}

func open(key [chacha20poly1305.KeySize]byte, dst, ciphertext, additional []byte) error {
	aead, _ := chacha20poly1305.New(key[:])
	_, err := aead.Open(dst, ZeroNonce[:], ciphertext, additional)
	return err
}

// CreateMessageInitiation begins a handshake: it generates a fresh
// ephemeral keypair, seals our static key and a timestamp against the
// growing transcript, and registers the handshake under a fresh index.
func (device *Device) CreateMessageInitiation(peer *Peer) (*MessageInitiation, error) {
	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	var err error
	handshake.hash = InitialHash
	handshake.chainKey = InitialChainKey
	handshake.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}

	handshake.mixHash(handshake.remoteStatic[:])

	msg := MessageInitiation{
		Type:      MessageInitiationType,
		Ephemeral: handshake.localEphemeral.publicKey(),
	}

	handshake.mixKey(msg.Ephemeral[:])
	handshake.mixHash(msg.Ephemeral[:])

	ss, err := handshake.localEphemeral.sharedSecret(handshake.remoteStatic)
	if err != nil {
		return nil, err
	}
	key := deriveEncryptionKey(&handshake.chainKey, ss[:])
	seal(key, msg.Static[:0], device.staticIdentity.publicKey[:], handshake.hash[:])
	handshake.mixHash(msg.Static[:])

	if isZero(handshake.precomputedStaticStatic[:]) {
		return nil, errInvalidPublicKey
	}
	key = deriveEncryptionKey(&handshake.chainKey, handshake.precomputedStaticStatic[:])
	timestamp := tai64n.Now()
	seal(key, msg.Timestamp[:0], timestamp[:], handshake.hash[:])

	device.indexTable.Delete(handshake.localIndex)
	msg.Sender, err = device.indexTable.NewIndexForHandshake(peer, handshake)
	if err != nil {
		return nil, err
	}
	handshake.localIndex = msg.Sender

	handshake.mixHash(msg.Timestamp[:])
	handshake.state = handshakeInitiationCreated
	return &msg, nil
}

// consumedInitiation holds the transcript state recovered while validating
// an inbound initiation, before it is known whether the message should be
// accepted (replay/flood checks happen after decryption succeeds).
type consumedInitiation struct {
	hash      [blake2s.Size]byte
	chainKey  [blake2s.Size]byte
	peerKey   NoisePublicKey
	timestamp tai64n.Timestamp
}

// openInitiation runs the static-key and timestamp decryption steps shared
// by every inbound initiation, independent of which peer it names.
func (device *Device) openInitiation(msg *MessageInitiation) (*consumedInitiation, bool) {
	var out consumedInitiation

	mixHash(&out.hash, &InitialHash, device.staticIdentity.publicKey[:])
	mixHash(&out.hash, &out.hash, msg.Ephemeral[:])
	mixKey(&out.chainKey, &InitialChainKey, msg.Ephemeral[:])

	ss, err := device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
	if err != nil {
		return nil, false
	}
	key := deriveEncryptionKey(&out.chainKey, ss[:])
	if err := open(key, out.peerKey[:0], msg.Static[:], out.hash[:]); err != nil {
		return nil, false
	}
	mixHash(&out.hash, &out.hash, msg.Static[:])

	return &out, true
}

func (device *Device) ConsumeMessageInitiation(msg *MessageInitiation) *Peer {
	if msg.Type != MessageInitiationType {
		return nil
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	consumed, ok := device.openInitiation(msg)
	if !ok {
		return nil
	}

	peer := device.LookupPeer(consumed.peerKey)
	if peer == nil || !peer.isRunning.Load() {
		return nil
	}

	handshake := &peer.handshake

	handshake.mutex.RLock()
	if isZero(handshake.precomputedStaticStatic[:]) {
		handshake.mutex.RUnlock()
		return nil
	}
	key := deriveEncryptionKey(&consumed.chainKey, handshake.precomputedStaticStatic[:])
	if err := open(key, consumed.timestamp[:0], msg.Timestamp[:], consumed.hash[:]); err != nil {
		handshake.mutex.RUnlock()
		return nil
	}
	mixHash(&consumed.hash, &consumed.hash, msg.Timestamp[:])

	replay := !consumed.timestamp.After(handshake.lastTimestamp)
	flood := time.Since(handshake.lastInitiationConsumption) <= HandshakeInitationRate
	handshake.mutex.RUnlock()
	if replay {
		device.log.Verbosef("%v - ConsumeMessageInitiation: handshake replay @ %v", peer, consumed.timestamp)
		return nil
	}
	if flood {
		device.log.Verbosef("%v - ConsumeMessageInitiation: handshake flood", peer)
		return nil
	}

	handshake.mutex.Lock()
	handshake.hash = consumed.hash
	handshake.chainKey = consumed.chainKey
	handshake.remoteIndex = msg.Sender
	handshake.remoteEphemeral = msg.Ephemeral
	if consumed.timestamp.After(handshake.lastTimestamp) {
		handshake.lastTimestamp = consumed.timestamp
	}
	if now := time.Now(); now.After(handshake.lastInitiationConsumption) {
		handshake.lastInitiationConsumption = now
	}
	handshake.state = handshakeInitiationConsumed
	handshake.mutex.Unlock()

	setZero(consumed.hash[:])
	setZero(consumed.chainKey[:])

	return peer
}

// CreateMessageResponse completes the 3-way DH and authenticates the
// transcript with an empty, psk-keyed payload.
func (device *Device) CreateMessageResponse(peer *Peer) (*MessageResponse, error) {
	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	if handshake.state != handshakeInitiationConsumed {
		return nil, errors.New("handshake initiation must be consumed first")
	}

	var err error
	device.indexTable.Delete(handshake.localIndex)
	handshake.localIndex, err = device.indexTable.NewIndexForHandshake(peer, handshake)
	if err != nil {
		return nil, err
	}

	var msg MessageResponse
	msg.Type = MessageResponseType
	msg.Sender = handshake.localIndex
	msg.Receiver = handshake.remoteIndex

	handshake.localEphemeral, err = newPrivateKey()
	if err != nil {
		return nil, err
	}
	msg.Ephemeral = handshake.localEphemeral.publicKey()
	handshake.mixHash(msg.Ephemeral[:])
	handshake.mixKey(msg.Ephemeral[:])

	ss, err := handshake.localEphemeral.sharedSecret(handshake.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	handshake.mixKey(ss[:])
	ss, err = handshake.localEphemeral.sharedSecret(handshake.remoteStatic)
	if err != nil {
		return nil, err
	}
	handshake.mixKey(ss[:])

	key := mixPresharedKey(&handshake.chainKey, &handshake.hash, handshake.presharedKey)
	seal(key, msg.Empty[:0], nil, handshake.hash[:])
	handshake.mixHash(msg.Empty[:])

	handshake.state = handshakeResponseCreated
	return &msg, nil
}

// verifyResponseTranscript redoes the 3-way DH and psk mixing against a
// snapshot of the handshake, returning the resulting transcript state only
// if the response's authenticator checks out. It never mutates handshake.
func verifyResponseTranscript(device *Device, handshake *Handshake, msg *MessageResponse) (hash, chainKey [blake2s.Size]byte, ok bool) {
	handshake.mutex.RLock()
	defer handshake.mutex.RUnlock()

	if handshake.state != handshakeInitiationCreated {
		return hash, chainKey, false
	}

	device.staticIdentity.RLock()
	defer device.staticIdentity.RUnlock()

	mixHash(&hash, &handshake.hash, msg.Ephemeral[:])
	mixKey(&chainKey, &handshake.chainKey, msg.Ephemeral[:])

	ss, err := handshake.localEphemeral.sharedSecret(msg.Ephemeral)
	if err != nil {
		return hash, chainKey, false
	}
	mixKey(&chainKey, &chainKey, ss[:])
	setZero(ss[:])

	ss, err = device.staticIdentity.privateKey.sharedSecret(msg.Ephemeral)
	if err != nil {
		return hash, chainKey, false
	}
	mixKey(&chainKey, &chainKey, ss[:])
	setZero(ss[:])

	key := mixPresharedKey(&chainKey, &hash, handshake.presharedKey)
	if err := open(key, nil, msg.Empty[:], hash[:]); err != nil {
		return hash, chainKey, false
	}
	mixHash(&hash, &hash, msg.Empty[:])

	return hash, chainKey, true
}

func (device *Device) ConsumeMessageResponse(msg *MessageResponse) *Peer {
	if msg.Type != MessageResponseType {
		return nil
	}

	lookup := device.indexTable.Lookup(msg.Receiver)
	handshake := lookup.handshake
	if handshake == nil {
		return nil
	}

	hash, chainKey, ok := verifyResponseTranscript(device, handshake, msg)
	if !ok {
		return nil
	}

	handshake.mutex.Lock()
	handshake.hash = hash
	handshake.chainKey = chainKey
	handshake.remoteIndex = msg.Sender
	handshake.state = handshakeResponseConsumed
	handshake.mutex.Unlock()

	setZero(hash[:])
	setZero(chainKey[:])

	return lookup.peer
}

// sessionRole identifies which side of the handshake a keypair is being
// derived for; the two sides swap send/receive key order and storage slot.
type sessionRole int

const (
	roleResponder sessionRole = iota
	roleInitiator
)

// BeginSymmetricSession turns a completed handshake transcript into a live
// transport keypair and installs it in the peer's keypair slots.
func (peer *Peer) BeginSymmetricSession() error {
	device := peer.device
	handshake := &peer.handshake
	handshake.mutex.Lock()
	defer handshake.mutex.Unlock()

	var role sessionRole
	var sendKey, recvKey [chacha20poly1305.KeySize]byte

	switch handshake.state {
	case handshakeResponseConsumed:
		KDF2(&sendKey, &recvKey, handshake.chainKey[:], nil)
		role = roleInitiator
	case handshakeResponseCreated:
		KDF2(&recvKey, &sendKey, handshake.chainKey[:], nil)
		role = roleResponder
	default:
		return fmt.Errorf("invalid state for keypair derivation: %v", handshake.state)
	}

	setZero(handshake.chainKey[:])
	setZero(handshake.hash[:])
	setZero(handshake.localEphemeral[:])
	handshake.state = handshakeZeroed

	keypair := newKeypairFromSession(sendKey, recvKey, role == roleInitiator, handshake.localIndex, handshake.remoteIndex)
	setZero(sendKey[:])
	setZero(recvKey[:])

	device.indexTable.SwapIndexForKeypair(handshake.localIndex, keypair)
	handshake.localIndex = 0

	peer.installKeypair(keypair, role)
	return nil
}

func newKeypairFromSession(sendKey, recvKey [chacha20poly1305.KeySize]byte, isInitiator bool, localIndex, remoteIndex uint32) *Keypair {
	keypair := new(Keypair)
	keypair.send, _ = chacha20poly1305.New(sendKey[:])
	keypair.receive, _ = chacha20poly1305.New(recvKey[:])
	keypair.created = time.Now()
	keypair.replayFilter.Reset()
	keypair.isInitiator = isInitiator
	keypair.localIndex = localIndex
	keypair.remoteIndex = remoteIndex
	return keypair
}

// installKeypair rotates a freshly derived keypair into the peer's
// previous/current/next slots. An initiator knows the handshake completed
// on the peer's side (it just consumed their response) and can promote
// straight to current; a responder can't yet know its response arrived, so
// the keypair waits in next until ReceivedWithKeypair confirms it.
func (peer *Peer) installKeypair(keypair *Keypair, role sessionRole) {
	device := peer.device
	keypairs := &peer.keypairs
	keypairs.Lock()
	defer keypairs.Unlock()

	previous := keypairs.previous
	next := keypairs.next.Load()
	current := keypairs.current

	if role == roleInitiator {
		if next != nil {
			keypairs.next.Store(nil)
			keypairs.previous = next
			device.DeleteKeypair(current)
		} else {
			keypairs.previous = current
		}
		device.DeleteKeypair(previous)
		keypairs.current = keypair
		return
	}

	keypairs.next.Store(keypair)
	device.DeleteKeypair(next)
	keypairs.previous = nil
	device.DeleteKeypair(previous)
}

// ReceivedWithKeypair implements the responder's passive key confirmation:
// a responder cannot know its handshake response arrived, so the derived
// keypair sits in keypairs.next until the peer sends the first transport
// packet sealed with it, at which point next is promoted to current.
func (peer *Peer) ReceivedWithKeypair(receivedKeypair *Keypair) bool {
	keypairs := &peer.keypairs

	if keypairs.next.Load() != receivedKeypair {
		return false
	}

	keypairs.Lock()
	defer keypairs.Unlock()

	if keypairs.next.Load() != receivedKeypair {
		return false
	}

	old := keypairs.previous
	keypairs.previous = keypairs.current
	peer.device.DeleteKeypair(old)

	keypairs.current = keypairs.next.Load()
	keypairs.next.Store(nil)

	return true
}
