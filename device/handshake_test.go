/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDevice builds a Device with just enough state initialized to drive
// the handshake functions directly, without a real UDP bind or TUN device.
func newTestDevice(t *testing.T) *Device {
	t.Helper()
	dev := &Device{}
	dev.log = NewLogger(LogLevelSilent, "")
	dev.indexTable.Init()
	dev.peers.keyMap = make(map[NoisePublicKey]*Peer)

	sk, err := newPrivateKey()
	require.NoError(t, err)
	dev.staticIdentity.privateKey = sk
	dev.staticIdentity.publicKey = sk.publicKey()
	dev.cookieChecker.Init(dev.staticIdentity.publicKey)
	return dev
}

// newTestPeer registers a peer on dev for remotePK without the full queue
// and timer machinery NewPeer sets up, since handshake tests never touch it.
func newTestPeer(t *testing.T, dev *Device, remotePK NoisePublicKey) *Peer {
	t.Helper()
	peer := &Peer{device: dev}
	peer.isRunning.Store(true)

	ss, err := dev.staticIdentity.privateKey.sharedSecret(remotePK)
	require.NoError(t, err)
	peer.handshake.precomputedStaticStatic = ss
	peer.handshake.remoteStatic = remotePK

	dev.peers.Lock()
	dev.peers.keyMap[remotePK] = peer
	dev.peers.Unlock()
	return peer
}

func TestHandshakeProducesMatchingTransportKeys(t *testing.T) {
	initiatorDev := newTestDevice(t)
	responderDev := newTestDevice(t)

	initiatorPeer := newTestPeer(t, initiatorDev, responderDev.staticIdentity.publicKey)
	responderPeer := newTestPeer(t, responderDev, initiatorDev.staticIdentity.publicKey)

	initiation, err := initiatorDev.CreateMessageInitiation(initiatorPeer)
	require.NoError(t, err)

	peer := responderDev.ConsumeMessageInitiation(initiation)
	require.Same(t, responderPeer, peer)

	response, err := responderDev.CreateMessageResponse(responderPeer)
	require.NoError(t, err)

	peer = initiatorDev.ConsumeMessageResponse(response)
	require.Same(t, initiatorPeer, peer)

	require.NoError(t, initiatorPeer.BeginSymmetricSession())
	require.NoError(t, responderPeer.BeginSymmetricSession())

	initiatorKeypair := initiatorPeer.keypairs.Current()
	responderKeypair := responderPeer.keypairs.next.Load()
	require.NotNil(t, initiatorKeypair)
	require.NotNil(t, responderKeypair)

	plaintext := []byte("hello from the initiator")
	nonce := make([]byte, 12)
	ciphertext := initiatorKeypair.send.Seal(nil, nonce, plaintext, nil)

	opened, err := responderKeypair.receive.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestConsumeMessageInitiationRejectsReplayedTimestamp(t *testing.T) {
	initiatorDev := newTestDevice(t)
	responderDev := newTestDevice(t)

	initiatorPeer := newTestPeer(t, initiatorDev, responderDev.staticIdentity.publicKey)
	newTestPeer(t, responderDev, initiatorDev.staticIdentity.publicKey)

	initiation, err := initiatorDev.CreateMessageInitiation(initiatorPeer)
	require.NoError(t, err)

	require.NotNil(t, responderDev.ConsumeMessageInitiation(initiation))
	require.Nil(t, responderDev.ConsumeMessageInitiation(initiation), "an identical initiation must be rejected as a replay")
}

func TestConsumeMessageInitiationRejectsUnknownPeer(t *testing.T) {
	initiatorDev := newTestDevice(t)
	responderDev := newTestDevice(t)

	initiatorPeer := newTestPeer(t, initiatorDev, responderDev.staticIdentity.publicKey)
	// responderDev never registers a peer for initiatorDev's public key.

	initiation, err := initiatorDev.CreateMessageInitiation(initiatorPeer)
	require.NoError(t, err)

	require.Nil(t, responderDev.ConsumeMessageInitiation(initiation), "responder never registered this peer")
}

func TestConsumeMessageResponseRejectsUnknownReceiver(t *testing.T) {
	responderDev := newTestDevice(t)
	bogus := &MessageResponse{Type: MessageResponseType, Receiver: 0xDEADBEEF}
	require.Nil(t, responderDev.ConsumeMessageResponse(bogus))
}

func TestBeginSymmetricSessionRequiresCompletedHandshake(t *testing.T) {
	dev := newTestDevice(t)
	remotePK, err := newPrivateKey()
	require.NoError(t, err)
	peer := newTestPeer(t, dev, remotePK.publicKey())

	require.Error(t, peer.BeginSymmetricSession())
}
