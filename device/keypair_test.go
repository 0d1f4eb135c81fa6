/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPeerWithDevice(t *testing.T) *Peer {
	t.Helper()
	dev := &Device{}
	dev.indexTable.Init()
	peer := &Peer{device: dev}
	return peer
}

func TestKeypairsCurrentIsNilInitially(t *testing.T) {
	var kp Keypairs
	require.Nil(t, kp.Current())
}

func TestReceivedWithKeypairPromotesNextToCurrent(t *testing.T) {
	peer := newTestPeerWithDevice(t)

	next := &Keypair{localIndex: 7}
	peer.keypairs.next.Store(next)

	require.True(t, peer.ReceivedWithKeypair(next))
	require.Same(t, next, peer.keypairs.Current())
	require.Nil(t, peer.keypairs.next.Load())
}

func TestReceivedWithKeypairRejectsUnknownKeypair(t *testing.T) {
	peer := newTestPeerWithDevice(t)

	next := &Keypair{localIndex: 7}
	peer.keypairs.next.Store(next)

	other := &Keypair{localIndex: 9}
	require.False(t, peer.ReceivedWithKeypair(other))
	require.Nil(t, peer.keypairs.Current())
}

func TestReceivedWithKeypairIsIdempotent(t *testing.T) {
	peer := newTestPeerWithDevice(t)

	next := &Keypair{localIndex: 7}
	peer.keypairs.next.Store(next)

	require.True(t, peer.ReceivedWithKeypair(next))
	require.False(t, peer.ReceivedWithKeypair(next), "next was already promoted and cleared")
}

func TestDeleteKeypairRemovesIndexTableEntry(t *testing.T) {
	dev := &Device{}
	dev.indexTable.Init()

	peer := &Peer{device: dev}
	var handshake Handshake
	index, err := dev.indexTable.NewIndexForHandshake(peer, &handshake)
	require.NoError(t, err)

	keypair := &Keypair{localIndex: index}
	dev.indexTable.SwapIndexForKeypair(index, keypair)
	require.Equal(t, peer, dev.indexTable.Lookup(index).peer)

	dev.DeleteKeypair(keypair)
	require.Nil(t, dev.indexTable.Lookup(index).peer)
}

func TestDeleteKeypairNilIsNoop(t *testing.T) {
	dev := &Device{}
	dev.indexTable.Init()
	dev.DeleteKeypair(nil)
}
