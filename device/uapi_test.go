/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"bufio"
	"encoding/hex"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newUAPITestDevice(t *testing.T) *Device {
	t.Helper()
	dev := &Device{}
	dev.log = NewLogger(LogLevelSilent, "")
	dev.indexTable.Init()
	dev.peers.keyMap = make(map[NoisePublicKey]*Peer)
	return dev
}

func TestIpcSetPrivateKeyThenGetRoundTrips(t *testing.T) {
	dev := newUAPITestDevice(t)
	sk, err := newPrivateKey()
	require.NoError(t, err)

	err = dev.IpcSet("private_key=" + hex.EncodeToString(sk[:]) + "\n")
	require.NoError(t, err)

	out, err := dev.IpcGet()
	require.NoError(t, err)
	require.Contains(t, out, "private_key="+hex.EncodeToString(sk[:]))
}

func TestIpcSetCreatesPeerWithAllowedIPs(t *testing.T) {
	dev := newUAPITestDevice(t)
	sk, err := newPrivateKey()
	require.NoError(t, err)
	require.NoError(t, dev.IpcSet("private_key="+hex.EncodeToString(sk[:])+"\n"))

	peerSK, err := newPrivateKey()
	require.NoError(t, err)
	peerPK := peerSK.publicKey()

	conf := "public_key=" + hex.EncodeToString(peerPK[:]) + "\n" +
		"allowed_ip=10.0.0.2/32\n" +
		"allowed_ip=fd00::2/128\n" +
		"persistent_keepalive_interval=25\n"
	require.NoError(t, dev.IpcSet(conf))

	out, err := dev.IpcGet()
	require.NoError(t, err)
	require.Contains(t, out, "public_key="+hex.EncodeToString(peerPK[:]))
	require.Contains(t, out, "allowed_ip=10.0.0.2/32")
	require.Contains(t, out, "allowed_ip=fd00::2/128")
	require.Contains(t, out, "persistent_keepalive_interval=25")

	got := dev.LookupPeer(peerPK)
	require.NotNil(t, got)
}

func TestIpcSetRemovePeerDeletesAllowedIPs(t *testing.T) {
	dev := newUAPITestDevice(t)
	peerSK, err := newPrivateKey()
	require.NoError(t, err)
	peerPK := peerSK.publicKey()

	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(peerPK[:])+"\nallowed_ip=10.0.0.2/32\n"))
	require.NotNil(t, dev.LookupPeer(peerPK))

	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(peerPK[:])+"\nremove=true\n"))
	require.Nil(t, dev.LookupPeer(peerPK))
	require.Nil(t, dev.allowedips.Lookup([]byte{10, 0, 0, 2}))
}

func TestIpcSetReplaceAllowedIPsClearsPrevious(t *testing.T) {
	dev := newUAPITestDevice(t)
	peerSK, err := newPrivateKey()
	require.NoError(t, err)
	peerPK := peerSK.publicKey()

	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(peerPK[:])+"\nallowed_ip=10.0.0.2/32\n"))
	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(peerPK[:])+"\nreplace_allowed_ips=true\nallowed_ip=10.0.0.3/32\n"))

	require.Nil(t, dev.allowedips.Lookup([]byte{10, 0, 0, 2}))
	require.NotNil(t, dev.allowedips.Lookup([]byte{10, 0, 0, 3}))
}

func TestIpcSetReplacePeersRemovesAll(t *testing.T) {
	dev := newUAPITestDevice(t)
	peerSK, err := newPrivateKey()
	require.NoError(t, err)
	peerPK := peerSK.publicKey()

	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(peerPK[:])+"\n"))
	require.NotNil(t, dev.LookupPeer(peerPK))

	require.NoError(t, dev.IpcSet("replace_peers=true\n"))
	require.Nil(t, dev.LookupPeer(peerPK))
}

func TestIpcSetRejectsUnknownDeviceKey(t *testing.T) {
	dev := newUAPITestDevice(t)
	err := dev.IpcSet("bogus=1\n")
	require.Error(t, err)
	var ipcErr *IPCError
	require.ErrorAs(t, err, &ipcErr)
	require.Equal(t, int64(ipcErrorInvalid), ipcErr.ErrorCode())
}

func TestIpcSetRejectsMalformedLine(t *testing.T) {
	dev := newUAPITestDevice(t)
	err := dev.IpcSet("not-a-key-value-line\n")
	require.Error(t, err)
	var ipcErr *IPCError
	require.ErrorAs(t, err, &ipcErr)
	require.Equal(t, int64(ipcErrorProtocol), ipcErr.ErrorCode())
}

func TestIpcSetRejectsUnknownPeerKey(t *testing.T) {
	dev := newUAPITestDevice(t)
	peerSK, err := newPrivateKey()
	require.NoError(t, err)
	peerPK := peerSK.publicKey()

	err = dev.IpcSet("public_key=" + hex.EncodeToString(peerPK[:]) + "\nbogus=1\n")
	require.Error(t, err)
	var ipcErr *IPCError
	require.ErrorAs(t, err, &ipcErr)
	require.Equal(t, int64(ipcErrorInvalid), ipcErr.ErrorCode())
}

func TestIpcSetIgnoresPeerMatchingOwnStaticKey(t *testing.T) {
	dev := newUAPITestDevice(t)
	sk, err := newPrivateKey()
	require.NoError(t, err)
	require.NoError(t, dev.IpcSet("private_key="+hex.EncodeToString(sk[:])+"\n"))

	pk := sk.publicKey()
	require.NoError(t, dev.IpcSet("public_key="+hex.EncodeToString(pk[:])+"\nallowed_ip=10.0.0.2/32\n"))
	require.Nil(t, dev.LookupPeer(pk), "a peer matching our own static key must be a no-op dummy")
}

func TestIpcHandleServesGetAndSet(t *testing.T) {
	dev := newUAPITestDevice(t)
	sk, err := newPrivateKey()
	require.NoError(t, err)

	client, server := net.Pipe()
	go dev.IpcHandle(server)
	reader := bufio.NewReader(client)

	_, err = client.Write([]byte("set=1\nprivate_key=" + hex.EncodeToString(sk[:]) + "\n\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "errno=0\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "\n", line)

	_, err = client.Write([]byte("get=1\n\n"))
	require.NoError(t, err)

	var lines []string
	for {
		l, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, l)
		if l == "\n" {
			break
		}
	}
	require.Contains(t, strings.Join(lines, ""), "private_key="+hex.EncodeToString(sk[:]))
	client.Close()
}
