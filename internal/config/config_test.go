/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePrivB64 = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
const samplePubB64 = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="

func writeSample(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "titun.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeSample(t, `
[Interface]
PrivateKey = "`+samplePrivB64+`"
ListenPort = 51820
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, samplePrivB64, f.Interface.PrivateKey)
	require.Equal(t, uint16(51820), f.Interface.ListenPort)
	require.Empty(t, f.Peer)
}

func TestLoadAcceptsCaseInsensitiveKeys(t *testing.T) {
	path := writeSample(t, `
[interface]
privatekey = "`+samplePrivB64+`"
LISTENPORT = 51821

[[peer]]
PUBLICKEY = "`+samplePubB64+`"
allowedips = ["10.0.0.2/32"]
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, samplePrivB64, f.Interface.PrivateKey)
	require.Equal(t, uint16(51821), f.Interface.ListenPort)
	require.Len(t, f.Peer, 1)
	require.Equal(t, samplePubB64, f.Peer[0].PublicKey)
}

func TestLoadRejectsMissingPrivateKey(t *testing.T) {
	path := writeSample(t, `
[Interface]
ListenPort = 51820
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadAllowedIPs(t *testing.T) {
	path := writeSample(t, `
[Interface]
PrivateKey = "`+samplePrivB64+`"

[[Peer]]
PublicKey = "`+samplePubB64+`"
AllowedIPs = ["not-a-cidr"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestUAPIRendersDeviceAndPeerLines(t *testing.T) {
	path := writeSample(t, `
[Interface]
PrivateKey = "`+samplePrivB64+`"
ListenPort = 51820
FwMark = 51

[[Peer]]
PublicKey = "`+samplePubB64+`"
AllowedIPs = ["10.0.0.2/32", "fd00::2/128"]
Endpoint = "203.0.113.1:51820"
PersistentKeepalive = 25
`)
	f, err := Load(path)
	require.NoError(t, err)

	uapi, err := f.UAPI()
	require.NoError(t, err)

	require.Contains(t, uapi, "listen_port=51820\n")
	require.Contains(t, uapi, "fwmark=51\n")
	require.Contains(t, uapi, "replace_peers=true\n")
	require.Contains(t, uapi, "endpoint=203.0.113.1:51820\n")
	require.Contains(t, uapi, "allowed_ip=10.0.0.2/32\n")
	require.Contains(t, uapi, "allowed_ip=fd00::2/128\n")
	require.Contains(t, uapi, "persistent_keepalive_interval=25\n")

	privLine := "private_key="
	require.Contains(t, uapi, privLine)
}

func TestUAPIRejectsMalformedKey(t *testing.T) {
	f := &File{Interface: Interface{PrivateKey: "not-base64!!"}}
	_, err := f.UAPI()
	require.Error(t, err)
}

func TestWriteSampleProducesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "titun.toml")
	require.NoError(t, WriteSample(path, samplePrivB64))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, samplePrivB64, f.Interface.PrivateKey)
}
