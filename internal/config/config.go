/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package config loads a single-interface TOML configuration file describing
// a device's identity and its peers, and renders it into the UAPI text
// protocol device.IpcSetOperation already understands.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// File is the on-disk shape of a titun config file: one [Interface] table
// and zero or more [[Peer]] tables. Field names carry no explicit toml tags
// on purpose: BurntSushi/toml matches untagged struct fields against table
// keys case-insensitively, which is how "PrivateKey"/"privatekey"/"PRIVATEKEY"
// are all accepted as the same key.
type File struct {
	Interface Interface
	Peer      []Peer
}

// Interface configures the local device.
type Interface struct {
	PrivateKey string
	ListenPort uint16
	FwMark     uint32
	Name       string
	Address    string
	MTU        int
}

// Peer configures one remote peer.
type Peer struct {
	PublicKey           string
	PresharedKey        string
	Endpoint            string
	AllowedIPs          []string
	PersistentKeepalive int
}

// Load reads and parses the TOML file at path.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.Interface.PrivateKey == "" {
		return nil, fmt.Errorf("%s: [Interface] missing PrivateKey", path)
	}
	for i, p := range f.Peer {
		if p.PublicKey == "" {
			return nil, fmt.Errorf("%s: peer %d missing PublicKey", path, i)
		}
		for _, cidr := range p.AllowedIPs {
			if _, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err != nil {
				return nil, fmt.Errorf("%s: peer %d AllowedIPs %q: %w", path, i, cidr, err)
			}
		}
	}
	return &f, nil
}

// base64KeyToHex converts a WireGuard-style base64 key, as written in TOML
// configs, into the hex encoding the UAPI protocol requires.
func base64KeyToHex(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("invalid key length %d, want 32", len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// UAPI renders the config as the key=value stream device.IpcSetOperation
// expects, including "replace_peers=true" so reapplying a file always
// produces the exact peer set it describes.
func (f *File) UAPI() (string, error) {
	var b strings.Builder

	privHex, err := base64KeyToHex(f.Interface.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("Interface.PrivateKey: %w", err)
	}
	fmt.Fprintf(&b, "private_key=%s\n", privHex)

	if f.Interface.ListenPort != 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", f.Interface.ListenPort)
	}
	if f.Interface.FwMark != 0 {
		fmt.Fprintf(&b, "fwmark=%d\n", f.Interface.FwMark)
	}

	fmt.Fprintf(&b, "replace_peers=true\n")

	for i, p := range f.Peer {
		pubHex, err := base64KeyToHex(p.PublicKey)
		if err != nil {
			return "", fmt.Errorf("peer %d PublicKey: %w", i, err)
		}
		fmt.Fprintf(&b, "public_key=%s\n", pubHex)

		if p.PresharedKey != "" {
			pskHex, err := base64KeyToHex(p.PresharedKey)
			if err != nil {
				return "", fmt.Errorf("peer %d PresharedKey: %w", i, err)
			}
			fmt.Fprintf(&b, "preshared_key=%s\n", pskHex)
		}

		if p.Endpoint != "" {
			fmt.Fprintf(&b, "endpoint=%s\n", p.Endpoint)
		}

		fmt.Fprintf(&b, "replace_allowed_ips=true\n")
		for _, cidr := range p.AllowedIPs {
			fmt.Fprintf(&b, "allowed_ip=%s\n", strings.TrimSpace(cidr))
		}

		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "persistent_keepalive_interval=%s\n", strconv.Itoa(p.PersistentKeepalive))
		}
	}

	return b.String(), nil
}

// WriteSample writes a minimal, commented example config to path, for
// "titun genconfig"-style bootstrapping.
func WriteSample(path, privateKey string) error {
	sample := fmt.Sprintf(`[Interface]
PrivateKey = %q
ListenPort = 51820
Address = "10.0.0.1/24"

#[[Peer]]
#PublicKey = "..."
#AllowedIPs = ["10.0.0.2/32"]
#Endpoint = "203.0.113.1:51820"
#PersistentKeepalive = 25
`, privateKey)
	return os.WriteFile(path, []byte(sample), 0600)
}
