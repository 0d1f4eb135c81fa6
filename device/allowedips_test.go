/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func TestAllowedIPsLookupMissReturnsNil(t *testing.T) {
	var table AllowedIPs
	require.Nil(t, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))
}

func TestAllowedIPsExactMatch(t *testing.T) {
	var table AllowedIPs
	peer := &Peer{}
	table.Insert(mustPrefix(t, "10.0.0.0/24"), peer)

	require.Same(t, peer, table.Lookup(netip.MustParseAddr("10.0.0.5").AsSlice()))
	require.Nil(t, table.Lookup(netip.MustParseAddr("10.0.1.5").AsSlice()))
}

func TestAllowedIPsLongestPrefixMatchWins(t *testing.T) {
	var table AllowedIPs
	broad := &Peer{}
	narrow := &Peer{}

	table.Insert(mustPrefix(t, "10.0.0.0/8"), broad)
	table.Insert(mustPrefix(t, "10.0.0.0/24"), narrow)

	require.Same(t, narrow, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))
	require.Same(t, broad, table.Lookup(netip.MustParseAddr("10.1.2.3").AsSlice()))
}

func TestAllowedIPsIPv6(t *testing.T) {
	var table AllowedIPs
	peer := &Peer{}
	table.Insert(mustPrefix(t, "fd00::/64"), peer)

	require.Same(t, peer, table.Lookup(netip.MustParseAddr("fd00::1").AsSlice()))
	require.Nil(t, table.Lookup(netip.MustParseAddr("fd01::1").AsSlice()))
}

func TestAllowedIPsRemoveExact(t *testing.T) {
	var table AllowedIPs
	peer := &Peer{}
	prefix := mustPrefix(t, "10.0.0.0/24")
	table.Insert(prefix, peer)
	require.Same(t, peer, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))

	table.Remove(prefix, peer)
	require.Nil(t, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))
}

func TestAllowedIPsRemoveRequiresOwningPeer(t *testing.T) {
	var table AllowedIPs
	owner := &Peer{}
	other := &Peer{}
	prefix := mustPrefix(t, "10.0.0.0/24")
	table.Insert(prefix, owner)

	table.Remove(prefix, other)
	require.Same(t, owner, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))
}

func TestAllowedIPsRemoveByPeer(t *testing.T) {
	var table AllowedIPs
	peer := &Peer{}
	table.Insert(mustPrefix(t, "10.0.0.0/24"), peer)
	table.Insert(mustPrefix(t, "fd00::/64"), peer)

	table.RemoveByPeer(peer)

	require.Nil(t, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))
	require.Nil(t, table.Lookup(netip.MustParseAddr("fd00::1").AsSlice()))
}

func TestAllowedIPsEntriesForPeer(t *testing.T) {
	var table AllowedIPs
	peer := &Peer{}
	table.Insert(mustPrefix(t, "10.0.0.0/24"), peer)
	table.Insert(mustPrefix(t, "10.0.1.0/24"), peer)

	var seen []string
	table.EntriesForPeer(peer, func(p netip.Prefix) bool {
		seen = append(seen, p.String())
		return true
	})
	require.ElementsMatch(t, []string{"10.0.0.0/24", "10.0.1.0/24"}, seen)
}

func TestAllowedIPsReplaceExactPrefixTransfersOwnership(t *testing.T) {
	var table AllowedIPs
	first := &Peer{}
	second := &Peer{}
	prefix := mustPrefix(t, "10.0.0.0/24")

	table.Insert(prefix, first)
	table.Insert(prefix, second)

	require.Same(t, second, table.Lookup(netip.MustParseAddr("10.0.0.1").AsSlice()))

	var firstEntries, secondEntries int
	table.EntriesForPeer(first, func(netip.Prefix) bool { firstEntries++; return true })
	table.EntriesForPeer(second, func(netip.Prefix) bool { secondEntries++; return true })
	require.Equal(t, 0, firstEntries)
	require.Equal(t, 1, secondEntries)
}
