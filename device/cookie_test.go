/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2s"
)

func randomKey(t *testing.T) NoisePublicKey {
	t.Helper()
	var pk NoisePublicKey
	_, err := rand.Read(pk[:])
	require.NoError(t, err)
	return pk
}

func TestCookieCheckerAcceptsOwnMAC1(t *testing.T) {
	pk := randomKey(t)

	var checker CookieChecker
	checker.Init(pk)

	var generator CookieGenerator
	generator.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	_, err := rand.Read(msg[:len(msg)-2*blake2s.Size128])
	require.NoError(t, err)

	generator.AddMacs(msg)
	require.True(t, checker.CheckMAC1(msg))
}

func TestCookieCheckerRejectsTamperedMAC1(t *testing.T) {
	pk := randomKey(t)

	var checker CookieChecker
	checker.Init(pk)

	var generator CookieGenerator
	generator.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	generator.AddMacs(msg)

	msg[0] ^= 0xFF
	require.False(t, checker.CheckMAC1(msg))
}

func TestCookieCheckerRejectsWrongKey(t *testing.T) {
	var checker CookieChecker
	checker.Init(randomKey(t))

	var generator CookieGenerator
	generator.Init(randomKey(t))

	msg := make([]byte, MessageInitiationSize)
	generator.AddMacs(msg)

	require.False(t, checker.CheckMAC1(msg))
}

func TestCookieReplyRoundTrip(t *testing.T) {
	pk := randomKey(t)
	src := []byte("198.51.100.7:51820")

	var checker CookieChecker
	checker.Init(pk)

	var generator CookieGenerator
	generator.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	generator.AddMacs(msg)

	reply, err := checker.CreateReply(msg, 42, src)
	require.NoError(t, err)
	require.Equal(t, uint32(MessageCookieReplyType), reply.Type)
	require.Equal(t, uint32(42), reply.Receiver)

	require.True(t, generator.ConsumeReply(reply))
}

func TestCookieGeneratorWithoutMAC1RejectsReply(t *testing.T) {
	pk := randomKey(t)

	var generator CookieGenerator
	generator.Init(pk)

	reply := &MessageCookieReply{Type: MessageCookieReplyType}
	require.False(t, generator.ConsumeReply(reply))
}

func TestCookieGeneratorAddsMAC2AfterConsumingReply(t *testing.T) {
	pk := randomKey(t)
	src := []byte("198.51.100.7:51820")

	var checker CookieChecker
	checker.Init(pk)

	var generator CookieGenerator
	generator.Init(pk)

	msg := make([]byte, MessageInitiationSize)
	generator.AddMacs(msg)

	reply, err := checker.CreateReply(msg, 42, src)
	require.NoError(t, err)
	require.True(t, generator.ConsumeReply(reply))

	msg2 := make([]byte, MessageInitiationSize)
	generator.AddMacs(msg2)

	require.True(t, checker.CheckMAC2(msg2, src))
	require.False(t, checker.CheckMAC2(msg2, []byte("203.0.113.9:51820")))
}
