/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "time"

// Protocol timing constants, matching the published WireGuard whitepaper
// values. These are referenced throughout the handshake engine, the peer
// timer state machine and the transport session.
const (
	RekeyAfterTime      = time.Second * 120
	RejectAfterTime     = time.Second * 180
	RekeyAttemptTime    = time.Second * 90
	RekeyTimeout        = time.Second * 5
	MaxTimerHandshakes  = 18
	RekeyTimeoutJitterMaxMs = 333
	RekeyAfterTimeReceiving = RejectAfterTime - KeepaliveTimeout - RekeyTimeout
	KeepaliveTimeout    = time.Second * 10
	CookieRefreshTime   = time.Second * 120
	UnderLoadAfterTime  = time.Second * 1
	HandshakeQueueTimeout = time.Second * 2
)

// Message counter thresholds.
const (
	RekeyAfterMessages  = (1 << 60)
	RejectAfterMessages = ^uint64(0) - (1 << 4) - 1
)

// Device-level anti-DoS thresholds. The per-source ratelimiter throttles any
// single source independently of these; HandshakesPerSecond and
// HandshakeBurst back the additional device-wide token bucket that drives
// IsUnderLoad.
const (
	HandshakesPerSecond = 50
	HandshakeBurst      = 16
)

// Sizes.
const (
	NoisePublicKeySize    = 32
	NoisePrivateKeySize   = 32
	NoisePresharedKeySize = 32

	DefaultMTU = 1420

	MinMessageSize = MessageCookieReplySize              // minimum legal message length
	MaxMessageSize = MaxSegmentSize
	MaxContentSize = MaxSegmentSize - MessageTransportHeaderSize - 16 /* AEAD tag */
	MaxSegmentSize = 1 << 16

	PaddingMultiple = 16

	MaxPeers = 1 << 16

	QueueStagedSize        = 128
	QueueOutboundSize      = 1024
	QueueInboundSize       = 1024
	QueueHandshakeSize     = 1024
	MaxSegmentPoolCapacity = 4096
)
