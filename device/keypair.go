/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/cipher"
	"sync"
	"sync/atomic"
	"time"

	"github.com/titun/titun/internal/replay"
)

/* Due to limitations in Go and /x/crypto there is currently
 * no way to ensure that key material is securely ereased in memory.
 *
 * Since this may harm the forward secrecy property,
 * we plan to resolve this issue; whenever Go allows us to do so.
 */

type Keypair struct {
	sendNonce    atomic.Uint64 // incremented atomically for every sent packet; doubles as the AEAD nonce
	send         cipher.AEAD   // ChaCha20-Poly1305 bound to the sendKey derived from the handshake
	receive      cipher.AEAD   // ChaCha20-Poly1305 bound to the recvKey derived from the handshake
	replayFilter replay.Filter // sliding window of counters seen from the peer under this session
	isInitiator  bool          // whether we were the handshake initiator; governs rekey responsibility
	created      time.Time     // used to judge expiry against RekeyAfterTime/RejectAfterTime
	localIndex   uint32        // index we assigned; the peer echoes this in packets addressed to us
	remoteIndex  uint32        // index the peer assigned; we echo this in packets addressed to them
}

type Keypairs struct {
	sync.RWMutex
	current  *Keypair
	previous *Keypair
	next     atomic.Pointer[Keypair]
}

func (kp *Keypairs) Current() *Keypair {
	kp.RLock()
	defer kp.RUnlock()
	return kp.current
}

func (device *Device) DeleteKeypair(key *Keypair) {
	if key != nil {
		device.indexTable.Delete(key.localIndex)
	}
}
