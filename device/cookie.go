/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// CookieChecker verifies mac1/mac2 on inbound handshake messages and mints
// cookie replies once the device is under load.
type CookieChecker struct {
	sync.RWMutex
	mac1Key        [blake2s.Size]byte
	cookieEncKey   [chacha20poly1305.KeySize]byte
	cookieSecret   [blake2s.Size]byte
	cookieSecretAt time.Time
}

// CookieGenerator is the mirror of CookieChecker held by the party sending
// handshake messages: it stamps mac1/mac2 and remembers the most recently
// received cookie reply.
type CookieGenerator struct {
	sync.RWMutex
	mac1Key      [blake2s.Size]byte
	cookieEncKey [chacha20poly1305.KeySize]byte
	lastCookie   [blake2s.Size128]byte
	lastCookieAt time.Time
	lastMAC1     [blake2s.Size128]byte
	haveLastMAC1 bool
}

// deriveLabelKey hashes label together with a peer's static key. Both
// mac1Key and the cookie encryption key are a label hash of this shape;
// blake2s.Size and chacha20poly1305.KeySize are both 32 so the digest
// doubles as an AEAD key directly.
func deriveLabelKey(label string, pk NoisePublicKey) (out [blake2s.Size]byte) {
	hash, _ := blake2s.New256(nil)
	hash.Write([]byte(label))
	hash.Write(pk[:])
	hash.Sum(out[:0])
	return out
}

func mac128(key, data []byte) (out [blake2s.Size128]byte) {
	mac, _ := blake2s.New128(key)
	mac.Write(data)
	mac.Sum(out[:0])
	return out
}

// macOffsets locates the trailing mac1 and mac2 fields shared by every
// handshake-initiation and cookie-reply-eligible message: mac2 is the last
// 16 bytes, mac1 the 16 before it.
func macOffsets(msg []byte) (mac1Start, mac2Start int) {
	mac2Start = len(msg) - blake2s.Size128
	mac1Start = mac2Start - blake2s.Size128
	return mac1Start, mac2Start
}

func (st *CookieChecker) Init(pk NoisePublicKey) {
	st.Lock()
	defer st.Unlock()

	st.mac1Key = deriveLabelKey(WGLabelMAC1, pk)
	st.cookieEncKey = deriveLabelKey(WGLabelCookie, pk)
	st.cookieSecretAt = time.Time{}
}

func (st *CookieChecker) CheckMAC1(msg []byte) bool {
	st.RLock()
	defer st.RUnlock()

	mac1Start, mac2Start := macOffsets(msg)
	want := mac128(st.mac1Key[:], msg[:mac1Start])
	return hmac.Equal(want[:], msg[mac1Start:mac2Start])
}

func (st *CookieChecker) CheckMAC2(msg, src []byte) bool {
	st.RLock()
	defer st.RUnlock()

	if time.Since(st.cookieSecretAt) > CookieRefreshTime {
		return false
	}

	cookie := mac128(st.cookieSecret[:], src)
	_, mac2Start := macOffsets(msg)
	want := mac128(cookie[:], msg[:mac2Start])
	return hmac.Equal(want[:], msg[mac2Start:])
}

// rotateSecretIfStale regenerates the cookie secret once CookieRefreshTime
// has elapsed since it was last set. Cookie unforgeability rests entirely
// on this secret. Callers hold st's read lock on entry; it is released and
// reacquired only if a rotation actually happens.
func (st *CookieChecker) rotateSecretIfStale() error {
	if time.Since(st.cookieSecretAt) <= CookieRefreshTime {
		return nil
	}
	st.RUnlock()
	defer st.RLock()

	st.Lock()
	defer st.Unlock()
	if _, err := rand.Read(st.cookieSecret[:]); err != nil {
		return err
	}
	st.cookieSecretAt = time.Now()
	return nil
}

// CreateReply constructs a cookie reply packet (type 3), sent instead of a
// normal handshake response while the device is under load.
func (st *CookieChecker) CreateReply(msg []byte, recv uint32, src []byte) (*MessageCookieReply, error) {
	st.RLock()
	defer st.RUnlock()

	if err := st.rotateSecretIfStale(); err != nil {
		return nil, err
	}

	// binds the returned token to the requester's source address
	cookie := mac128(st.cookieSecret[:], src)

	reply := &MessageCookieReply{
		Type:     MessageCookieReplyType,
		Receiver: recv,
	}
	if _, err := rand.Read(reply.Nonce[:]); err != nil {
		return nil, err
	}

	// mac1 of the triggering message is sealed in as associated data, so the
	// reply only validates against the request that produced it
	mac1Start, mac2Start := macOffsets(msg)
	xchapoly, _ := chacha20poly1305.NewX(st.cookieEncKey[:])
	xchapoly.Seal(reply.Cookie[:0], reply.Nonce[:], cookie[:], msg[mac1Start:mac2Start])

	return reply, nil
}

func (st *CookieGenerator) Init(pk NoisePublicKey) {
	st.Lock()
	defer st.Unlock()

	st.mac1Key = deriveLabelKey(WGLabelMAC1, pk)
	st.cookieEncKey = deriveLabelKey(WGLabelCookie, pk)
	st.lastCookieAt = time.Time{}
}

func (st *CookieGenerator) ConsumeReply(msg *MessageCookieReply) bool {
	st.Lock()
	defer st.Unlock()

	if !st.haveLastMAC1 {
		return false
	}

	var cookie [blake2s.Size128]byte
	xchapoly, _ := chacha20poly1305.NewX(st.cookieEncKey[:])
	if _, err := xchapoly.Open(cookie[:0], msg.Nonce[:], msg.Cookie[:], st.lastMAC1[:]); err != nil {
		return false
	}

	st.lastCookieAt = time.Now()
	st.lastCookie = cookie
	return true
}

// AddMacs stamps mac1 (always) and mac2 (only while a cookie from a prior
// CreateReply round-trip is still fresh) onto an outgoing handshake message.
func (st *CookieGenerator) AddMacs(msg []byte) {
	mac1Start, mac2Start := macOffsets(msg)

	st.Lock()
	defer st.Unlock()

	mac1 := mac128(st.mac1Key[:], msg[:mac1Start])
	copy(msg[mac1Start:mac2Start], mac1[:])
	st.lastMAC1 = mac1
	st.haveLastMAC1 = true

	if time.Since(st.lastCookieAt) > CookieRefreshTime {
		return
	}

	mac2 := mac128(st.lastCookie[:], msg[:mac2Start])
	copy(msg[mac2Start:], mac2[:])
}
