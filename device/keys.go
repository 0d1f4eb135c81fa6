/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

var errInvalidPublicKey = errors.New("invalid public key")

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoisePresharedKey [NoisePresharedKeySize]byte
	NoiseNonce        uint64 // padded to 12-bytes
)

func newPrivateKey() (sk NoisePrivateKey, err error) {
	_, err = rand.Read(sk[:])
	sk.clamp()
	return
}

func (sk *NoisePrivateKey) clamp() {
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
}

func (sk NoisePrivateKey) publicKey() (pk NoisePublicKey) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(&sk)
	curve25519.ScalarBaseMult(apk, ask)
	return
}

func (sk *NoisePrivateKey) FromHex(src string) (err error) {
	_, err = hex.Decode(sk[:], []byte(src))
	sk.clamp()
	return
}

func (sk *NoisePrivateKey) FromMaybeZeroHex(src string) (err error) {
	err = sk.FromHex(src)
	sk.clamp()
	return
}

func (key NoisePrivateKey) IsZero() bool {
	var zero NoisePrivateKey
	return key.Equals(zero)
}

func (key NoisePrivateKey) Equals(tar NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

func (key *NoisePublicKey) FromHex(src string) (err error) {
	_, err = hex.Decode(key[:], []byte(src))
	return
}

func (key NoisePublicKey) IsZero() bool {
	var zero NoisePublicKey
	return key.Equals(zero)
}

func (key NoisePublicKey) Equals(tar NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(key[:], tar[:]) == 1
}

func (key NoisePublicKey) String() string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func (key NoisePrivateKey) String() string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// sharedSecret computes the X25519 shared secret between sk and the peer's
// public key pk. It returns errInvalidPublicKey if the result is the
// all-zero point, which would happen for a small-order or otherwise
// malicious peer public key.
func (sk *NoisePrivateKey) sharedSecret(pk NoisePublicKey) (ss [NoisePublicKeySize]byte, err error) {
	apk := (*[NoisePublicKeySize]byte)(&pk)
	ask := (*[NoisePrivateKeySize]byte)(sk)
	curve25519.ScalarMult(&ss, ask, apk)
	if isZero(ss[:]) {
		return ss, errInvalidPublicKey
	}
	return ss, nil
}

func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}

func isZero(arr []byte) bool {
	acc := byte(0)
	for _, b := range arr {
		acc |= b
	}
	return acc == 0
}

// KDF1 derives a single 32-byte output from HMAC-BLAKE2s(key, input) per the
// Noise protocol's HKDF construction, with only the first derived value kept.
func KDF1(t0 *[blake2sSize]byte, key, input []byte) {
	kdf(t0, nil, nil, input, key)
}

// KDF2 derives two chained 32-byte outputs.
func KDF2(t0, t1 *[blake2sSize]byte, key, input []byte) {
	kdf(t0, t1, nil, input, key)
}

// KDF3 derives three chained 32-byte outputs.
func KDF3(t0, t1, t2 *[blake2sSize]byte, key, input []byte) {
	kdf(t0, t1, t2, input, key)
}

const blake2sSize = blake2s.Size

func newBlake2sMAC(key []byte) hash.Hash {
	return hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
}

func hmac1(key, input []byte) (sum [blake2sSize]byte) {
	mac := newBlake2sMAC(key)
	mac.Write(input)
	mac.Sum(sum[:0])
	return
}

func kdf(t0, t1, t2 *[blake2sSize]byte, input, key []byte) {
	prk := hmac1(key, input)
	if t0 != nil {
		*t0 = hmac1(prk[:], []byte{0x1})
	}
	if t1 != nil {
		in1 := append(append([]byte{}, (*t0)[:]...), 0x2)
		*t1 = hmac1(prk[:], in1)
	}
	if t2 != nil {
		in2 := append(append([]byte{}, (*t1)[:]...), 0x3)
		*t2 = hmac1(prk[:], in2)
	}
	setZero(prk[:])
}

// aeadOverhead is the ChaCha20-Poly1305 tag size, duplicated here as a
// constant to avoid importing chacha20poly1305 in packages that only need
// the numeric value.
const aeadOverhead = chacha20poly1305.Overhead
