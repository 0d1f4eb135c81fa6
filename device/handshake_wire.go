/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/poly1305"

	"github.com/titun/titun/internal/tai64n"
)

const (
	NoiseConstruction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	WGIdentifier      = "WireGuard v1 zx2c4 Jason@zx2c4.com"
	WGLabelMAC1       = "mac1----"
	WGLabelCookie     = "cookie--"
)

const (
	MessageInitiationType  = 1
	MessageResponseType    = 2
	MessageCookieReplyType = 3
	MessageTransportType   = 4
)

const (
	MessageInitiationSize      = 148
	MessageResponseSize        = 92
	MessageCookieReplySize     = 64
	MessageTransportHeaderSize = 16
	MessageTransportSize       = MessageTransportHeaderSize + poly1305.TagSize
	MessageKeepaliveSize       = MessageTransportSize
	MessageHandshakeSize       = MessageInitiationSize
)

const (
	MessageTransportOffsetReceiver = 4
	MessageTransportOffsetCounter  = 8
	MessageTransportOffsetContent  = 16
)

// MessageInitiation is the first handshake message, sent by the party
// initiating a session. Field order and sizes are fixed by the wire
// protocol and must not change.
type MessageInitiation struct {
	Type      uint32
	Sender    uint32
	Ephemeral NoisePublicKey
	Static    [NoisePublicKeySize + poly1305.TagSize]byte
	Timestamp [tai64n.TimestampSize + poly1305.TagSize]byte
	MAC1      [blake2s.Size128]byte
	MAC2      [blake2s.Size128]byte
}

// MessageResponse completes the handshake, echoing the initiator's index
// back so it can associate the response with the pending handshake state.
type MessageResponse struct {
	Type      uint32
	Sender    uint32
	Receiver  uint32
	Ephemeral NoisePublicKey
	Empty     [poly1305.TagSize]byte
	MAC1      [blake2s.Size128]byte
	MAC2      [blake2s.Size128]byte
}

// MessageTransport carries encrypted tunnel traffic once a session is live.
type MessageTransport struct {
	Type     uint32
	Receiver uint32
	Counter  uint64
	Content  []byte
}

// MessageCookieReply is sent under load in place of a real handshake
// response, instructing the sender to retry with a cookie attached.
type MessageCookieReply struct {
	Type     uint32
	Receiver uint32
	Nonce    [chacha20poly1305.NonceSizeX]byte
	Cookie   [blake2s.Size128 + poly1305.TagSize]byte
}

var errMessageLengthMismatch = errors.New("message length mismatch")

// wireCursor walks a fixed-size byte slice left to right, reading or
// writing one field at a time. It exists so the (un)marshal methods below
// read as a flat field list instead of a chain of running byte offsets.
type wireCursor struct {
	buf []byte
	pos int
}

func (c *wireCursor) putUint32(v uint32) {
	binary.LittleEndian.PutUint32(c.buf[c.pos:], v)
	c.pos += 4
}

func (c *wireCursor) putUint64(v uint64) {
	binary.LittleEndian.PutUint64(c.buf[c.pos:], v)
	c.pos += 8
}

func (c *wireCursor) putBytes(b []byte) {
	c.pos += copy(c.buf[c.pos:], b)
}

func (c *wireCursor) getUint32() uint32 {
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v
}

func (c *wireCursor) getUint64() uint64 {
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v
}

// getBytes copies the next len(dst) bytes of the cursor into dst.
func (c *wireCursor) getBytes(dst []byte) {
	c.pos += copy(dst, c.buf[c.pos:])
}

func (msg *MessageInitiation) marshal(b []byte) error {
	if len(b) != MessageInitiationSize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	c.putUint32(msg.Type)
	c.putUint32(msg.Sender)
	c.putBytes(msg.Ephemeral[:])
	c.putBytes(msg.Static[:])
	c.putBytes(msg.Timestamp[:])
	c.putBytes(msg.MAC1[:])
	c.putBytes(msg.MAC2[:])
	return nil
}

func (msg *MessageInitiation) unmarshal(b []byte) error {
	if len(b) != MessageInitiationSize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	msg.Type = c.getUint32()
	msg.Sender = c.getUint32()
	c.getBytes(msg.Ephemeral[:])
	c.getBytes(msg.Static[:])
	c.getBytes(msg.Timestamp[:])
	c.getBytes(msg.MAC1[:])
	c.getBytes(msg.MAC2[:])
	return nil
}

func (msg *MessageResponse) marshal(b []byte) error {
	if len(b) != MessageResponseSize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	c.putUint32(msg.Type)
	c.putUint32(msg.Sender)
	c.putUint32(msg.Receiver)
	c.putBytes(msg.Ephemeral[:])
	c.putBytes(msg.Empty[:])
	c.putBytes(msg.MAC1[:])
	c.putBytes(msg.MAC2[:])
	return nil
}

func (msg *MessageResponse) unmarshal(b []byte) error {
	if len(b) != MessageResponseSize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	msg.Type = c.getUint32()
	msg.Sender = c.getUint32()
	msg.Receiver = c.getUint32()
	c.getBytes(msg.Ephemeral[:])
	c.getBytes(msg.Empty[:])
	c.getBytes(msg.MAC1[:])
	c.getBytes(msg.MAC2[:])
	return nil
}

func (msg *MessageCookieReply) marshal(b []byte) error {
	if len(b) != MessageCookieReplySize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	c.putUint32(msg.Type)
	c.putUint32(msg.Receiver)
	c.putBytes(msg.Nonce[:])
	c.putBytes(msg.Cookie[:])
	return nil
}

func (msg *MessageCookieReply) unmarshal(b []byte) error {
	if len(b) != MessageCookieReplySize {
		return errMessageLengthMismatch
	}
	c := wireCursor{buf: b}
	msg.Type = c.getUint32()
	msg.Receiver = c.getUint32()
	c.getBytes(msg.Nonce[:])
	c.getBytes(msg.Cookie[:])
	return nil
}
