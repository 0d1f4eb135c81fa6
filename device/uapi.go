/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// UAPI error codes, returned as errno=N in the configuration protocol.
const (
	ipcErrorIO        = 5
	ipcErrorProtocol  = 92
	ipcErrorInvalid   = 22
	ipcErrorPortInUse = 98
	ipcErrorUnknown   = 49
)

type IPCError struct {
	code int64 // error code
	err  error // underlying/wrapped error
}

func (s IPCError) Error() string {
	return fmt.Sprintf("IPC error %d: %v", s.code, s.err)
}

func (s IPCError) Unwrap() error {
	return s.err
}

func (s IPCError) ErrorCode() int64 {
	return s.code
}

func ipcErrorf(code int64, msg string, args ...any) *IPCError {
	return &IPCError{code: code, err: fmt.Errorf(msg, args...)}
}

var byteBufferPool = &sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// IpcGetOperation implements the WireGuard configuration protocol "get" operation.
// See https://www.wireguard.com/xplatform/#configuration-protocol for details.
//
// Serializes the device's and each peer's state as key=value lines onto w.
func (device *Device) IpcGetOperation(w io.Writer) error {
	device.ipcMutex.RLock()
	defer device.ipcMutex.RUnlock()

	buf := byteBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer byteBufferPool.Put(buf)

	func() {
		device.net.RLock()
		defer device.net.RUnlock()

		device.staticIdentity.RLock()
		defer device.staticIdentity.RUnlock()

		device.peers.RLock()
		defer device.peers.RUnlock()

		writeDeviceLines(buf, device)
		for _, peer := range device.peers.keyMap {
			writePeerLines(buf, device, peer)
		}
	}()

	if _, err := w.Write(buf.Bytes()); err != nil {
		return ipcErrorf(ipcErrorIO, "failed to write output: %w", err)
	}
	return nil
}

func writeLine(buf *bytes.Buffer, format string, args ...any) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

func writeKeyLine(buf *bytes.Buffer, prefix string, key *[32]byte) {
	const hexDigits = "0123456789abcdef"
	buf.Grow(len(key)*2 + 2 + len(prefix))
	buf.WriteString(prefix)
	buf.WriteByte('=')
	for _, b := range key {
		buf.WriteByte(hexDigits[b>>4])
		buf.WriteByte(hexDigits[b&0xf])
	}
	buf.WriteByte('\n')
}

// writeDeviceLines must run with device.net, device.staticIdentity and
// device.peers all held for reading.
func writeDeviceLines(buf *bytes.Buffer, device *Device) {
	if !device.staticIdentity.privateKey.IsZero() {
		writeKeyLine(buf, "private_key", (*[32]byte)(&device.staticIdentity.privateKey))
	}
	if device.net.port != 0 {
		writeLine(buf, "listen_port=%d", device.net.port)
	}
	if device.net.fwmark != 0 {
		writeLine(buf, "fwmark=%d", device.net.fwmark)
	}
}

// writePeerLines must run with device.peers held for reading.
func writePeerLines(buf *bytes.Buffer, device *Device, peer *Peer) {
	peer.handshake.mutex.RLock()
	writeKeyLine(buf, "public_key", (*[32]byte)(&peer.handshake.remoteStatic))
	writeKeyLine(buf, "preshared_key", (*[32]byte)(&peer.handshake.presharedKey))
	peer.handshake.mutex.RUnlock()

	writeLine(buf, "protocol_version=1")

	peer.endpoint.Lock()
	if peer.endpoint.val != nil {
		writeLine(buf, "endpoint=%s", peer.endpoint.val.DstToString())
	}
	peer.endpoint.Unlock()

	nano := peer.lastHandshakeNano.Load()
	secs := nano / time.Second.Nanoseconds()
	nano %= time.Second.Nanoseconds()

	writeLine(buf, "last_handshake_time_sec=%d", secs)
	writeLine(buf, "last_handshake_time_nsec=%d", nano)
	writeLine(buf, "tx_bytes=%d", peer.txBytes.Load())
	writeLine(buf, "rx_bytes=%d", peer.rxBytes.Load())
	writeLine(buf, "persistent_keepalive_interval=%d", peer.persistentKeepaliveInterval.Load())

	device.allowedips.EntriesForPeer(peer, func(prefix netip.Prefix) bool {
		writeLine(buf, "allowed_ip=%s", prefix.String())
		return true
	})
}

// IpcSetOperation implements the WireGuard configuration protocol "set" operation.
// See https://www.wireguard.com/xplatform/#configuration-protocol for details.
func (device *Device) IpcSetOperation(r io.Reader) (err error) {
	device.ipcMutex.Lock()
	defer device.ipcMutex.Unlock()

	defer func() {
		if err != nil {
			device.log.Errorf("%v", err)
		}
	}()

	peer := new(ipcSetPeer)
	deviceConfig := true

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// Blank line means terminate operation.
			peer.handlePostConfig()
			return nil
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return ipcErrorf(ipcErrorProtocol, "failed to parse line %q", line)
		}

		// The protocol is a stream: seeing public_key=... ends the previous
		// peer's config block and starts (or looks up) a new one.
		if key == "public_key" {
			deviceConfig = false
			peer.handlePostConfig()
			if err := device.handlePublicKeyLine(peer, value); err != nil {
				return err
			}
			continue
		}

		var lineErr error
		if deviceConfig {
			lineErr = device.handleDeviceLine(key, value)
		} else {
			lineErr = device.handlePeerLine(peer, key, value)
		}
		if lineErr != nil {
			return lineErr
		}
	}
	peer.handlePostConfig()

	if err := scanner.Err(); err != nil {
		return ipcErrorf(ipcErrorIO, "failed to read input: %w", err)
	}
	return nil
}

// deviceLineHandlers dispatches each recognized device-scope UAPI key to its
// setter. Keeping this as a table rather than a switch means new device
// keys are added as one map entry plus one method.
var deviceLineHandlers = map[string]func(*Device, string) error{
	"private_key":   (*Device).setPrivateKeyLine,
	"listen_port":   (*Device).setListenPortLine,
	"fwmark":        (*Device).setFwmarkLine,
	"replace_peers": (*Device).setReplacePeersLine,
}

func (device *Device) handleDeviceLine(key, value string) error {
	handler, ok := deviceLineHandlers[key]
	if !ok {
		return ipcErrorf(ipcErrorInvalid, "invalid UAPI device key: %v", key)
	}
	return handler(device, value)
}

func (device *Device) setPrivateKeyLine(value string) error {
	var sk NoisePrivateKey
	if err := sk.FromMaybeZeroHex(value); err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to set private_key: %w", err)
	}
	device.log.Verbosef("UAPI: Updating private key")
	device.SetPrivateKey(sk)
	return nil
}

func (device *Device) setListenPortLine(value string) error {
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to parse listen_port: %w", err)
	}

	device.log.Verbosef("UAPI: Updating listen port")
	device.net.Lock()
	device.net.port = uint16(port)
	device.net.Unlock()

	if err := device.BindUpdate(); err != nil {
		return ipcErrorf(ipcErrorPortInUse, "failed to set listen_port: %w", err)
	}
	return nil
}

func (device *Device) setFwmarkLine(value string) error {
	mark, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "invalid fwmark: %w", err)
	}

	device.log.Verbosef("UAPI: Updating fwmark")
	if err := device.BindSetMark(uint32(mark)); err != nil {
		return ipcErrorf(ipcErrorPortInUse, "failed to update fwmark: %w", err)
	}
	return nil
}

func (device *Device) setReplacePeersLine(value string) error {
	if value != "true" {
		return ipcErrorf(ipcErrorInvalid, "failed to set replace_peers, invalid value: %v", value)
	}
	device.log.Verbosef("UAPI: Removing all peers")
	device.RemoveAllPeers()
	return nil
}

// An ipcSetPeer is the current state of an IPC set operation on a peer.
type ipcSetPeer struct {
	*Peer        // Peer is the current peer being operated on
	dummy   bool // dummy reports whether this peer is a temporary, placeholder peer
	created bool // new reports whether this is a newly created peer
	pkaOn   bool // pkaOn reports whether the peer had the persistent keepalive turn on
}

func (peer *ipcSetPeer) handlePostConfig() {
	if peer.Peer == nil || peer.dummy {
		return
	}
	if peer.created {
		peer.endpoint.disableRoaming = peer.device.net.brokenRoaming && peer.endpoint.val != nil
	}
	if peer.device.isUp() {
		peer.Start()
		if peer.pkaOn {
			peer.SendKeepalive()
		}
		peer.SendStagedPackets()
	}
}

func (device *Device) handlePublicKeyLine(peer *ipcSetPeer, value string) error {
	var publicKey NoisePublicKey
	if err := publicKey.FromHex(value); err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to get peer by public key: %w", err)
	}

	device.staticIdentity.RLock()
	peer.dummy = device.staticIdentity.publicKey.Equals(publicKey)
	device.staticIdentity.RUnlock()

	if peer.dummy {
		peer.Peer = &Peer{}
		peer.created = false
		return nil
	}

	peer.Peer = device.LookupPeer(publicKey)
	peer.created = peer.Peer == nil
	if !peer.created {
		return nil
	}

	created, err := device.NewPeer(publicKey)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to create new peer: %w", err)
	}
	peer.Peer = created
	device.log.Verbosef("%v - UAPI: Created", peer.Peer)
	return nil
}

// peerLineHandlers dispatches each recognized peer-scope UAPI key to its
// setter, mirroring deviceLineHandlers above.
var peerLineHandlers = map[string]func(*Device, *ipcSetPeer, string) error{
	"update_only":                   (*Device).setUpdateOnlyLine,
	"remove":                        (*Device).setRemoveLine,
	"preshared_key":                 (*Device).setPresharedKeyLine,
	"endpoint":                      (*Device).setEndpointLine,
	"persistent_keepalive_interval": (*Device).setPersistentKeepaliveLine,
	"replace_allowed_ips":           (*Device).setReplaceAllowedIPsLine,
	"allowed_ip":                    (*Device).setAllowedIPLine,
	"protocol_version":              (*Device).setProtocolVersionLine,
}

func (device *Device) handlePeerLine(peer *ipcSetPeer, key, value string) error {
	handler, ok := peerLineHandlers[key]
	if !ok {
		return ipcErrorf(ipcErrorInvalid, "invalid UAPI peer key: %v", key)
	}
	return handler(device, peer, value)
}

func (device *Device) setUpdateOnlyLine(peer *ipcSetPeer, value string) error {
	if value != "true" {
		return ipcErrorf(ipcErrorInvalid, "failed to set update only, invalid value: %v", value)
	}
	if peer.created && !peer.dummy {
		device.RemovePeer(peer.handshake.remoteStatic)
		peer.Peer = &Peer{}
		peer.dummy = true
	}
	return nil
}

func (device *Device) setRemoveLine(peer *ipcSetPeer, value string) error {
	if value != "true" {
		return ipcErrorf(ipcErrorInvalid, "failed to set remove, invalid value: %v", value)
	}
	if !peer.dummy {
		device.log.Verbosef("%v - UAPI: Removing", peer.Peer)
		device.RemovePeer(peer.handshake.remoteStatic)
	}
	peer.Peer = &Peer{}
	peer.dummy = true
	return nil
}

func (device *Device) setPresharedKeyLine(peer *ipcSetPeer, value string) error {
	device.log.Verbosef("%v - UAPI: Updating preshared key", peer.Peer)

	peer.handshake.mutex.Lock()
	err := peer.handshake.presharedKey.FromHex(value)
	peer.handshake.mutex.Unlock()
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to set preshared key: %w", err)
	}
	return nil
}

func (device *Device) setEndpointLine(peer *ipcSetPeer, value string) error {
	device.log.Verbosef("%v - UAPI: Updating endpoint", peer.Peer)
	endpoint, err := device.net.bind.ParseEndpoint(value)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to set endpoint %v: %w", value, err)
	}
	peer.endpoint.Lock()
	defer peer.endpoint.Unlock()
	peer.endpoint.val = endpoint
	return nil
}

func (device *Device) setPersistentKeepaliveLine(peer *ipcSetPeer, value string) error {
	device.log.Verbosef("%v - UAPI: Updating persistent keepalive interval", peer.Peer)

	secs, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to set persistent keepalive interval: %w", err)
	}

	old := peer.persistentKeepaliveInterval.Swap(uint32(secs))
	// Send immediate keepalive if we're turning it on and before it wasn't on.
	peer.pkaOn = old == 0 && secs != 0
	return nil
}

func (device *Device) setReplaceAllowedIPsLine(peer *ipcSetPeer, value string) error {
	device.log.Verbosef("%v - UAPI: Removing all allowedips", peer.Peer)
	if value != "true" {
		return ipcErrorf(ipcErrorInvalid, "failed to replace allowedips, invalid value: %v", value)
	}
	if peer.dummy {
		return nil
	}
	device.allowedips.RemoveByPeer(peer.Peer)
	return nil
}

func (device *Device) setAllowedIPLine(peer *ipcSetPeer, value string) error {
	add := true
	verb := "Adding"
	if len(value) > 0 && value[0] == '-' {
		add = false
		verb = "Removing"
		value = value[1:]
	}
	device.log.Verbosef("%v - UAPI: %s allowedip", peer.Peer, verb)

	prefix, err := netip.ParsePrefix(value)
	if err != nil {
		return ipcErrorf(ipcErrorInvalid, "failed to set allowed ip: %w", err)
	}
	if peer.dummy {
		return nil
	}
	if add {
		device.allowedips.Insert(prefix, peer.Peer)
	} else {
		device.allowedips.Remove(prefix, peer.Peer)
	}
	return nil
}

func (device *Device) setProtocolVersionLine(_ *ipcSetPeer, value string) error {
	if value != "1" {
		return ipcErrorf(ipcErrorInvalid, "invalid protocol version: %v", value)
	}
	return nil
}

// IpcGet is a convenience wrapper around IpcGetOperation for callers that
// want the config-protocol output as a string rather than a socket. The
// socket entry point is IpcHandle, which calls IpcGetOperation directly.
// Sample output:
// private_key=a8dac1d8a70a751f0f699fb14ba1cff7b796b4eb606863116a4a15995bd32f7a
// listen_port=38200
// public_key=d2fb4b534068efb3a6379b6f3d3e89c3632a3b8e106ac2c9776c38b41d36
// endpoint=10.0.0.104:38561
// allowed_ip=10.166.0.3/32
// rx_bytes=212
// tx_bytes=92
// last_handshake_time_sec=1703084400
// last_handshake_time_nsec=0
// public_key=58a38177b8577656189071a759a5b00ea79e5f452ec17d1e3730e0823a0727
// allowed_ip=10.166.0.2/32
func (device *Device) IpcGet() (string, error) {
	buf := new(strings.Builder)
	if err := device.IpcGetOperation(buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (device *Device) IpcSet(uapiConf string) error {
	return device.IpcSetOperation(strings.NewReader(uapiConf))
}

// IpcHandle services a single UAPI connection, waiting for "set=1" or
// "get=1" operations until the peer disconnects.
func (device *Device) IpcHandle(socket net.Conn) {
	defer socket.Close()

	reader := bufio.NewReader(socket)
	writer := bufio.NewWriter(socket)
	buffered := bufio.NewReadWriter(reader, writer)

	for {
		op, err := buffered.ReadString('\n')
		if err != nil {
			return
		}

		switch op {
		case "set=1\n":
			err = device.IpcSetOperation(buffered.Reader)
		case "get=1\n":
			nextByte, rErr := buffered.ReadByte()
			if rErr != nil {
				return
			}
			if nextByte != '\n' {
				err = ipcErrorf(ipcErrorInvalid, "trailing character in UAPI get: %q", nextByte)
				break
			}
			err = device.IpcGetOperation(buffered.Writer)
		default:
			device.log.Errorf("invalid UAPI operation: %v", op)
			return
		}

		var status *IPCError
		if err != nil && !errors.As(err, &status) {
			status = ipcErrorf(ipcErrorUnknown, "other UAPI error: %w", err)
		}
		if status != nil {
			device.log.Errorf("%v", status)
			fmt.Fprintf(buffered, "errno=%d\n\n", status.ErrorCode())
		} else {
			fmt.Fprintf(buffered, "errno=0\n\n")
		}
		buffered.Flush()
	}
}
