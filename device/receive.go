/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

type QueueHandshakeElement struct {
	msgType  uint32
	packet   []byte
	endpoint Endpoint
	buffer   *[MaxMessageSize]byte
}

type QueueInboundElement struct {
	buffer   *[MaxMessageSize]byte
	packet   []byte
	counter  uint64
	keypair  *Keypair
	endpoint Endpoint
}

type QueueInboundElementsContainer struct {
	sync.Mutex
	elems []*QueueInboundElement
}

// clearPointers clears elem fields that contain pointers.
// This makes the garbage collector's life easier and
// avoids accidentally keeping other objects around unnecessarily.
// It also reduces the possible collateral damage from use-after-free bugs.
func (elem *QueueInboundElement) clearPointers() {
	elem.buffer = nil
	elem.packet = nil
	elem.keypair = nil
	elem.endpoint = nil
}

/* Called when a new authenticated message has been received
 *
 * NOTE: Not thread safe, but called by sequential receiver!
 */
func (peer *Peer) keepKeyFreshReceiving() {
	if peer.timers.sentLastMinuteHandshake.Load() {
		return
	}
	keypair := peer.keypairs.Current()
	if keypair != nil && keypair.isInitiator && time.Since(keypair.created) > (RejectAfterTime-KeepaliveTimeout-RekeyTimeout) {
		peer.timers.sentLastMinuteHandshake.Store(true)
		peer.SendHandshakeInitiation(false)
	}
}

// RoutineReceiveIncoming is the first stop for inbound traffic: it batch-reads
// UDP datagrams off the bind, sorts them by type, and dispatches transport
// packets to the decryption queue (grouped by peer) while handing handshake
// packets straight to the handshake workers.
//
// Every time the bind is updated a new routine is started for
// IPv4 and IPv6 (separately)
func (device *Device) RoutineReceiveIncoming(maxBatchSize int, recv ReceiveFunc) {
	recvName := recv.PrettyName()
	defer func() {
		device.log.Verbosef("Routine: receive incoming %s - stopped", recvName)
		device.queue.decryption.wg.Done()
		device.queue.handshake.wg.Done()
		device.net.stopping.Done()
	}()

	device.log.Verbosef("Routine: receive incoming %s - started", recvName)

	var (
		bufsArrs    = make([]*[MaxMessageSize]byte, maxBatchSize)
		bufs        = make([][]byte, maxBatchSize)
		err         error
		sizes       = make([]int, maxBatchSize)
		count       int
		endpoints   = make([]Endpoint, maxBatchSize)
		deathSpiral int
		elemsByPeer = make(map[*Peer]*QueueInboundElementsContainer, maxBatchSize)
	)

	for i := range bufsArrs {
		bufsArrs[i] = device.GetMessageBuffer()
		bufs[i] = bufsArrs[i][:]
	}

	defer func() {
		for i := 0; i < maxBatchSize; i++ {
			if bufsArrs[i] != nil {
				device.PutMessageBuffer(bufsArrs[i])
			}
		}
	}()

	for {
		count, err = recv(bufs, sizes, endpoints)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			device.log.Verbosef("Failed to receive %s packet: %v", recvName, err)
			if neterr, ok := err.(net.Error); ok && !neterr.Temporary() {
				return
			}
			if deathSpiral < 10 {
				deathSpiral++
				time.Sleep(time.Second / 3)
				continue
			}
			return
		}
		deathSpiral = 0

		// handle each packet in the batch
		for i, size := range sizes[:count] {
			if size < MinMessageSize {
				continue
			}

			// check size of packet

			packet := bufsArrs[i][:size]
			msgType := binary.LittleEndian.Uint32(packet[:4])

			if msgType == MessageTransportType {
				if len(packet) < MessageTransportSize {
					continue
				}

				receiver := binary.LittleEndian.Uint32(
					packet[MessageTransportOffsetReceiver:MessageTransportOffsetCounter],
				)
				value := device.indexTable.Lookup(receiver)
				keypair := value.keypair
				if keypair == nil {
					continue
				}
				if keypair.created.Add(RejectAfterTime).Before(time.Now()) {
					continue
				}

				peer := value.peer
				elem := device.GetInboundElement()
				elem.packet = packet
				elem.buffer = bufsArrs[i]
				elem.keypair = keypair
				elem.endpoint = endpoints[i]
				elem.counter = 0

				elemsForPeer, ok := elemsByPeer[peer]
				if !ok {
					elemsForPeer = device.GetInboundElementsContainer()
					elemsForPeer.Lock()
					elemsByPeer[peer] = elemsForPeer
				}
				elemsForPeer.elems = append(elemsForPeer.elems, elem)

				bufsArrs[i] = device.GetMessageBuffer()
				bufs[i] = bufsArrs[i][:]
				continue
			}

			// every other recognized type is a fixed-size handshake message
			wantSize, recognized := handshakeMessageSize(msgType)
			if !recognized {
				device.log.Verbosef("Received message with unknown type")
				continue
			}
			if len(packet) != wantSize {
				continue
			}

			// handoff to handshake goroutine

			select {
			case device.queue.handshake.c <- QueueHandshakeElement{
				msgType:  msgType,
				buffer:   bufsArrs[i],
				packet:   packet,
				endpoint: endpoints[i],
			}:
				bufsArrs[i] = device.GetMessageBuffer()
				bufs[i] = bufsArrs[i][:]
			default:
				// handshake queue full; drop rather than stall the receive loop
			}
		}

		for peer, elemsContainer := range elemsByPeer {
			if peer.isRunning.Load() {
				peer.queue.inbound.c <- elemsContainer
				device.queue.decryption.c <- elemsContainer
			} else {
				for _, elem := range elemsContainer.elems {
					device.PutMessageBuffer(elem.buffer)
					device.PutInboundElement(elem)
				}
				device.PutInboundElementsContainer(elemsContainer)
			}
			delete(elemsByPeer, peer)
		}
	}
}

// handshakeMessageSize returns the wire size a fixed-size handshake-related
// message type must have, or false if msgType isn't one of them.
func handshakeMessageSize(msgType uint32) (size int, recognized bool) {
	switch msgType {
	case MessageInitiationType:
		return MessageInitiationSize, true
	case MessageResponseType:
		return MessageResponseSize, true
	case MessageCookieReplyType:
		return MessageCookieReplySize, true
	default:
		return 0, false
	}
}

func (device *Device) RoutineDecryption(id int) {
	var nonce [chacha20poly1305.NonceSize]byte

	defer device.log.Verbosef("Routine: decryption worker %d - stopped", id)
	device.log.Verbosef("Routine: decryption worker %d - started", id)

	for elemsContainer := range device.queue.decryption.c {
		for _, elem := range elemsContainer.elems {
			// split message into fields
			counter := elem.packet[MessageTransportOffsetCounter:MessageTransportOffsetContent]
			content := elem.packet[MessageTransportOffsetContent:]

			// decrypt and release to consumer
			var err error
			elem.counter = binary.LittleEndian.Uint64(counter)
			// copy counter to nonce
			binary.LittleEndian.PutUint64(nonce[0x4:0xc], elem.counter)
			elem.packet, err = elem.keypair.receive.Open(
				content[:0],
				nonce[:],
				content,
				nil,
			)
			if err != nil {
				elem.packet = nil
			}
		}
		elemsContainer.Unlock()
	}
}

// RoutineHandshake drains the handshake queue: cookie replies are consumed
// directly, while initiation/response messages pass mac1/mac2 admission
// before being fed into the Noise state machine.
func (device *Device) RoutineHandshake(id int) {
	defer func() {
		device.log.Verbosef("Routine: handshake worker %d - stopped", id)
		device.queue.encryption.wg.Done()
	}()
	device.log.Verbosef("Routine: handshake worker %d - started", id)

	for elem := range device.queue.handshake.c {
		device.handleHandshakeElement(elem)
		device.PutMessageBuffer(elem.buffer)
	}
}

func (device *Device) handleHandshakeElement(elem QueueHandshakeElement) {
	switch elem.msgType {
	case MessageCookieReplyType:
		device.consumeCookieReply(elem)
	case MessageInitiationType:
		if device.admitHandshakeMessage(elem) {
			device.handleInitiationMessage(elem)
		}
	case MessageResponseType:
		if device.admitHandshakeMessage(elem) {
			device.handleResponseMessage(elem)
		}
	default:
		device.log.Errorf("Invalid packet ended up in the handshake queue")
	}
}

func (device *Device) consumeCookieReply(elem QueueHandshakeElement) {
	var reply MessageCookieReply
	if err := reply.unmarshal(elem.packet); err != nil {
		device.log.Verbosef("Failed to decode cookie reply")
		return
	}

	entry := device.indexTable.Lookup(reply.Receiver)
	peer := entry.peer
	if peer == nil || !peer.isRunning.Load() {
		return
	}

	device.log.Verbosef("Receiving cookie response from %s", elem.endpoint.DstToString())
	if !peer.cookieGenerator.ConsumeReply(&reply) {
		device.log.Verbosef("Could not decrypt invalid cookie response")
	}
}

// admitHandshakeMessage checks mac1 unconditionally, and under load also
// mac2 (sending a fresh cookie reply if it's missing) plus the per-source
// ratelimiter.
func (device *Device) admitHandshakeMessage(elem QueueHandshakeElement) bool {
	if !device.cookieChecker.CheckMAC1(elem.packet) {
		device.log.Verbosef("Received packet with invalid mac1")
		return false
	}
	if !device.IsUnderLoad() {
		return true
	}
	if !device.cookieChecker.CheckMAC2(elem.packet, elem.endpoint.DstToBytes()) {
		device.SendHandshakeCookie(&elem)
		return false
	}
	return device.rate.limiter.Allow(elem.endpoint.DstIP())
}

func (device *Device) handleInitiationMessage(elem QueueHandshakeElement) {
	var msg MessageInitiation
	if err := msg.unmarshal(elem.packet); err != nil {
		device.log.Errorf("Failed to decode initiation message")
		return
	}

	peer := device.ConsumeMessageInitiation(&msg)
	if peer == nil {
		device.log.Verbosef("Received invalid initiation message from %s", elem.endpoint.DstToString())
		return
	}

	peer.timersAnyAuthenticatedPacketTraversal()
	peer.timersAnyAuthenticatedPacketReceived()
	peer.SetEndpointFromPacket(elem.endpoint)

	device.log.Verbosef("%v - Received handshake initiation", peer)
	peer.rxBytes.Add(uint64(len(elem.packet)))

	peer.SendHandshakeResponse()
}

func (device *Device) handleResponseMessage(elem QueueHandshakeElement) {
	var msg MessageResponse
	if err := msg.unmarshal(elem.packet); err != nil {
		device.log.Errorf("Failed to decode response message")
		return
	}

	peer := device.ConsumeMessageResponse(&msg)
	if peer == nil {
		device.log.Verbosef("Received invalid response message from %s", elem.endpoint.DstToString())
		return
	}

	peer.SetEndpointFromPacket(elem.endpoint)
	device.log.Verbosef("%v - Received handshake response", peer)
	peer.rxBytes.Add(uint64(len(elem.packet)))

	peer.timersAnyAuthenticatedPacketTraversal()
	peer.timersAnyAuthenticatedPacketReceived()

	if err := peer.BeginSymmetricSession(); err != nil {
		device.log.Errorf("%v - Failed to derive keypair: %v", peer, err)
		return
	}

	peer.timersSessionDerived()
	peer.timersHandshakeComplete()
	peer.SendKeepalive()
}

// trimToSourceValidatedPacket trims a decrypted packet to its IP header's
// declared length (dropping any padding the sender added) and confirms the
// packet's source address is actually routed to peer by the allowed-IPs
// trie, mirroring the destination-side lookup used on the send path.
func trimToSourceValidatedPacket(device *Device, peer *Peer, packet []byte) ([]byte, bool) {
	switch packet[0] >> 4 {
	case 4:
		if len(packet) < ipv4.HeaderLen {
			return nil, false
		}
		field := packet[IPv4offsetTotalLength : IPv4offsetTotalLength+2]
		length := binary.BigEndian.Uint16(field)
		if int(length) > len(packet) || int(length) < ipv4.HeaderLen {
			return nil, false
		}
		packet = packet[:length]
		src := packet[IPv4offsetSrc : IPv4offsetSrc+net.IPv4len]
		if device.allowedips.Lookup(src) != peer {
			device.log.Verbosef("IPv4 packet with disallowed source address from %v", peer)
			return nil, false
		}
		return packet, true

	case 6:
		if len(packet) < ipv6.HeaderLen {
			return nil, false
		}
		field := packet[IPv6offsetPayloadLength : IPv6offsetPayloadLength+2]
		length := binary.BigEndian.Uint16(field) + ipv6.HeaderLen
		if int(length) > len(packet) {
			return nil, false
		}
		packet = packet[:length]
		src := packet[IPv6offsetSrc : IPv6offsetSrc+net.IPv6len]
		if device.allowedips.Lookup(src) != peer {
			device.log.Verbosef("IPv6 packet with disallowed source address from %v", peer)
			return nil, false
		}
		return packet, true

	default:
		device.log.Verbosef("Packet with invalid IP version from %v", peer)
		return nil, false
	}
}

// RoutineSequentialReceiver is the single goroutine per peer that reassembles
// decrypted packets back into order before writing them to the TUN device.
func (peer *Peer) RoutineSequentialReceiver(maxBatchSize int) {
	device := peer.device
	defer func() {
		device.log.Verbosef("%v - Routine: sequential receiver - stopped", peer)
		peer.stopping.Done()
	}()
	device.log.Verbosef("%v - Routine: sequential receiver - started", peer)

	bufs := make([][]byte, 0, maxBatchSize)

	for elemsContainer := range peer.queue.inbound.c {
		if elemsContainer == nil {
			return
		}
		elemsContainer.Lock()
		validTailPacket := -1
		dataPacketReceived := false
		rxBytesLen := uint64(0)
		for i, elem := range elemsContainer.elems {
			if elem.packet == nil {
				// decryption failed
				continue
			}

			if !elem.keypair.replayFilter.ValidateCounter(elem.counter, RejectAfterMessages) {
				continue
			}

			validTailPacket = i
			if peer.ReceivedWithKeypair(elem.keypair) {
				peer.SetEndpointFromPacket(elem.endpoint)
				peer.timersHandshakeComplete()
				peer.SendStagedPackets()
			}
			rxBytesLen += uint64(len(elem.packet) + MinMessageSize)

			if len(elem.packet) == 0 {
				// bare keepalive
				continue
			}
			dataPacketReceived = true

			trimmed, ok := trimToSourceValidatedPacket(device, peer, elem.packet)
			if !ok {
				continue
			}
			elem.packet = trimmed

			bufs = append(bufs, elem.buffer[:MessageTransportOffsetContent+len(elem.packet)])
		}

		peer.rxBytes.Add(rxBytesLen)
		if validTailPacket >= 0 {
			peer.SetEndpointFromPacket(elemsContainer.elems[validTailPacket].endpoint)
			peer.keepKeyFreshReceiving()
			peer.timersAnyAuthenticatedPacketTraversal()
			peer.timersAnyAuthenticatedPacketReceived()
		}
		if dataPacketReceived {
			peer.timersDataReceived()
		}
		if len(bufs) > 0 {
			_, err := device.tun.device.Write(bufs, MessageTransportOffsetContent)
			if err != nil && !device.isClosed() {
				device.log.Errorf("Failed to write packets to TUN device: %v", err)
			}
		}
		for _, elem := range elemsContainer.elems {
			device.PutMessageBuffer(elem.buffer)
			device.PutInboundElement(elem)
		}
		bufs = bufs[:0]
		device.PutInboundElementsContainer(elemsContainer)
	}
}
