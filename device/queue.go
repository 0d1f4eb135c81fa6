/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "sync"

// outboundQueue fans encrypted-and-ready packets out to the per-CPU
// encryption workers. wg tracks every producer still allowed to write to c,
// so it can be closed once the last producer is done with it.
type outboundQueue struct {
	c  chan *QueueOutboundElementsContainer
	wg sync.WaitGroup
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{c: make(chan *QueueOutboundElementsContainer, QueueOutboundSize)}
}

type inboundQueue struct {
	c  chan *QueueInboundElementsContainer
	wg sync.WaitGroup
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{c: make(chan *QueueInboundElementsContainer, QueueInboundSize)}
}

type handshakeQueue struct {
	c  chan QueueHandshakeElement
	wg sync.WaitGroup
}

func newHandshakeQueue() *handshakeQueue {
	return &handshakeQueue{c: make(chan QueueHandshakeElement, QueueHandshakeSize)}
}

// autodrainingOutboundQueue is a per-peer sequential-sender queue: Start
// spawns exactly one consumer (RoutineSequentialSender). If the peer is
// torn down with items still queued, draining here on Close prevents that
// consumer's eventual exit from blocking on a full channel forever.
type autodrainingOutboundQueue struct {
	c      chan *QueueOutboundElementsContainer
	device *Device
}

func newAutodrainingOutboundQueue(device *Device) *autodrainingOutboundQueue {
	return &autodrainingOutboundQueue{
		c:      make(chan *QueueOutboundElementsContainer, QueueOutboundSize),
		device: device,
	}
}

type autodrainingInboundQueue struct {
	c      chan *QueueInboundElementsContainer
	device *Device
}

func newAutodrainingInboundQueue(device *Device) *autodrainingInboundQueue {
	return &autodrainingInboundQueue{
		c:      make(chan *QueueInboundElementsContainer, QueueInboundSize),
		device: device,
	}
}

// flushOutboundQueue drains and releases any elements left over from a
// previous run of the peer, so a restarted peer starts with an empty queue.
func (device *Device) flushOutboundQueue(queue *autodrainingOutboundQueue) {
	for {
		select {
		case elemsContainer := <-queue.c:
			if elemsContainer == nil {
				return
			}
			for _, elem := range elemsContainer.elems {
				device.PutMessageBuffer(elem.buffer)
				device.PutOutboundElement(elem)
			}
			device.PutOutboundElementsContainer(elemsContainer)
		default:
			return
		}
	}
}

func (device *Device) flushInboundQueue(queue *autodrainingInboundQueue) {
	for {
		select {
		case elemsContainer := <-queue.c:
			if elemsContainer == nil {
				return
			}
			for _, elem := range elemsContainer.elems {
				device.PutMessageBuffer(elem.buffer)
				device.PutInboundElement(elem)
			}
			device.PutInboundElementsContainer(elemsContainer)
		default:
			return
		}
	}
}
