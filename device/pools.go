/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import "sync"

// WaitPool is a sync.Pool with an upper bound on the number of objects that
// may be outstanding at once. Beyond that bound, Get blocks until a Put
// returns an object, rather than growing without limit, bounding the memory
// a burst of traffic can pin regardless of how busy the packet loops get.
type WaitPool struct {
	pool     sync.Pool
	cond     sync.Cond
	mu       sync.Mutex
	count    uint32
	max      uint32
}

func NewWaitPool(max uint32, new func() any) *WaitPool {
	p := &WaitPool{pool: sync.Pool{New: new}, max: max}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

func (p *WaitPool) Get() any {
	if p.max != 0 {
		p.mu.Lock()
		for p.count >= p.max {
			p.cond.Wait()
		}
		p.count++
		p.mu.Unlock()
	}
	return p.pool.Get()
}

func (p *WaitPool) Put(x any) {
	p.pool.Put(x)
	if p.max == 0 {
		return
	}
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
	p.cond.Signal()
}

// PopulatePools initializes the device's buffer and container pools, sized
// off the device's batch size.
func (device *Device) PopulatePools() {
	device.pool.messageBuffers = NewWaitPool(MaxSegmentPoolCapacity, func() any {
		return new([MaxMessageSize]byte)
	})
	device.pool.inboundElements = NewWaitPool(MaxSegmentPoolCapacity, func() any {
		return new(QueueInboundElement)
	})
	device.pool.outboundElements = NewWaitPool(MaxSegmentPoolCapacity, func() any {
		return new(QueueOutboundElement)
	})
	device.pool.inboundElementsContainer = NewWaitPool(MaxSegmentPoolCapacity, func() any {
		return new(QueueInboundElementsContainer)
	})
	device.pool.outboundElementsContainer = NewWaitPool(MaxSegmentPoolCapacity, func() any {
		return new(QueueOutboundElementsContainer)
	})
}

func (device *Device) GetMessageBuffer() *[MaxMessageSize]byte {
	return device.pool.messageBuffers.Get().(*[MaxMessageSize]byte)
}

func (device *Device) PutMessageBuffer(msg *[MaxMessageSize]byte) {
	device.pool.messageBuffers.Put(msg)
}

func (device *Device) GetInboundElement() *QueueInboundElement {
	return device.pool.inboundElements.Get().(*QueueInboundElement)
}

func (device *Device) PutInboundElement(elem *QueueInboundElement) {
	elem.clearPointers()
	device.pool.inboundElements.Put(elem)
}

func (device *Device) GetInboundElementsContainer() *QueueInboundElementsContainer {
	c := device.pool.inboundElementsContainer.Get().(*QueueInboundElementsContainer)
	c.elems = c.elems[:0]
	return c
}

func (device *Device) PutInboundElementsContainer(c *QueueInboundElementsContainer) {
	for i := range c.elems {
		c.elems[i] = nil
	}
	c.elems = c.elems[:0]
	device.pool.inboundElementsContainer.Put(c)
}

func (device *Device) GetOutboundElement() *QueueOutboundElement {
	return device.pool.outboundElements.Get().(*QueueOutboundElement)
}

func (device *Device) PutOutboundElement(elem *QueueOutboundElement) {
	elem.clearPointers()
	device.pool.outboundElements.Put(elem)
}

func (device *Device) GetOutboundElementsContainer() *QueueOutboundElementsContainer {
	c := device.pool.outboundElementsContainer.Get().(*QueueOutboundElementsContainer)
	c.elems = c.elems[:0]
	return c
}

func (device *Device) PutOutboundElementsContainer(c *QueueOutboundElementsContainer) {
	for i := range c.elems {
		c.elems[i] = nil
	}
	c.elems = c.elems[:0]
	device.pool.outboundElementsContainer.Put(c)
}
