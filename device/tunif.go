/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrTooManySegments is returned by a TUNDevice.Read when the kernel handed
// back more coalesced segments than the caller's buffers can hold.
var ErrTooManySegments = errors.New("too many segments")

// TUNDevice is the literal contract the core engine needs from a virtual
// network interface: batches of layer-3 IP packets in and out, plus enough
// metadata (MTU, a name, an event stream) to react to interface changes. It
// intentionally narrows upstream wireguard-go's much larger tun.Device
// interface (which also carries Windows/Android/wintun specifics) down to
// what this engine's packet loops actually call.
type TUNDevice interface {
	// Read reads one or more packets from the device into bufs, writing
	// each packet starting at offset bytes into its buffer and recording
	// the packet length (excluding offset) in sizes. It returns the
	// number of packets read.
	Read(bufs [][]byte, sizes []int, offset int) (n int, err error)
	// Write writes one or more packets to the device, each starting at
	// offset bytes into its buffer.
	Write(bufs [][]byte, offset int) (int, error)
	MTU() (int, error)
	Name() (string, error)
	BatchSize() int
	Events() <-chan TUNEvent
	Close() error
}

type TUNEvent int

const (
	TUNEventUp TUNEvent = 1 << iota
	TUNEventDown
	TUNEventMTUUpdate
)

// LinuxTUN opens a /dev/net/tun device in TUN (layer 3) mode.
type LinuxTUN struct {
	name   string
	file   *os.File
	events chan TUNEvent
	mtu    int
}

const (
	cloneDevicePath = "/dev/net/tun"
	ifReqSize       = unix.IFNAMSIZ + 64
)

// OpenLinuxTUN creates (or attaches to) the named TUN interface.
func OpenLinuxTUN(name string) (*LinuxTUN, error) {
	fd, err := unix.Open(cloneDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cloneDevicePath, err)
	}

	var ifr [ifReqSize]byte
	copy(ifr[:unix.IFNAMSIZ], name)
	// IFF_TUN | IFF_NO_PI
	const iffTUN = 0x0001
	const iffNoPI = 0x1000
	*(*uint16)(unsafe.Pointer(&ifr[unix.IFNAMSIZ])) = iffTUN | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr[0]))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF: %w", errno)
	}

	t := &LinuxTUN{
		name:   name,
		file:   os.NewFile(uintptr(fd), cloneDevicePath),
		events: make(chan TUNEvent, 8),
		mtu:    DefaultMTU,
	}
	t.events <- TUNEventUp
	return t, nil
}

func (t *LinuxTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	n, err := t.file.Read(bufs[0][offset:])
	if err != nil {
		return 0, err
	}
	sizes[0] = n
	return 1, nil
}

func (t *LinuxTUN) Write(bufs [][]byte, offset int) (int, error) {
	for i, buf := range bufs {
		if _, err := t.file.Write(buf[offset:]); err != nil {
			return i, err
		}
	}
	return len(bufs), nil
}

func (t *LinuxTUN) MTU() (int, error)     { return t.mtu, nil }
func (t *LinuxTUN) Name() (string, error) { return t.name, nil }
func (t *LinuxTUN) BatchSize() int        { return 1 }

func (t *LinuxTUN) Events() <-chan TUNEvent { return t.events }

func (t *LinuxTUN) Close() error {
	close(t.events)
	return t.file.Close()
}
