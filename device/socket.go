/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package device

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

// Endpoint identifies a UDP peer address. Unlike upstream wireguard-go's
// conn.Endpoint, there is exactly one implementation: a plain UDP socket
// address. The interface is kept so the packet-plane code that consumes it
// reads the same way regardless of the concrete endpoint type.
type Endpoint interface {
	ClearSrc()
	DstToString() string
	DstIP() netip.Addr
	SrcIP() netip.Addr
}

// StdNetEndpoint is the sole Endpoint implementation: a UDP destination plus
// the local source address the reply should be sent from.
type StdNetEndpoint struct {
	dst netip.AddrPort
	src netip.Addr
}

func (e *StdNetEndpoint) ClearSrc() {
	e.src = netip.Addr{}
}

func (e *StdNetEndpoint) DstToString() string {
	return e.dst.String()
}

func (e *StdNetEndpoint) DstIP() netip.Addr {
	return e.dst.Addr()
}

func (e *StdNetEndpoint) SrcIP() netip.Addr {
	return e.src
}

// ReceiveFunc reads a batch of datagrams into bufs, reporting their sizes and
// origin endpoints. It mirrors upstream wireguard-go's conn.ReceiveFunc so the
// packet-receive loop in receive.go is unchanged in shape.
type ReceiveFunc func(bufs [][]byte, sizes []int, endpoints []Endpoint) (n int, err error)

func (fn ReceiveFunc) PrettyName() string { return "udp" }

// Bind owns the UDP socket(s) a Device sends and receives on. StdNetBind is
// the only implementation here; upstream wireguard-go's pluggable multi-OS
// conn.Bind abstraction is collapsed to this single concrete type, since the
// core engine only ever needs to own one UDP socket directly.
type Bind interface {
	Open(port uint16) (fns []ReceiveFunc, actualPort uint16, err error)
	Close() error
	SetMark(mark uint32) error
	Send(bufs [][]byte, endpoint Endpoint) error
	BatchSize() int
	ParseEndpoint(s string) (Endpoint, error)
}

// StdNetBind is a Bind backed directly by a single net.UDPConn for both IPv4
// and IPv6 (via a dual-stack listener).
type StdNetBind struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

func NewStdNetBind() Bind {
	return &StdNetBind{}
}

func (b *StdNetBind) Open(port uint16) ([]ReceiveFunc, uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, 0, err
	}
	b.conn = conn

	actual := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	recv := func(bufs [][]byte, sizes []int, endpoints []Endpoint) (int, error) {
		n, addr, err := conn.ReadFromUDPAddrPort(bufs[0])
		if err != nil {
			return 0, err
		}
		sizes[0] = n
		endpoints[0] = &StdNetEndpoint{dst: addr}
		return 1, nil
	}
	return []ReceiveFunc{recv}, actual, nil
}

func (b *StdNetBind) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *StdNetBind) SetMark(mark uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	sc, err := b.conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = sc.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
	})
	if err != nil {
		return err
	}
	return setErr
}

func (b *StdNetBind) Send(bufs [][]byte, endpoint Endpoint) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("bind is closed")
	}
	ep, ok := endpoint.(*StdNetEndpoint)
	if !ok {
		return errors.New("unknown endpoint type")
	}
	for _, buf := range bufs {
		if _, err := conn.WriteToUDPAddrPort(buf, ep.dst); err != nil {
			return err
		}
	}
	return nil
}

func (b *StdNetBind) BatchSize() int { return 1 }

func (b *StdNetBind) ParseEndpoint(s string) (Endpoint, error) {
	addr, err := netip.ParseAddrPort(s)
	if err != nil {
		host, portStr, err2 := net.SplitHostPort(s)
		if err2 != nil {
			return nil, err
		}
		ips, err3 := net.LookupHost(host)
		if err3 != nil || len(ips) == 0 {
			return nil, err
		}
		addr, err = netip.ParseAddrPort(net.JoinHostPort(ips[0], portStr))
		if err != nil {
			return nil, err
		}
	}
	return &StdNetEndpoint{dst: addr}, nil
}
