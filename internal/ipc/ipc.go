/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ipc exposes a device.Device's UAPI configuration protocol over a
// Unix domain socket, one connection at a time, asynchronously accepting new
// connections while prior ones are still being serviced.
package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/titun/titun/device"
)

// SocketPath returns the conventional control-socket path for the named
// interface, matching the layout userspace WireGuard implementations use.
func SocketPath(interfaceName string) string {
	return filepath.Join("/var/run/wireguard", interfaceName+".sock")
}

// Server accepts UAPI connections on a Unix domain socket and dispatches
// each to device.IpcHandle in its own goroutine.
type Server struct {
	dev      *device.Device
	listener net.Listener

	mu   sync.Mutex
	wg   sync.WaitGroup
	done chan struct{}
}

// Listen creates the socket directory if needed, removes any stale socket
// file at path, and binds a new listener.
func Listen(dev *device.Device, path string) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	// A previous unclean shutdown can leave the socket file behind; a
	// stale file makes ListenUnix fail with "address already in use"
	// even though nothing is listening.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve socket address: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		dev:      dev,
		listener: listener,
		done:     make(chan struct{}),
	}, nil
}

// Serve accepts connections until Close is called, handling each on its own
// goroutine via device.IpcHandle.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dev.IpcHandle(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish, then removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	err := s.listener.Close()
	s.wg.Wait()

	if addr, ok := s.listener.Addr().(*net.UnixAddr); ok {
		os.Remove(addr.Name)
	}
	return err
}
