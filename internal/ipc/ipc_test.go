/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ipc

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/titun/titun/device"
)

// nullTUN is a no-op device.TUNDevice sufficient to construct a device.Device
// in tests that never touch the packet plane.
type nullTUN struct {
	events chan device.TUNEvent
}

func newNullTUN() *nullTUN {
	return &nullTUN{events: make(chan device.TUNEvent)}
}

func (t *nullTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) { return 0, nil }
func (t *nullTUN) Write(bufs [][]byte, offset int) (int, error)             { return len(bufs), nil }
func (t *nullTUN) MTU() (int, error)                                        { return device.DefaultMTU, nil }
func (t *nullTUN) Name() (string, error)                                    { return "titun-test", nil }
func (t *nullTUN) BatchSize() int                                           { return 1 }
func (t *nullTUN) Events() <-chan device.TUNEvent                           { return t.events }
func (t *nullTUN) Close() error                                             { close(t.events); return nil }

// nullBind is a no-op device.Bind.
type nullBind struct{}

func (nullBind) Open(port uint16) ([]device.ReceiveFunc, uint16, error) { return nil, port, nil }
func (nullBind) Close() error                                           { return nil }
func (nullBind) SetMark(mark uint32) error                              { return nil }
func (nullBind) Send(bufs [][]byte, endpoint device.Endpoint) error     { return nil }
func (nullBind) BatchSize() int                                         { return 1 }
func (nullBind) ParseEndpoint(s string) (device.Endpoint, error)        { return nil, nil }

func newTestDevice(t *testing.T) *device.Device {
	t.Helper()
	logger := device.NewLogger(device.LogLevelSilent, "")
	dev := device.NewDevice(newNullTUN(), nullBind{}, logger)
	t.Cleanup(dev.Close)
	return dev
}

func TestServeHandlesGetAndSet(t *testing.T) {
	dev := newTestDevice(t)

	path := filepath.Join(t.TempDir(), "titun-test.sock")
	srv, err := Listen(dev, path)
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("get=1\n\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			break
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	require.Contains(t, strings.Join(lines, "\n"), "errno=0")
}

func TestListenRemovesStaleSocket(t *testing.T) {
	dev := newTestDevice(t)
	path := filepath.Join(t.TempDir(), "stale.sock")

	first, err := Listen(dev, path)
	require.NoError(t, err)
	// Simulate an unclean shutdown: the socket file is left on disk but
	// nothing is listening on it anymore.
	first.listener.Close()

	second, err := Listen(dev, path)
	require.NoError(t, err)
	defer second.Close()
}

func TestSocketPath(t *testing.T) {
	require.Equal(t, "/var/run/wireguard/wg0.sock", SocketPath("wg0"))
}
