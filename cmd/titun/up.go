/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/titun/titun/device"
	"github.com/titun/titun/internal/config"
	"github.com/titun/titun/internal/ipc"
)

func newUpCommand() *cobra.Command {
	var ifaceName string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "up <config.toml>",
		Short: "Bring up a tunnel interface from a configuration file and run until terminated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], ifaceName, verbose)
		},
	}

	cmd.Flags().StringVar(&ifaceName, "interface", "titun0", "name of the TUN interface to create")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose protocol logging")

	return cmd
}

// run loads the configuration at configPath, brings up a TUN interface and a
// UDP socket, applies the configuration, and serves the control socket until
// the process receives SIGINT or SIGTERM.
func run(configPath, ifaceName string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := device.LogLevelError
	if verbose {
		logLevel = device.LogLevelVerbose
	}
	logger := device.NewLogger(logLevel, ifaceName)

	tun, err := device.OpenLinuxTUN(ifaceName)
	if err != nil {
		return fmt.Errorf("open TUN device %s: %w", ifaceName, err)
	}

	bind := device.NewStdNetBind()
	dev := device.NewDevice(tun, bind, logger)
	defer dev.Close()

	uapiConf, err := cfg.UAPI()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := dev.IpcSet(uapiConf); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	if err := dev.Up(); err != nil {
		return fmt.Errorf("bring device up: %w", err)
	}

	socketPath := ipc.SocketPath(ifaceName)
	server, err := ipc.Listen(dev, socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	defer server.Close()

	go func() {
		if err := server.Serve(); err != nil {
			logger.Errorf("control socket: %v", err)
		}
	}()

	logger.Verbosef("titun up: interface %s, control socket %s", ifaceName, socketPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Verbosef("received signal %v, shutting down", s)
	case <-dev.Wait():
	}

	return nil
}
