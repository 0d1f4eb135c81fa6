/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/titun/titun/device"
)

func newGenkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new private key and print it to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), device.GeneratePrivateKey())
			return nil
		},
	}
}

func newPubkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Read a private key from stdin and print the corresponding public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privKey, err := readKeyLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			pubKey, err := device.GetPublicKeyFromPrivateKey(privKey)
			if err != nil {
				return fmt.Errorf("derive public key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pubKey)
			return nil
		},
	}
}

func readKeyLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no key read from stdin")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
