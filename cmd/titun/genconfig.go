/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/titun/titun/device"
	"github.com/titun/titun/internal/config"
)

func newGenconfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genconfig <path>",
		Short: "Write a starter configuration file with a freshly generated private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			privateKey := device.GeneratePrivateKey()
			if err := config.WriteSample(path, privateKey); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
