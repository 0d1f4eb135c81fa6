/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "titun",
		Short: "titun is a userspace WireGuard-style tunnel engine",
	}

	root.AddCommand(
		newGenkeyCommand(),
		newPubkeyCommand(),
		newGenconfigCommand(),
		newUpCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
