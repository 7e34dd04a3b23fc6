// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// rawlog is a tool for inspecting and benchmarking transaction logs.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rawlog [command] (flags)",
		Short: "rawlog benchmarking/introspection tool",
		Long:  ``,
	}
	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		newDumpCmd(),
		newCheckCmd(),
		newBenchCmd(),
	)
	return rootCmd
}

func main() {
	log.SetFlags(0)

	if err := newRootCmd().Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
