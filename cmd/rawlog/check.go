// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/vfs"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <dir>",
		Short: "verify the log files of a directory",
		Long: `
Open the log read-only and verify every record of every log file, including
the checksum groups. Prints the end of the last intact record.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, vfs.Default, args[0])
		},
	}
}

func runCheck(cmd *cobra.Command, fs vfs.FS, dirname string) (err error) {
	l, err := rawlog.Open(dirname, &rawlog.Options{
		FS:       fs,
		ReadOnly: true,
	})
	if err != nil {
		return err
	}
	defer func() { err = errors.CombineErrors(err, l.Close()) }()

	end, err := l.Check()
	fmt.Fprintf(cmd.OutOrStdout(), "end %s\n", end)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok\n")
	return nil
}
