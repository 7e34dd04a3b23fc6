// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/record"
	"github.com/rawstore/rawlog/vfs"
	"github.com/spf13/cobra"
)

type dumpT struct {
	fs       vfs.FS
	verbose  bool
	maxBytes int
}

func newDumpCmd() *cobra.Command {
	d := &dumpT{fs: vfs.Default}
	cmd := &cobra.Command{
		Use:   "dump <dir>",
		Short: "print log contents",
		Long: `
Print the header and records of every log file in the directory, including
the checksum records. Reading a file stops at its end marker or at the
first record that cannot be trusted.
`,
		Args: cobra.ExactArgs(1),
		RunE: d.runDump,
	}
	cmd.Flags().BoolVarP(&d.verbose, "verbose", "v", false, "print record payloads")
	cmd.Flags().IntVar(&d.maxBytes, "max-bytes", 32, "maximum payload bytes to print")
	return cmd
}

func (d *dumpT) runDump(cmd *cobra.Command, args []string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.OutOrStderr()
	dirname := args[0]
	names, err := d.fs.List(dirname)
	if err != nil {
		return err
	}
	var nums []base.FileNum
	for _, name := range names {
		if fileNum, ok := base.ParseLogFilename(name); ok {
			nums = append(nums, fileNum)
		}
	}
	slices.Sort(nums)
	if len(nums) == 0 {
		return errors.Newf("no log files in %q", dirname)
	}

	var failed bool
	for _, fileNum := range nums {
		path := d.fs.PathJoin(dirname, base.MakeLogFilename(fileNum))
		if err := d.dumpFile(stdout, path, fileNum); err != nil {
			fmt.Fprintf(stderr, "%s: %s\n", path, err)
			failed = true
		}
	}
	if failed {
		return errors.New("corruption found")
	}
	return nil
}

func (d *dumpT) dumpFile(w io.Writer, path string, fileNum base.FileNum) error {
	f, err := d.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	h, err := record.ReadFileHeader(f)
	if err != nil {
		return err
	}
	version := rawlog.FormatMajorVersion(h.Version)
	fmt.Fprintf(w, "%s: version %s, previous end %s, %d bytes\n", path, version, h.PrevEnd, fi.Size())

	tbl := tablewriter.NewWriter(w)
	header := []string{"Instant", "Offset", "Kind", "Length"}
	if d.verbose {
		header = append(header, "Payload")
	}
	tbl.SetHeader(header)
	r := record.NewReader(f, fi.Size(), record.ReaderOptions{
		Checksums: version >= rawlog.FormatChecksums,
		FileNum:   fileNum,
	})
	var readErr error
	for {
		rec, err := r.NextRecord()
		if err == io.EOF {
			break
		} else if err != nil {
			readErr = err
			break
		}
		row := []string{
			rec.Instant.String(),
			fmt.Sprint(rec.Offset),
			rec.Kind.String(),
			fmt.Sprint(len(rec.Payload)),
		}
		if d.verbose {
			row = append(row, d.formatPayload(rec))
		}
		tbl.Append(row)
	}
	tbl.Render()

	end := "end of file"
	if r.SawEndMarker() {
		end = "end marker"
	}
	if readErr != nil {
		end = "corruption"
	}
	fmt.Fprintf(w, "known good end %d (%s)\n", r.KnownGoodEnd(), end)
	return readErr
}

func (d *dumpT) formatPayload(rec record.Record) string {
	if rec.Kind == record.KindChecksum {
		return fmt.Sprintf("crc32 of %d bytes: %08x", rec.Checksum.DataLength, rec.Checksum.Value)
	}
	p := rec.Payload
	if len(p) > d.maxBytes {
		return fmt.Sprintf("%x...", p[:d.maxBytes])
	}
	return fmt.Sprintf("%x", p)
}
