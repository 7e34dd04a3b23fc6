// Copyright 2021 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// FormatMajorVersion is a constant controlling the format of log files.
// Each log file records the version it was written with in its header, and
// readers use it to decide how the file is organized.
//
// The zero value format is the FormatDefault constant. The exact
// FormatMajorVersion that the default corresponds to may change with time.
type FormatMajorVersion uint32

// String implements fmt.Stringer.
func (v FormatMajorVersion) String() string {
	return fmt.Sprintf("%03d", v)
}

const (
	// FormatDefault leaves the format version unspecified. It is resolved to
	// FormatNewest.
	FormatDefault FormatMajorVersion = iota
	// FormatMostCompatible writes plain records with no checksum records.
	FormatMostCompatible
	// FormatChecksums organizes the records of a log file as groups, each
	// preceded by a checksum record covering the group.
	FormatChecksums
	// FormatNewest always contains the most recent format major version.
	FormatNewest FormatMajorVersion = FormatChecksums
)

// checksums returns true if files written with this version are organized
// as checksum groups.
func (v FormatMajorVersion) checksums() bool {
	return v >= FormatChecksums
}

func (v FormatMajorVersion) validate() error {
	if v < FormatMostCompatible || v > FormatNewest {
		return errors.Newf("rawlog: unsupported format major version %s", v)
	}
	return nil
}
