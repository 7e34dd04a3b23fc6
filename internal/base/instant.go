// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

const (
	// MaxLogFileNumber is the largest log file number an instant can encode.
	MaxLogFileNumber = 1<<31 - 1
	// MaxLogFileSize is the largest offset within a log file an instant can
	// encode.
	MaxLogFileSize = 1<<31 - 1
)

// FileNum identifies a log file.
type FileNum uint32

// String implements fmt.Stringer.
func (fn FileNum) String() string { return fmt.Sprintf("%06d", fn) }

// SafeFormat implements redact.SafeFormatter.
func (fn FileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(fn))
}

// LogInstant is the address of a log record: the log file number in the high
// 32 bits and the offset of the record within the file in the low 32 bits.
type LogInstant uint64

// InvalidLogInstant is the zero instant. No record is ever written at offset 0
// of a log file because every file starts with a header.
const InvalidLogInstant LogInstant = 0

// MakeLogInstant returns the instant for the given file number and offset.
func MakeLogInstant(fileNum FileNum, pos int64) LogInstant {
	return LogInstant(uint64(fileNum)<<32 | uint64(uint32(pos)))
}

// FileNum returns the log file number encoded in the instant.
func (i LogInstant) FileNum() FileNum {
	return FileNum(uint64(i) >> 32)
}

// Position returns the offset within the log file encoded in the instant.
func (i LogInstant) Position() int64 {
	return int64(uint32(i))
}

// Valid returns true if the instant is not InvalidLogInstant.
func (i LogInstant) Valid() bool {
	return i != InvalidLogInstant
}

// String implements fmt.Stringer.
func (i LogInstant) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i LogInstant) SafeFormat(w redact.SafePrinter, _ rune) {
	if !i.Valid() {
		w.SafeString("(invalid)")
		return
	}
	w.Printf("(%d,%d)", redact.SafeUint(i.FileNum()), redact.SafeInt(i.Position()))
}
