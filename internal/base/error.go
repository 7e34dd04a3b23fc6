// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

var (
	// ErrCorruption is a marker to indicate that data in a log file is torn,
	// incomplete or otherwise not what the writer produced.
	ErrCorruption = errors.New("rawlog: corruption")

	// ErrLogFull is a marker for unrecoverable I/O on the write path, such as a
	// sync that keeps failing past its retry ceiling.
	ErrLogFull = errors.New("rawlog: log full")

	// ErrClosed is returned for operations on a closed or corrupted log.
	ErrClosed = errors.New("rawlog: closed")

	// ErrReadOnly is returned when appending to a read-only log.
	ErrReadOnly = errors.New("rawlog: read-only")
)

// MarkCorruptionError marks given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError returns true if the given error indicates corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// AssertionFailedf creates an assertion error.
func AssertionFailedf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}
