// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import "github.com/rawstore/rawlog/internal/base"

// LogInstant exports the base.LogInstant type.
type LogInstant = base.LogInstant

// FileNum exports the base.FileNum type.
type FileNum = base.FileNum

// InvalidLogInstant exports the base.InvalidLogInstant constant.
const InvalidLogInstant = base.InvalidLogInstant

// MakeLogInstant exports the base.MakeLogInstant function.
func MakeLogInstant(fileNum FileNum, pos int64) LogInstant {
	return base.MakeLogInstant(fileNum, pos)
}

// Logger exports the base.Logger type.
type Logger = base.Logger

// DefaultLogger exports the base.DefaultLogger type.
type DefaultLogger = base.DefaultLogger

// Errors returned by Log operations. Test for them with errors.Is.
var (
	ErrCorruption = base.ErrCorruption
	ErrLogFull    = base.ErrLogFull
	ErrClosed     = base.ErrClosed
	ErrReadOnly   = base.ErrReadOnly
)

// IsCorruptionError exports the base.IsCorruptionError function.
func IsCorruptionError(err error) bool {
	return base.IsCorruptionError(err)
}
