// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types shared by the log packages: log
// instants, log file numbers and names, the Logger interface and the error
// markers used to classify failures on the write and recovery paths.
//
// # Log instants
//
// A [LogInstant] is the durable address of a log record. The high 32 bits hold
// the log file number and the low 32 bits hold the byte offset of the record
// within that file. Instants compare as plain integers, so an instant in a
// later file is always greater than any instant in an earlier one.
package base
