// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record reads and writes the framed records of a log file.
//
// A log file starts with a fixed size header (see FileHeader) and is followed
// by a sequence of records. Every record has the layout below, with all
// integers big-endian:
//
//	+----------+-------------+--------------------------+----------+
//	| len (4B) | instant (8B)| data + optional (len B)  | len (4B) |
//	+----------+-------------+--------------------------+----------+
//
// The length is repeated after the payload so that a record can be validated
// (and the log scanned) from either end. A record therefore occupies len+16
// bytes on disk.
//
// When checksums are enabled, records are written in groups. Each group is
// preceded by a checksum record whose payload holds the algorithm id, the
// number of bytes the group covers and the checksum of those bytes:
//
//	+----------+-------------+-----------+---------------+-------------+----------+
//	| len (4B) | instant (8B)| algo (1B) | covered (4B)  | value (8B)  | len (4B) |
//	+----------+-------------+-----------+---------------+-------------+----------+
//
// A group is exactly the content of one log buffer, or a single record too
// large for any buffer. Recovery verifies a group before trusting any record
// in it, which detects writes torn by a crash.
//
// A length of zero where a record is expected is the end marker, written when
// a log file is cleanly switched or closed.
package record

import (
	"encoding/binary"

	"github.com/rawstore/rawlog/internal/base"
)

const (
	// RecordHeaderSize is the size of the leading length and instant.
	RecordHeaderSize = 4 + 8
	// RecordTrailerSize is the size of the trailing length.
	RecordTrailerSize = 4
	// RecordOverhead is the number of bytes a record occupies on disk in
	// addition to its payload.
	RecordOverhead = RecordHeaderSize + RecordTrailerSize

	// EndMarker is the length value that terminates a log file.
	EndMarker int32 = 0
)

// RecordSize returns the on-disk size of a record with the given payload
// length.
func RecordSize(payloadLen int) int {
	return payloadLen + RecordOverhead
}

// PutInt writes v big-endian into b at position p and returns the position
// following it.
func PutInt(b []byte, p int, v int32) int {
	binary.BigEndian.PutUint32(b[p:], uint32(v))
	return p + 4
}

// PutLong writes v big-endian into b at position p and returns the position
// following it.
func PutLong(b []byte, p int, v int64) int {
	binary.BigEndian.PutUint64(b[p:], uint64(v))
	return p + 8
}

// Put copies data into b at position p and returns the position following
// it.
func Put(b []byte, p int, data []byte) int {
	return p + copy(b[p:], data)
}

// appendLogRecord frames a record into buf starting at pos and returns the
// position following the record. buf must have room for
// RecordSize(len(data)+len(optional)) bytes.
func appendLogRecord(
	buf []byte, pos int, instant base.LogInstant, data, optional []byte,
) int {
	length := int32(len(data) + len(optional))
	p := PutInt(buf, pos, length)
	p = PutLong(buf, p, int64(instant))
	p = Put(buf, p, data)
	p = Put(buf, p, optional)
	return PutInt(buf, p, length)
}

func getInt(b []byte, p int) int32 {
	return int32(binary.BigEndian.Uint32(b[p:]))
}

func getLong(b []byte, p int) int64 {
	return int64(binary.BigEndian.Uint64(b[p:]))
}

// DecodeRecord decodes the framed record at the start of b. It returns the
// record's instant and payload, which aliases b, and the number of bytes the
// record occupies. An end marker decodes to base.InvalidLogInstant with a
// nil payload and occupies 4 bytes.
func DecodeRecord(b []byte) (base.LogInstant, []byte, int, error) {
	if len(b) < 4 {
		return base.InvalidLogInstant, nil, 0, base.CorruptionErrorf(
			"rawlog: partial record length in %d bytes", len(b))
	}
	length := getInt(b, 0)
	if length == EndMarker {
		return base.InvalidLogInstant, nil, 4, nil
	}
	if length < 0 {
		return base.InvalidLogInstant, nil, 0, base.CorruptionErrorf(
			"rawlog: negative record length %d", length)
	}
	n := RecordSize(int(length))
	if len(b) < n {
		return base.InvalidLogInstant, nil, 0, base.CorruptionErrorf(
			"rawlog: record of length %d truncated to %d bytes", length, len(b))
	}
	if trailer := getInt(b, n-RecordTrailerSize); trailer != length {
		return base.InvalidLogInstant, nil, 0, base.CorruptionErrorf(
			"rawlog: record has length %d but trailing length %d", length, trailer)
	}
	return base.LogInstant(getLong(b, 4)), b[RecordHeaderSize : n-RecordTrailerSize], n, nil
}
