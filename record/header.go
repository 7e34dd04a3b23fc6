// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
)

const (
	// FileFormatID identifies a log file. It is the first field of every
	// file header.
	FileFormatID uint32 = 0x726c6f67

	// FileHeaderSize is the size of the log file header. The first record of
	// a file starts at this offset.
	FileHeaderSize = 4 + 4 + 8 + 8
)

// FileHeader is the fixed size header at the start of each log file.
type FileHeader struct {
	// Version is the format major version the file was written with.
	Version uint32
	FileNum base.FileNum
	// PrevEnd is the end of the last record of the previous log file, or
	// base.InvalidLogInstant for the first file.
	PrevEnd base.LogInstant
}

// Encode returns the on-disk representation of the header.
func (h FileHeader) Encode() []byte {
	b := make([]byte, FileHeaderSize)
	p := PutInt(b, 0, int32(FileFormatID))
	p = PutInt(b, p, int32(h.Version))
	p = PutLong(b, p, int64(h.FileNum))
	PutLong(b, p, int64(h.PrevEnd))
	return b
}

// DecodeFileHeader decodes and validates a header.
func DecodeFileHeader(b []byte) (FileHeader, error) {
	if len(b) < FileHeaderSize {
		return FileHeader{}, base.CorruptionErrorf(
			"rawlog: log file header too short: %d bytes", errors.Safe(len(b)))
	}
	if id := uint32(getInt(b, 0)); id != FileFormatID {
		return FileHeader{}, base.CorruptionErrorf(
			"rawlog: bad log file format id %#x", errors.Safe(id))
	}
	fileNum := getLong(b, 8)
	if fileNum <= 0 || fileNum > base.MaxLogFileNumber {
		return FileHeader{}, base.CorruptionErrorf(
			"rawlog: bad log file number %d in header", errors.Safe(fileNum))
	}
	return FileHeader{
		Version: uint32(getInt(b, 4)),
		FileNum: base.FileNum(fileNum),
		PrevEnd: base.LogInstant(getLong(b, 16)),
	}, nil
}

// ReadFileHeader reads and decodes the header at the start of r.
func ReadFileHeader(r io.ReaderAt) (FileHeader, error) {
	var buf [FileHeaderSize]byte
	if n, err := r.ReadAt(buf[:], 0); n < FileHeaderSize {
		if err == nil || err == io.EOF {
			return FileHeader{}, base.CorruptionErrorf(
				"rawlog: log file header truncated at %d bytes", errors.Safe(n))
		}
		return FileHeader{}, errors.Wrap(err, "rawlog: reading log file header")
	}
	return DecodeFileHeader(buf[:])
}
