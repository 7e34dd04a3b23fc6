// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
)

// Kind distinguishes the records returned by Reader.NextRecord.
type Kind int8

const (
	// KindData is an ordinary record.
	KindData Kind = iota
	// KindChecksum is a checksum record preceding a group of records.
	KindChecksum
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindChecksum:
		return "checksum"
	default:
		return "unknown"
	}
}

// Record is a record read from a log file.
type Record struct {
	Kind    Kind
	Instant base.LogInstant
	// Offset is the position of the record in the file.
	Offset int64
	// Payload aliases the Reader's buffer and is only valid until the next
	// call to the Reader.
	Payload []byte
	// Checksum is set for KindChecksum records.
	Checksum ChecksumRecord
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// Checksums indicates that the file is organized as checksum groups.
	Checksums bool
	// Cipher decrypts checksum record payloads.
	Cipher Cipher
	// FileNum, if non-zero, is the number of the file being read. Each
	// record's instant must then address its own position in the file.
	FileNum base.FileNum
	// Start is the offset of the first record. Defaults to FileHeaderSize.
	Start int64
}

// Reader reads the records of a log file.
//
// Reading stops at the end marker or the end of the file with io.EOF. Data
// that cannot be trusted (a torn or corrupt write) stops reading with an
// error marked base.ErrCorruption; KnownGoodEnd then returns the offset
// following the last record that was verified, where the log can be
// truncated.
type Reader struct {
	r    io.ReaderAt
	size int64
	opts ReaderOptions

	offset       int64
	knownGoodEnd int64
	// groupEnd is the end of the current verified checksum group, or zero
	// when the next record must be a checksum record.
	groupEnd    int64
	lastInstant base.LogInstant
	sawEnd      bool
	err         error

	buf      []byte
	checksum Checksum
}

// NewReader returns a Reader for the first size bytes of r.
func NewReader(r io.ReaderAt, size int64, opts ReaderOptions) *Reader {
	if opts.Start == 0 {
		opts.Start = FileHeaderSize
	}
	return &Reader{
		r:            r,
		size:         size,
		opts:         opts,
		offset:       opts.Start,
		knownGoodEnd: opts.Start,
	}
}

// KnownGoodEnd returns the offset following the last record read that is
// known to have been completely written.
func (r *Reader) KnownGoodEnd() int64 {
	return r.knownGoodEnd
}

// SawEndMarker returns true if reading stopped at an end marker.
func (r *Reader) SawEndMarker() bool {
	return r.sawEnd
}

// LastInstant returns the instant of the last data record read.
func (r *Reader) LastInstant() base.LogInstant {
	return r.lastInstant
}

// Next returns the instant and payload of the next data record, skipping
// checksum records. The payload is only valid until the next call.
func (r *Reader) Next() (base.LogInstant, []byte, error) {
	for {
		rec, err := r.NextRecord()
		if err != nil {
			return base.InvalidLogInstant, nil, err
		}
		if rec.Kind == KindData {
			return rec.Instant, rec.Payload, nil
		}
	}
}

func (r *Reader) corruptf(format string, args ...interface{}) error {
	err := base.CorruptionErrorf(format, args...)
	r.err = errors.Wrapf(err, "rawlog: known good end %d", errors.Safe(r.knownGoodEnd))
	return r.err
}

func (r *Reader) readAt(n int, off int64) ([]byte, error) {
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	b := r.buf[:n]
	if m, err := r.r.ReadAt(b, off); m < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "rawlog: reading log file")
	}
	return b, nil
}

// NextRecord returns the next record, including checksum records.
func (r *Reader) NextRecord() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	pos := r.offset
	if pos == r.size {
		r.err = io.EOF
		return Record{}, io.EOF
	}
	if pos+4 > r.size {
		return Record{}, r.corruptf("rawlog: partial record length at offset %d", errors.Safe(pos))
	}
	lb, err := r.readAt(4, pos)
	if err != nil {
		r.err = err
		return Record{}, err
	}
	length := getInt(lb, 0)
	if length == EndMarker {
		r.sawEnd = true
		r.err = io.EOF
		return Record{}, io.EOF
	}
	if length < 0 {
		return Record{}, r.corruptf("rawlog: negative record length %d at offset %d",
			errors.Safe(length), errors.Safe(pos))
	}
	end := pos + int64(RecordSize(int(length)))
	if end > r.size {
		return Record{}, r.corruptf("rawlog: record at offset %d of length %d extends past end of file",
			errors.Safe(pos), errors.Safe(length))
	}
	if r.opts.Checksums && r.groupEnd != 0 && end > r.groupEnd {
		return Record{}, r.corruptf("rawlog: record at offset %d extends past its checksum group",
			errors.Safe(pos))
	}

	b, err := r.readAt(int(end-pos), pos)
	if err != nil {
		r.err = err
		return Record{}, err
	}
	if trailer := getInt(b, len(b)-RecordTrailerSize); trailer != length {
		return Record{}, r.corruptf("rawlog: record at offset %d has length %d but trailing length %d",
			errors.Safe(pos), errors.Safe(length), errors.Safe(trailer))
	}
	instant := base.LogInstant(getLong(b, 4))
	if r.opts.FileNum != 0 && instant != base.MakeLogInstant(r.opts.FileNum, pos) {
		return Record{}, r.corruptf("rawlog: record at offset %d has instant %s",
			errors.Safe(pos), instant)
	}
	payload := b[RecordHeaderSize : len(b)-RecordTrailerSize]

	if r.opts.Checksums && r.groupEnd == 0 {
		return r.readChecksumGroup(pos, end, instant, payload)
	}

	if instant <= r.lastInstant {
		return Record{}, r.corruptf("rawlog: record at offset %d has instant %s not after %s",
			errors.Safe(pos), instant, r.lastInstant)
	}
	r.lastInstant = instant
	r.offset = end
	r.knownGoodEnd = end
	if end == r.groupEnd {
		r.groupEnd = 0
	}
	return Record{Kind: KindData, Instant: instant, Offset: pos, Payload: payload}, nil
}

// readChecksumGroup decodes the checksum record at pos and verifies the group
// of records it covers.
func (r *Reader) readChecksumGroup(
	pos, end int64, instant base.LogInstant, payload []byte,
) (Record, error) {
	if instant <= r.lastInstant {
		return Record{}, r.corruptf("rawlog: checksum record at offset %d has instant %s not after %s",
			errors.Safe(pos), instant, r.lastInstant)
	}
	if r.opts.Cipher != nil {
		if err := r.opts.Cipher.Decrypt(payload, payload); err != nil {
			return Record{}, r.corruptf("rawlog: decrypting checksum record at offset %d: %v",
				errors.Safe(pos), err)
		}
	}
	c, err := decodeChecksumRecord(payload)
	if err != nil {
		return Record{}, r.corruptf("rawlog: checksum record at offset %d: %v", errors.Safe(pos), err)
	}
	if c.DataLength == 0 {
		return Record{}, r.corruptf("rawlog: empty checksum group at offset %d", errors.Safe(pos))
	}
	groupEnd := end + int64(c.DataLength)
	if groupEnd > r.size {
		return Record{}, r.corruptf("rawlog: checksum group at offset %d of %d bytes extends past end of file",
			errors.Safe(pos), errors.Safe(c.DataLength))
	}
	// The payload aliases r.buf, which is reused to read the group.
	rec := Record{Kind: KindChecksum, Instant: instant, Offset: pos, Checksum: c}
	group, err := r.readAt(int(c.DataLength), end)
	if err != nil {
		r.err = err
		return Record{}, err
	}
	if !r.checksum.Verify(group, c.Value) {
		return Record{}, r.corruptf("rawlog: checksum mismatch for group at offset %d", errors.Safe(pos))
	}
	r.groupEnd = groupEnd
	r.offset = end
	r.knownGoodEnd = end
	return rec, nil
}
