// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/internal/crc"
)

// ChecksumAlgorithmCRC32 identifies the CRC-32 (Castagnoli) algorithm. Other
// algorithm ids are reserved.
const ChecksumAlgorithmCRC32 byte = 0x1

// checksumPayloadSize is the unencrypted size of a checksum record's payload:
// the algorithm id, the covered length and the checksum value.
const checksumPayloadSize = 1 + 4 + 8

// Checksum accumulates a checksum over a sequence of byte ranges. The zero
// value is ready to use. A Checksum is reused across flushes by calling Reset.
type Checksum struct {
	crc crc.CRC
	n   int
}

// Reset clears the accumulated state.
func (c *Checksum) Reset() {
	*c = Checksum{}
}

// Update folds p into the checksum.
func (c *Checksum) Update(p []byte) {
	c.crc = c.crc.Update(p)
	c.n += len(p)
}

// Value returns the checksum of the bytes folded in since the last Reset.
func (c *Checksum) Value() uint64 {
	return uint64(c.crc.Value())
}

// Len returns the number of bytes folded in since the last Reset.
func (c *Checksum) Len() int {
	return c.n
}

// Verify resets the checksum, folds in p and reports whether the result
// equals expected.
func (c *Checksum) Verify(p []byte, expected uint64) bool {
	c.Reset()
	c.Update(p)
	return c.Value() == expected
}

// ChecksumRecord is the decoded payload of a checksum record.
type ChecksumRecord struct {
	Algorithm byte
	// DataLength is the number of bytes following the checksum record that
	// the checksum covers.
	DataLength int32
	Value      uint64
}

func (c ChecksumRecord) encode(b []byte) {
	b[0] = c.Algorithm
	p := PutInt(b, 1, c.DataLength)
	PutLong(b, p, int64(c.Value))
}

// decodeChecksumRecord decodes a checksum record payload. Trailing bytes left
// by block cipher padding are ignored.
func decodeChecksumRecord(b []byte) (ChecksumRecord, error) {
	if len(b) < checksumPayloadSize {
		return ChecksumRecord{}, base.CorruptionErrorf(
			"rawlog: checksum record payload too short: %d bytes", errors.Safe(len(b)))
	}
	c := ChecksumRecord{
		Algorithm:  b[0],
		DataLength: getInt(b, 1),
		Value:      uint64(getLong(b, 5)),
	}
	if c.Algorithm != ChecksumAlgorithmCRC32 {
		return ChecksumRecord{}, base.CorruptionErrorf(
			"rawlog: unsupported checksum algorithm %d", errors.Safe(c.Algorithm))
	}
	if c.DataLength < 0 {
		return ChecksumRecord{}, base.CorruptionErrorf(
			"rawlog: negative checksum data length %d", errors.Safe(c.DataLength))
	}
	return c, nil
}

// Cipher encrypts the payload of checksum records for encrypted stores.
// Encrypt and Decrypt operate on whole blocks and may be called with dst and
// src aliasing the same slice.
type Cipher interface {
	// EncryptedLength returns the size of n bytes once encrypted.
	EncryptedLength(n int) int
	Encrypt(dst, src []byte) error
	Decrypt(dst, src []byte) error
}

// checksumLength returns the stored payload length of a checksum record.
func checksumLength(c Cipher) int {
	if c == nil {
		return checksumPayloadSize
	}
	return c.EncryptedLength(checksumPayloadSize)
}

// ChecksumRecordSize returns the on-disk size of a checksum record.
func ChecksumRecordSize(c Cipher) int {
	return RecordSize(checksumLength(c))
}
