// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/vfs"
	"github.com/stretchr/testify/require"
)

const testFormatVersion = 2

func createLogFile(t *testing.T, fs vfs.FS, fileNum base.FileNum) vfs.File {
	f, err := fs.Create(base.MakeLogFilename(fileNum))
	require.NoError(t, err)
	_, err = f.Write(FileHeader{Version: testFormatVersion, FileNum: fileNum}.Encode())
	require.NoError(t, err)
	return f
}

// testAppender computes instants the way the log factory does: the checksum
// record reserved for a new group is accounted for before the record.
type testAppender struct {
	w       *LogWriter
	fileNum base.FileNum
	pos     int64
}

func newTestAppender(w *LogWriter, fileNum base.FileNum) *testAppender {
	return &testAppender{w: w, fileNum: fileNum, pos: FileHeaderSize}
}

func (a *testAppender) append(t *testing.T, data, optional []byte) base.LogInstant {
	instant, err := a.tryAppend(data, optional)
	require.NoError(t, err)
	return instant
}

func (a *testAppender) tryAppend(data, optional []byte) (base.LogInstant, error) {
	length := len(data) + len(optional)
	n, err := a.w.ReserveSpaceForChecksum(length, a.fileNum, a.pos)
	if err != nil {
		return base.InvalidLogInstant, err
	}
	a.pos += int64(n)
	instant := base.MakeLogInstant(a.fileNum, a.pos)
	if err := a.w.WriteLogRecord(instant, data, optional); err != nil {
		return base.InvalidLogInstant, err
	}
	a.pos += int64(RecordSize(length))
	return instant, nil
}

type readRecord struct {
	Kind    Kind
	Instant base.LogInstant
	Offset  int64
	Payload string
	Covered int32
}

func readFile(
	t *testing.T, fs vfs.FS, fileNum base.FileNum, opts ReaderOptions,
) ([]readRecord, *Reader, error) {
	f, err := fs.Open(base.MakeLogFilename(fileNum))
	require.NoError(t, err)
	defer f.Close()
	fi, err := f.Stat()
	require.NoError(t, err)
	h, err := ReadFileHeader(f)
	require.NoError(t, err)
	require.Equal(t, fileNum, h.FileNum)

	opts.FileNum = fileNum
	r := NewReader(f, fi.Size(), opts)
	var recs []readRecord
	for {
		rec, err := r.NextRecord()
		if err == io.EOF {
			return recs, r, nil
		} else if err != nil {
			return recs, r, err
		}
		recs = append(recs, readRecord{
			Kind:    rec.Kind,
			Instant: rec.Instant,
			Offset:  rec.Offset,
			Payload: string(rec.Payload),
			Covered: rec.Checksum.DataLength,
		})
	}
}

func fileContents(t *testing.T, fs vfs.FS, name string) []byte {
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return b
}

// xorCipher is a toy block cipher used to exercise encrypted checksum
// records.
type xorCipher struct {
	key byte
}

const xorBlockSize = 16

func (c xorCipher) EncryptedLength(n int) int {
	return (n + xorBlockSize - 1) / xorBlockSize * xorBlockSize
}

func (c xorCipher) Encrypt(dst, src []byte) error {
	if len(src)%xorBlockSize != 0 {
		return errors.Newf("unaligned length %d", len(src))
	}
	for i := range src {
		dst[i] = src[i] ^ c.key
	}
	return nil
}

func (c xorCipher) Decrypt(dst, src []byte) error {
	return c.Encrypt(dst, src)
}

// recordingSink keeps a copy of every write it observes.
type recordingSink struct {
	mu       sync.Mutex
	instants []base.LogInstant
	data     []byte
	failAt   int
	calls    int
}

func (s *recordingSink) AppendLog(highest base.LogInstant, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return errors.New("sink unavailable")
	}
	s.instants = append(s.instants, highest)
	s.data = append(s.data, p...)
	return nil
}

// writeRecordingFile records the size of every write and detects concurrent
// writers.
type writeRecordingFile struct {
	vfs.File
	mu         sync.Mutex
	writes     []int
	inFlight   int
	concurrent bool
}

func (f *writeRecordingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.concurrent = true
	}
	f.writes = append(f.writes, len(p))
	f.mu.Unlock()

	n, err := f.File.Write(p)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return n, err
}

// checkPool verifies that every buffer is in exactly one of the active, free
// and dirty states and that the active buffer's accounting adds up.
func checkPool(t *testing.T, w *LogWriter) {
	require.NoError(t, poolErr(w))
}

func poolErr(w *LogWriter) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[*logBuffer]bool)
	add := func(b *logBuffer) error {
		if seen[b] {
			return errors.New("buffer counted twice")
		}
		seen[b] = true
		return nil
	}
	if b := w.mu.active; b != nil {
		if err := add(b); err != nil {
			return err
		}
		if normalized := b.position - w.checksumRecordSize; b.bytesFree+normalized != b.length {
			return errors.Newf("free %d + position %d != length %d", b.bytesFree, normalized, b.length)
		}
	}
	for _, list := range [][]*logBuffer{w.mu.free, w.mu.dirty} {
		for _, b := range list {
			if err := add(b); err != nil {
				return err
			}
		}
	}
	if len(seen) != w.numBuffers {
		return errors.Newf("%d buffers accounted for, expected %d", len(seen), w.numBuffers)
	}
	return nil
}
