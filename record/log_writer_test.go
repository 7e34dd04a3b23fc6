// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/internal/crc"
	"github.com/rawstore/rawlog/internal/invariants"
	"github.com/rawstore/rawlog/vfs"
	"github.com/rawstore/rawlog/vfs/errorfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSimpleAppendFlush(t *testing.T) {
	mem := vfs.NewMem()
	f, err := mem.Create("log")
	require.NoError(t, err)
	w := NewLogWriter(f, LogWriterConfig{BufferSize: 1024, Checksums: true})
	require.Equal(t, 29, w.ChecksumRecordSize())

	n, err := w.ReserveSpaceForChecksum(4, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 29, n)
	require.NoError(t, w.WriteLogRecord(100, []byte("ABCD"), nil))
	require.NoError(t, w.Flush())

	framed := []byte{0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 100, 'A', 'B', 'C', 'D', 0, 0, 0, 4}
	b := fileContents(t, mem, "log")
	require.Equal(t, 29+len(framed), len(b))

	// Checksum record.
	require.Equal(t, uint32(13), binary.BigEndian.Uint32(b[0:]))
	require.Equal(t, uint64(base.MakeLogInstant(1, 0)), binary.BigEndian.Uint64(b[4:]))
	require.Equal(t, ChecksumAlgorithmCRC32, b[12])
	require.Equal(t, uint32(20), binary.BigEndian.Uint32(b[13:]))
	require.Equal(t, uint64(crc.New(framed).Value()), binary.BigEndian.Uint64(b[17:]))
	require.Equal(t, uint32(13), binary.BigEndian.Uint32(b[25:]))
	// The record itself.
	require.Equal(t, framed, b[29:])

	require.NoError(t, w.Close())
}

func TestBufferExhaustionFlushes(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	w := NewLogWriter(f, LogWriterConfig{BufferSize: 128, NumBuffers: 2, Checksums: true})
	a := newTestAppender(w, 1)

	size := func() int64 {
		fi, err := mem.Stat(base.MakeLogFilename(1))
		require.NoError(t, err)
		return fi.Size()
	}

	// 29 bytes of checksum record and four 20 byte records fill 109 of the 128
	// bytes of a buffer.
	var payloads []string
	for i := 0; i < 8; i++ {
		p := fmt.Sprintf("r%03d", i)
		payloads = append(payloads, p)
		a.append(t, []byte(p), nil)
		checkPool(t, w)
		require.Equal(t, int64(FileHeaderSize), size())
	}
	// Both buffers hold data: the next record needs a fresh buffer and none is
	// free, so the switch drains the dirty buffers before the append goes on.
	payloads = append(payloads, "r008")
	a.append(t, []byte("r008"), nil)
	checkPool(t, w)
	require.Equal(t, int64(FileHeaderSize+2*109), size())

	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	recs, _, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	var got []string
	for _, r := range recs {
		if r.Kind == KindData {
			got = append(got, r.Payload)
		}
	}
	require.Equal(t, payloads, got)
}

func TestOversizedRecord(t *testing.T) {
	mem := vfs.NewMem()
	rf := &writeRecordingFile{File: createLogFile(t, mem, 1)}
	w := NewLogWriter(rf, LogWriterConfig{BufferSize: 128, Checksums: true})
	a := newTestAppender(w, 1)

	a.append(t, []byte("aaaa"), nil)
	a.append(t, []byte("bbbb"), nil)
	big := bytes.Repeat([]byte("x"), 150)
	bigInstant := a.append(t, big[:100], big[100:])
	a.append(t, []byte("cccc"), nil)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// The buffered records are written before the oversized record, which is
	// written on its own with its checksum record.
	require.Equal(t, []int{29 + 2*20, 29 + 166, 29 + 20}, rf.writes)
	require.Equal(t, int64(1), w.Metrics().DirectWrites)

	recs, r, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	require.False(t, r.SawEndMarker())

	var kinds []Kind
	for _, rec := range recs {
		kinds = append(kinds, rec.Kind)
	}
	require.Equal(t, []Kind{
		KindChecksum, KindData, KindData,
		KindChecksum, KindData,
		KindChecksum, KindData,
	}, kinds, pretty.Sprint(recs))
	require.Equal(t, bigInstant, recs[4].Instant)
	require.Equal(t, string(big), recs[4].Payload)
	require.Equal(t, int32(166), recs[3].Covered)
	require.Equal(t, "cccc", recs[6].Payload)
}

func TestChecksumTamperDetected(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	w := NewLogWriter(f, LogWriterConfig{BufferSize: 1024, Checksums: true})
	a := newTestAppender(w, 1)
	a.append(t, []byte("first"), nil)
	require.NoError(t, w.Flush())
	a.append(t, []byte("second"), nil)
	a.append(t, []byte("third"), nil)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	recs, r, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	firstGroupEnd := recs[2].Offset
	require.Equal(t, a.pos, r.KnownGoodEnd())

	// Flip a byte in the payload of "third".
	rw, err := mem.OpenReadWrite(base.MakeLogFilename(1))
	require.NoError(t, err)
	_, err = rw.Seek(recs[4].Offset+RecordHeaderSize, 0)
	require.NoError(t, err)
	_, err = rw.Write([]byte("T"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	recs, r, err = readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.True(t, base.IsCorruptionError(err), "%v", err)
	require.Len(t, recs, 2)
	require.Equal(t, "first", recs[1].Payload)
	require.Equal(t, firstGroupEnd, r.KnownGoodEnd())
}

func TestTornWriteDetected(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	w := NewLogWriter(f, LogWriterConfig{BufferSize: 1024, Checksums: true})
	a := newTestAppender(w, 1)
	a.append(t, []byte("durable"), nil)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Sync())
	goodEnd := a.pos
	a.append(t, []byte("torn"), nil)
	require.NoError(t, w.Flush())

	// Lose the tail of the second group as a crash mid-write would.
	rw, err := mem.OpenReadWrite(base.MakeLogFilename(1))
	require.NoError(t, err)
	require.NoError(t, rw.Truncate(a.pos-3))
	require.NoError(t, rw.Close())

	recs, r, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.True(t, base.IsCorruptionError(err), "%v", err)
	require.Len(t, recs, 2)
	require.Equal(t, goodEnd, r.KnownGoodEnd())
}

func TestEncryptedChecksumRecords(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	cipher := xorCipher{key: 0x5a}
	w := NewLogWriter(f, LogWriterConfig{BufferSize: 256, Checksums: true, Cipher: cipher})
	require.Equal(t, 16+RecordOverhead, w.ChecksumRecordSize())

	a := newTestAppender(w, 1)
	a.append(t, []byte("hello"), []byte("world"))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	b := fileContents(t, mem, base.MakeLogFilename(1))
	// The algorithm id is stored encrypted.
	require.Equal(t, ChecksumAlgorithmCRC32^0x5a, b[FileHeaderSize+RecordHeaderSize])

	recs, _, err := readFile(t, mem, 1, ReaderOptions{Checksums: true, Cipher: cipher})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "helloworld", recs[1].Payload)

	_, _, err = readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.True(t, base.IsCorruptionError(err))
}

func TestChecksumsDisabled(t *testing.T) {
	for _, cfg := range []LogWriterConfig{
		{Checksums: false},
		{Checksums: true, Replication: ReplicationSlave{}},
	} {
		t.Run(ReplicationRole(cfg.Replication), func(t *testing.T) {
			mem := vfs.NewMem()
			f := createLogFile(t, mem, 1)
			w := NewLogWriter(f, cfg)
			require.Equal(t, 0, w.ChecksumRecordSize())
			a := newTestAppender(w, 1)
			i1 := a.append(t, []byte("one"), nil)
			i2 := a.append(t, []byte("two"), nil)
			require.Equal(t, base.MakeLogInstant(1, FileHeaderSize), i1)
			require.Equal(t, base.MakeLogInstant(1, FileHeaderSize+19), i2)
			require.NoError(t, w.Flush())
			require.NoError(t, w.Close())

			recs, _, err := readFile(t, mem, 1, ReaderOptions{})
			require.NoError(t, err)
			require.Equal(t, []readRecord{
				{Kind: KindData, Instant: i1, Offset: FileHeaderSize, Payload: "one"},
				{Kind: KindData, Instant: i2, Offset: FileHeaderSize + 19, Payload: "two"},
			}, recs)
		})
	}
}

func TestWritePrimitives(t *testing.T) {
	mem := vfs.NewMem()
	f, err := mem.Create("log")
	require.NoError(t, err)
	w := NewLogWriter(f, LogWriterConfig{BufferSize: MinBufferSize})
	require.NoError(t, w.WriteInt(7))
	require.NoError(t, w.WriteLong(-1))
	require.NoError(t, w.Write([]byte("xyz")))
	checkPool(t, w)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	require.Equal(t, []byte{
		0, 0, 0, 7,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		'x', 'y', 'z',
	}, fileContents(t, mem, "log"))
}

func TestEndMarker(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	w := NewLogWriter(f, LogWriterConfig{Checksums: true})
	a := newTestAppender(w, 1)
	a.append(t, []byte("last"), nil)
	require.NoError(t, w.WriteEndMarker(EndMarker))
	require.NoError(t, w.Close())

	b := fileContents(t, mem, base.MakeLogFilename(1))
	require.Equal(t, int(a.pos)+4, len(b))
	require.Equal(t, []byte{0, 0, 0, 0}, b[len(b)-4:])

	recs, r, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.True(t, r.SawEndMarker())
	require.Equal(t, a.pos, r.KnownGoodEnd())
}

func TestConcurrentFlushes(t *testing.T) {
	mem := vfs.NewMem()
	rf := &writeRecordingFile{File: createLogFile(t, mem, 1)}
	w := NewLogWriter(rf, LogWriterConfig{BufferSize: MinBufferSize, Checksums: true})
	a := newTestAppender(w, 1)

	const appenders = 4
	const perAppender = 500
	var appendMu sync.Mutex
	var g errgroup.Group
	done := make(chan struct{})
	for i := 0; i < appenders; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < perAppender; j++ {
				p := []byte(fmt.Sprintf("%d/%04d", i, j))
				appendMu.Lock()
				_, err := a.tryAppend(p, nil)
				appendMu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	var flushers sync.WaitGroup
	for i := 0; i < 3; i++ {
		flushers.Add(1)
		go func() {
			defer flushers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				appendMu.Lock()
				err := w.SwitchBuffer()
				appendMu.Unlock()
				if err == nil {
					err = w.FlushDirtyBuffers()
				}
				if err == nil {
					err = poolErr(w)
				}
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	require.NoError(t, g.Wait())
	close(done)
	flushers.Wait()
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.False(t, rf.concurrent)
	checkPool(t, w)

	recs, _, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	next := make([]int, appenders)
	count := 0
	for _, r := range recs {
		if r.Kind != KindData {
			continue
		}
		var i, j int
		_, err := fmt.Sscanf(r.Payload, "%d/%d", &i, &j)
		require.NoError(t, err)
		require.Equal(t, next[i], j)
		next[i]++
		count++
	}
	require.Equal(t, appenders*perAppender, count)
}

func TestSyncRetry(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		inj := errorfs.FirstN(3, errorfs.Ops(errorfs.Always(), errorfs.OpFileSync))
		fs := errorfs.Wrap(vfs.NewMem(), inj)
		f := createLogFile(t, fs, 1)
		hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "fsync"})
		logger := &base.InMemLogger{}
		w := NewLogWriter(f, LogWriterConfig{
			SyncRetry:    SyncRetryPolicy{MaxRetries: 5, Delay: time.Millisecond},
			FsyncLatency: hist,
			Logger:       logger,
		})
		require.NoError(t, w.Sync())
		require.Equal(t, int32(3), inj.Injected())
		m := w.Metrics()
		require.Equal(t, int64(3), m.SyncRetries)
		require.Equal(t, int64(1), m.Syncs)
		require.Contains(t, logger.String(), "sync attempt 3 failed")

		var pm prometheusgo.Metric
		require.NoError(t, hist.Write(&pm))
		require.Equal(t, uint64(4), pm.GetHistogram().GetSampleCount())
		require.NoError(t, w.Close())
	})

	t.Run("gives-up", func(t *testing.T) {
		inj := errorfs.FirstN(100, errorfs.Ops(errorfs.Always(), errorfs.OpFileSync))
		fs := errorfs.Wrap(vfs.NewMem(), inj)
		f := createLogFile(t, fs, 1)
		w := NewLogWriter(f, LogWriterConfig{
			SyncRetry: SyncRetryPolicy{MaxRetries: 2, Delay: time.Millisecond},
			Logger:    &base.InMemLogger{},
		})
		err := w.Sync()
		require.True(t, errors.Is(err, base.ErrLogFull), "%v", err)
		require.True(t, errors.Is(err, errorfs.ErrInjected))
		require.Equal(t, int32(3), inj.Injected())
		require.NoError(t, w.Close())
	})
}

func TestWriteErrorIsSticky(t *testing.T) {
	toggle := &errorfs.Toggle{Injector: errorfs.Ops(errorfs.Always(), errorfs.OpFileWrite)}
	fs := errorfs.Wrap(vfs.NewMem(), toggle)
	f := createLogFile(t, fs, 1)
	w := NewLogWriter(f, LogWriterConfig{Checksums: true})
	a := newTestAppender(w, 1)
	a.append(t, []byte("lost"), nil)

	toggle.On()
	err := w.Flush()
	require.True(t, errors.Is(err, base.ErrLogFull), "%v", err)
	toggle.Off()

	_, err = a.tryAppend([]byte("more"), nil)
	require.True(t, errors.Is(err, base.ErrLogFull))
	require.True(t, errors.Is(w.Flush(), base.ErrLogFull))
	checkPool(t, w)
	require.NoError(t, w.Corrupt())
}

func TestReplicationTap(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	sink := &recordingSink{}
	w := NewLogWriter(f, LogWriterConfig{
		BufferSize:  128,
		Checksums:   true,
		Replication: ReplicationMaster{Sink: sink},
	})
	a := newTestAppender(w, 1)
	var last base.LogInstant
	for i := 0; i < 10; i++ {
		last = a.append(t, []byte(fmt.Sprintf("rec%02d", i)), nil)
	}
	require.NoError(t, w.WriteEndMarker(EndMarker))
	require.NoError(t, w.Close())

	// The sink sees exactly the bytes of the file after its header, in order.
	b := fileContents(t, mem, base.MakeLogFilename(1))
	require.Equal(t, b[FileHeaderSize:], sink.data)
	require.Equal(t, base.InvalidLogInstant, sink.instants[len(sink.instants)-1])
	require.Equal(t, last, sink.instants[len(sink.instants)-2])
	for i := 1; i < len(sink.instants)-1; i++ {
		require.Less(t, uint64(sink.instants[i-1]), uint64(sink.instants[i]))
	}
}

func TestReplicationSinkFailure(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	sink := &recordingSink{failAt: 2}
	logger := &base.InMemLogger{}
	w := NewLogWriter(f, LogWriterConfig{
		Checksums:   true,
		Replication: ReplicationMaster{Sink: sink},
		Logger:      logger,
	})
	a := newTestAppender(w, 1)
	for i := 0; i < 3; i++ {
		a.append(t, []byte("x"), nil)
		require.NoError(t, w.Flush())
	}
	require.False(t, w.Replicating())
	require.Equal(t, int64(1), w.Metrics().ReplicationErrors)
	require.Contains(t, logger.String(), "replication stopped")
	require.Len(t, sink.instants, 1)
	require.Equal(t, 2, sink.calls)
	require.NoError(t, w.Close())

	recs, _, err := readFile(t, mem, 1, ReaderOptions{Checksums: true})
	require.NoError(t, err)
	require.Len(t, recs, 6)
}

func TestStopReplication(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	sink := &recordingSink{}
	w := NewLogWriter(f, LogWriterConfig{Replication: ReplicationMaster{Sink: sink}})
	a := newTestAppender(w, 1)
	a.append(t, []byte("x"), nil)
	require.NoError(t, w.Flush())
	w.StopReplication()
	a.append(t, []byte("y"), nil)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.Len(t, sink.instants, 1)
	require.Equal(t, int64(0), w.Metrics().ReplicationErrors)
}

func TestCorrupt(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	w := NewLogWriter(f, LogWriterConfig{Checksums: true})
	a := newTestAppender(w, 1)
	a.append(t, []byte("never written"), nil)
	require.NoError(t, w.Corrupt())

	require.Len(t, fileContents(t, mem, base.MakeLogFilename(1)), FileHeaderSize)
	_, err := a.tryAppend([]byte("x"), nil)
	require.True(t, errors.Is(err, base.ErrClosed))
	require.True(t, errors.Is(w.Sync(), base.ErrClosed))
	require.NoError(t, w.Corrupt())
	require.NoError(t, w.Close())
}

func TestDoubleChecksumReservation(t *testing.T) {
	mem := vfs.NewMem()
	f := createLogFile(t, mem, 1)
	logger := &base.InMemLogger{}
	w := NewLogWriter(f, LogWriterConfig{Checksums: true, Logger: logger})
	_, err := w.ReserveSpaceForChecksum(4, 1, FileHeaderSize)
	require.NoError(t, err)
	reserveAgain := func() {
		_, _ = w.ReserveSpaceForChecksum(4, 1, FileHeaderSize)
	}
	if invariants.Enabled {
		require.Panics(t, reserveAgain)
	} else {
		reserveAgain()
		require.True(t, strings.Contains(logger.String(), "reserved twice"), logger.String())
	}
}

func TestMetricsMerge(t *testing.T) {
	m := LogWriterMetrics{Writes: 1, BytesWritten: 10, Syncs: 2}
	m.Merge(&LogWriterMetrics{Writes: 2, BytesWritten: 5, SyncRetries: 1, ReplicationErrors: 3})
	require.Equal(t, LogWriterMetrics{
		Writes: 3, BytesWritten: 15, Syncs: 2, SyncRetries: 1, ReplicationErrors: 3,
	}, m)
}
