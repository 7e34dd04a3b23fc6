// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/internal/invariants"
	"github.com/rawstore/rawlog/vfs"
)

const (
	// DefaultBufferSize is the default size of each log buffer.
	DefaultBufferSize = 32 << 10
	// MinBufferSize is the smallest permitted log buffer size.
	MinBufferSize = 8 << 10
	// DefaultNumBuffers is the default number of log buffers.
	DefaultNumBuffers = 3

	// DefaultSyncRetries is the default number of times a failed sync is
	// retried before the failure is surfaced.
	DefaultSyncRetries = 20
	// DefaultSyncRetryDelay is the default pause between sync attempts.
	DefaultSyncRetryDelay = 200 * time.Millisecond
)

// errClosedWriter is the sticky error of a closed LogWriter.
var errClosedWriter = errors.Mark(errors.New("rawlog: closed LogWriter"), base.ErrClosed)

// SyncRetryPolicy bounds the retries of a failed sync.
type SyncRetryPolicy struct {
	// MaxRetries is the number of times a failed sync is retried. A sync is
	// attempted at most MaxRetries+1 times.
	MaxRetries int
	// Delay is the pause between two attempts.
	Delay time.Duration
}

// LogWriterConfig is a struct used for configuring new LogWriters.
type LogWriterConfig struct {
	// BufferSize is the size of each log buffer. Defaults to
	// DefaultBufferSize.
	BufferSize int
	// NumBuffers is the number of log buffers. Defaults to
	// DefaultNumBuffers. Must be at least 2.
	NumBuffers int
	// Checksums enables checksum records. It is ignored in the replication
	// slave role.
	Checksums bool
	// Cipher, if set, encrypts checksum record payloads.
	Cipher Cipher
	// Replication selects the replication role. Nil is ReplicationDisabled.
	Replication Replication
	// SyncRetry bounds the retries of failed syncs. The zero value uses
	// DefaultSyncRetries and DefaultSyncRetryDelay.
	SyncRetry SyncRetryPolicy
	// FsyncLatency, if set, records the latency of each sync attempt in
	// nanoseconds.
	FsyncLatency prometheus.Histogram
	Logger       base.Logger
}

func (c *LogWriterConfig) ensureDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.NumBuffers < 2 {
		c.NumBuffers = DefaultNumBuffers
	}
	if c.Replication == nil {
		c.Replication = ReplicationDisabled{}
	}
	if c.SyncRetry == (SyncRetryPolicy{}) {
		c.SyncRetry = SyncRetryPolicy{MaxRetries: DefaultSyncRetries, Delay: DefaultSyncRetryDelay}
	}
	if c.Logger == nil {
		c.Logger = base.DefaultLogger{}
	}
	if _, ok := c.Replication.(ReplicationSlave); ok {
		c.Checksums = false
	}
}

// LogWriterMetrics contains misc metrics for the log writer.
type LogWriterMetrics struct {
	// Writes and BytesWritten count physical writes to the log file.
	Writes       int64
	BytesWritten int64
	// Switches counts buffers moved to the dirty list.
	Switches int64
	// BuffersFlushed counts dirty buffers written to the log file.
	BuffersFlushed int64
	// DirectWrites counts records too large for a buffer.
	DirectWrites int64
	Syncs        int64
	SyncRetries  int64
	// ReplicationErrors counts sink failures. Each one stops replication.
	ReplicationErrors int64
}

// Merge merges metrics from x. Requires that x is non-nil.
func (m *LogWriterMetrics) Merge(x *LogWriterMetrics) {
	m.Writes += x.Writes
	m.BytesWritten += x.BytesWritten
	m.Switches += x.Switches
	m.BuffersFlushed += x.BuffersFlushed
	m.DirectWrites += x.DirectWrites
	m.Syncs += x.Syncs
	m.SyncRetries += x.SyncRetries
	m.ReplicationErrors += x.ReplicationErrors
}

// logBuffer is one of the fixed set of buffers a LogWriter appends records
// to. buf[:reserved] is kept for the checksum record of the group. The
// buffer invariant is bytesFree + (position - reserved) == length.
type logBuffer struct {
	buf             []byte
	position        int
	bytesFree       int
	length          int
	greatestInstant base.LogInstant
}

func (b *logBuffer) init(reserved int) {
	b.length = len(b.buf) - reserved
	b.bytesFree = b.length
	b.position = reserved
	b.greatestInstant = base.InvalidLogInstant
}

// LogWriter appends framed records to a log file through a small pool of
// buffers.
//
// Exactly one buffer is active and receives appended records. A switch moves
// the active buffer to the dirty list and activates a free buffer; dirty
// buffers are written to the file in FIFO order by a single flusher at a
// time. The pool lock (mu) is released while a dirty buffer is written, so
// appends can continue into free buffers during file I/O. Physical I/O is
// serialized by a separate file lock.
//
// Appends are expected to be serialized by the caller: a call to
// ReserveSpaceForChecksum followed by WriteLogRecord must not interleave with
// another append or with SwitchBuffer. Flushing and syncing may be called
// concurrently with appends.
type LogWriter struct {
	cfg LogWriterConfig
	// checksumLength is the stored payload length of a checksum record, and
	// checksumRecordSize its framed size. Both are zero when checksums are
	// disabled.
	checksumLength     int
	checksumRecordSize int
	numBuffers         int

	mu struct {
		sync.Mutex
		// cond is signalled when a flush completes or an active buffer becomes
		// available.
		cond sync.Cond
		// active is nil while a switch waits for a free buffer.
		active *logBuffer
		free   []*logBuffer
		dirty  []*logBuffer
		// flushInProgress is set while a flusher (or a direct write) has the
		// exclusive right to write to the file.
		flushInProgress bool
		// checksumInstant is the instant reserved for the checksum record of
		// the current group. It is InvalidLogInstant when none is reserved.
		checksumInstant base.LogInstant
		// checksum is reused across groups.
		checksum Checksum
		// err is sticky: once set, every further operation returns it.
		err    error
		closer invariants.CloseChecker
	}

	file struct {
		sync.Mutex
		// f is nil once the file has been closed.
		f vfs.File
		// sink is non-nil in the replication master role.
		sink Sink
	}

	metrics struct {
		writes            atomic.Int64
		bytesWritten      atomic.Int64
		switches          atomic.Int64
		buffersFlushed    atomic.Int64
		directWrites      atomic.Int64
		syncs             atomic.Int64
		syncRetries       atomic.Int64
		replicationErrors atomic.Int64
	}
}

// NewLogWriter returns a new LogWriter that appends to f at f's current write
// offset.
func NewLogWriter(f vfs.File, cfg LogWriterConfig) *LogWriter {
	cfg.ensureDefaults()
	w := &LogWriter{cfg: cfg, numBuffers: cfg.NumBuffers}
	if cfg.Checksums {
		w.checksumLength = checksumLength(cfg.Cipher)
		w.checksumRecordSize = RecordSize(w.checksumLength)
	}
	w.mu.cond.L = &w.mu.Mutex
	w.mu.free = make([]*logBuffer, 0, cfg.NumBuffers)
	for i := 0; i < cfg.NumBuffers; i++ {
		w.mu.free = append(w.mu.free, &logBuffer{buf: make([]byte, cfg.BufferSize)})
	}
	w.mu.active = w.popFreeLocked()
	w.file.f = f
	if m, ok := cfg.Replication.(ReplicationMaster); ok {
		w.file.sink = m.Sink
	}
	return w
}

// ChecksumRecordSize returns the framed size of the checksum records this
// writer emits, or zero if it does not emit any.
func (w *LogWriter) ChecksumRecordSize() int {
	return w.checksumRecordSize
}

// MaxBufferedRecordSize returns the largest framed record that fits in a log
// buffer. Larger records are written directly to the file.
func (w *LogWriter) MaxBufferedRecordSize() int {
	return w.cfg.BufferSize - w.checksumRecordSize
}

func (w *LogWriter) popFreeLocked() *logBuffer {
	b := w.mu.free[0]
	w.mu.free = w.mu.free[1:]
	b.init(w.checksumRecordSize)
	return b
}

// waitActiveLocked waits until an active buffer is available or the writer
// has failed.
func (w *LogWriter) waitActiveLocked() (*logBuffer, error) {
	for w.mu.active == nil && w.mu.err == nil {
		w.mu.cond.Wait()
	}
	if w.mu.err != nil {
		return nil, w.mu.err
	}
	return w.mu.active, nil
}

func (w *LogWriter) assertf(format string, args ...interface{}) {
	invariants.Failf(w.cfg.Logger, format, args...)
}

func (w *LogWriter) checkAccountingLocked(b *logBuffer) {
	if invariants.Enabled {
		if normalized := b.position - w.checksumRecordSize; b.bytesFree+normalized != b.length {
			w.assertf("rawlog: buffer accounting mismatch: free %d + position %d != length %d",
				b.bytesFree, normalized, b.length)
		}
	}
}

// ReserveSpaceForChecksum prepares the active buffer for a record with a
// payload of length bytes. It switches buffers if the record does not fit,
// and reserves the checksum instant of a new group if the record will start
// one. It returns the number of bytes the checksum record will occupy in
// front of the record, which the caller adds to currentPosition to compute
// the record's instant.
func (w *LogWriter) ReserveSpaceForChecksum(
	length int, fileNum base.FileNum, currentPosition int64,
) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.waitActiveLocked()
	if err != nil {
		return 0, err
	}
	reserve := false
	if b.position == w.checksumRecordSize {
		reserve = w.checksumRecordSize > 0
	} else if RecordSize(length) > b.bytesFree {
		if err := w.switchLocked(); err != nil {
			return 0, err
		}
		reserve = w.checksumRecordSize > 0
	}
	if !reserve {
		return 0, nil
	}
	if w.mu.checksumInstant.Valid() {
		w.assertf("rawlog: checksum instant %s reserved twice", w.mu.checksumInstant)
	}
	w.mu.checksumInstant = base.MakeLogInstant(fileNum, currentPosition)
	return w.checksumRecordSize, nil
}

// WriteLogRecord appends a record with payload data followed by optional.
// The record is buffered unless it is larger than a buffer, in which case
// everything buffered is flushed and the record is written directly to the
// file, preceded by its own checksum record.
func (w *LogWriter) WriteLogRecord(instant base.LogInstant, data, optional []byte) error {
	total := RecordSize(len(data) + len(optional))

	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.waitActiveLocked()
	if err != nil {
		return err
	}
	if total <= b.bytesFree {
		b.position = appendLogRecord(b.buf, b.position, instant, data, optional)
		b.bytesFree -= total
		b.greatestInstant = instant
		w.checkAccountingLocked(b)
		return nil
	}
	return w.writeUnbufferedLocked(b, instant, data, optional, total)
}

func (w *LogWriter) writeUnbufferedLocked(
	b *logBuffer, instant base.LogInstant, data, optional []byte, total int,
) error {
	// ReserveSpaceForChecksum has already switched away from any buffer with
	// content, so the active buffer is fresh and switching again cannot help.
	if b.position != w.checksumRecordSize {
		w.assertf("rawlog: record of %d bytes does not fit a non-empty buffer", total)
	}

	big := make([]byte, w.checksumRecordSize+total)
	appendLogRecord(big, w.checksumRecordSize, instant, data, optional)
	if w.checksumRecordSize > 0 {
		w.mu.checksum.Reset()
		w.mu.checksum.Update(big[w.checksumRecordSize:])
		if err := w.writeChecksumRecordLocked(big); err != nil {
			return err
		}
	}

	// Everything buffered precedes this record in the file.
	if err := w.switchLocked(); err != nil {
		return err
	}
	if err := w.flushDirtyLocked(); err != nil {
		return err
	}

	w.mu.flushInProgress = true
	w.mu.Unlock()
	err := w.writeToLog(big, instant)
	w.mu.Lock()
	w.mu.flushInProgress = false
	w.mu.cond.Broadcast()
	w.metrics.directWrites.Add(1)
	if err != nil {
		w.mu.err = err
	}
	return err
}

// writeChecksumRecordLocked writes the checksum record for the bytes folded
// into w.mu.checksum at the head of dst, consuming the reserved checksum
// instant.
func (w *LogWriter) writeChecksumRecordLocked(dst []byte) error {
	if !w.mu.checksumInstant.Valid() {
		w.assertf("rawlog: writing checksum record without a reserved instant")
	}
	p := PutInt(dst, 0, int32(w.checksumLength))
	p = PutLong(dst, p, int64(w.mu.checksumInstant))
	payload := dst[p : p+w.checksumLength]
	clear(payload)
	ChecksumRecord{
		Algorithm:  ChecksumAlgorithmCRC32,
		DataLength: int32(w.mu.checksum.Len()),
		Value:      w.mu.checksum.Value(),
	}.encode(payload)
	if w.cfg.Cipher != nil {
		if err := w.cfg.Cipher.Encrypt(payload, payload); err != nil {
			return errors.Wrap(err, "rawlog: encrypting checksum record")
		}
	}
	PutInt(dst, p+w.checksumLength, int32(w.checksumLength))
	w.mu.checksumInstant = base.InvalidLogInstant
	return nil
}

// SwitchBuffer moves the active buffer to the dirty list, writing its
// checksum record, and activates a free buffer. It is a no-op if the active
// buffer holds no records. If no free buffer is left, SwitchBuffer flushes
// dirty buffers until one is.
func (w *LogWriter) SwitchBuffer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.switchLocked()
}

func (w *LogWriter) switchLocked() error {
	b, err := w.waitActiveLocked()
	if err != nil {
		return err
	}
	if b.position == w.checksumRecordSize {
		return nil
	}
	if w.checksumRecordSize > 0 {
		w.mu.checksum.Reset()
		w.mu.checksum.Update(b.buf[w.checksumRecordSize:b.position])
		if err := w.writeChecksumRecordLocked(b.buf); err != nil {
			w.mu.err = err
			return err
		}
	}

	w.mu.dirty = append(w.mu.dirty, b)
	w.mu.active = nil
	w.metrics.switches.Add(1)
	for len(w.mu.free) == 0 {
		if err := w.flushDirtyLocked(); err != nil {
			w.mu.cond.Broadcast()
			return err
		}
	}
	w.mu.active = w.popFreeLocked()
	w.mu.cond.Broadcast()
	return nil
}

// FlushDirtyBuffers writes every dirty buffer to the file in FIFO order. If
// another flush is in progress, it waits for it to complete first. It does
// not flush the active buffer.
func (w *LogWriter) FlushDirtyBuffers() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushDirtyLocked()
}

func (w *LogWriter) flushDirtyLocked() error {
	for w.mu.flushInProgress {
		w.mu.cond.Wait()
	}
	if w.mu.err != nil {
		return w.mu.err
	}
	n := len(w.mu.dirty)
	if n == 0 {
		return nil
	}

	w.mu.flushInProgress = true
	defer func() {
		w.mu.flushInProgress = false
		w.mu.cond.Broadcast()
	}()

	for flushed := 0; flushed < n; {
		// The buffer stays at the head of the dirty list until it is written.
		// Only the flusher removes dirty buffers.
		b := w.mu.dirty[0]

		w.mu.Unlock()
		err := w.writeToLog(b.buf[:b.position], b.greatestInstant)
		w.mu.Lock()

		if err != nil {
			w.mu.err = err
			return err
		}
		w.mu.dirty = w.mu.dirty[1:]
		w.mu.free = append(w.mu.free, b)
		w.metrics.buffersFlushed.Add(1)
		flushed++

		// Buffers dirtied while we were writing are flushed too, but never
		// more than the pool size in one call.
		if flushed == n && len(w.mu.dirty) > 0 && flushed <= w.numBuffers {
			n += len(w.mu.dirty)
		}
	}
	return nil
}

// Flush switches the active buffer, even if partially full, and flushes all
// dirty buffers to the file. It does not sync.
func (w *LogWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.switchLocked(); err != nil {
		return err
	}
	return w.flushDirtyLocked()
}

// writeToLog writes p to the file and mirrors it to the replication sink
// under the file lock.
func (w *LogWriter) writeToLog(p []byte, highest base.LogInstant) error {
	w.file.Lock()
	defer w.file.Unlock()

	if w.file.f == nil {
		return errClosedWriter
	}
	if _, err := w.file.f.Write(p); err != nil {
		return errors.Mark(errors.Wrap(err, "rawlog: writing log file"), base.ErrLogFull)
	}
	w.metrics.writes.Add(1)
	w.metrics.bytesWritten.Add(int64(len(p)))

	if w.file.sink != nil {
		if err := w.file.sink.AppendLog(highest, p); err != nil {
			w.metrics.replicationErrors.Add(1)
			w.cfg.Logger.Errorf("rawlog: replication stopped at %s: %v", highest, err)
			w.file.sink = nil
		}
	}
	return nil
}

// StopReplication stops mirroring writes to the replication sink.
func (w *LogWriter) StopReplication() {
	w.file.Lock()
	defer w.file.Unlock()
	w.file.sink = nil
}

// Replicating returns true if writes are being mirrored to a sink.
func (w *LogWriter) Replicating() bool {
	w.file.Lock()
	defer w.file.Unlock()
	return w.file.sink != nil
}

// Sync forces previously flushed bytes to stable storage. A failed sync is
// retried after a pause, up to the configured number of retries; once the
// retries are exhausted the failure is returned marked as base.ErrLogFull.
func (w *LogWriter) Sync() error {
	for attempt := 0; ; {
		err := w.syncOnce()
		if err == nil {
			return nil
		}
		if errors.Is(err, base.ErrClosed) {
			return err
		}
		attempt++
		if attempt > w.cfg.SyncRetry.MaxRetries {
			return errors.Mark(
				errors.Wrapf(err, "rawlog: sync failed after %d attempts", errors.Safe(attempt)),
				base.ErrLogFull)
		}
		w.metrics.syncRetries.Add(1)
		w.cfg.Logger.Infof("rawlog: sync attempt %d failed, retrying in %s: %v",
			attempt, w.cfg.SyncRetry.Delay, err)
		time.Sleep(w.cfg.SyncRetry.Delay)
	}
}

func (w *LogWriter) syncOnce() error {
	w.file.Lock()
	defer w.file.Unlock()
	if w.file.f == nil {
		return errClosedWriter
	}
	start := crtime.NowMono()
	err := w.file.f.Sync()
	if w.cfg.FsyncLatency != nil {
		w.cfg.FsyncLatency.Observe(float64(start.Elapsed()))
	}
	if err == nil {
		w.metrics.syncs.Add(1)
	}
	return err
}

// WriteEndMarker flushes everything buffered and then writes marker directly
// to the file. The marker is not covered by any checksum.
func (w *LogWriter) WriteEndMarker(marker int32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.switchLocked(); err != nil {
		return err
	}
	if err := w.flushDirtyLocked(); err != nil {
		return err
	}
	var b [4]byte
	PutInt(b[:], 0, marker)
	if err := w.writeToLog(b[:], base.InvalidLogInstant); err != nil {
		w.mu.err = err
		return err
	}
	return nil
}

// WriteInt appends v to the active buffer. It does not frame v as a record.
func (w *LogWriter) WriteInt(v int32) error {
	var b [4]byte
	PutInt(b[:], 0, v)
	return w.Write(b[:])
}

// WriteLong appends v to the active buffer. It does not frame v as a
// record.
func (w *LogWriter) WriteLong(v int64) error {
	var b [8]byte
	PutLong(b[:], 0, v)
	return w.Write(b[:])
}

// Write appends p to the active buffer, which must have room for it. It does
// not frame p as a record.
func (w *LogWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := w.waitActiveLocked()
	if err != nil {
		return err
	}
	if len(p) > b.bytesFree {
		w.assertf("rawlog: raw write of %d bytes exceeds %d free bytes", len(p), b.bytesFree)
		return errors.AssertionFailedf("rawlog: raw write of %d bytes exceeds %d free bytes",
			errors.Safe(len(p)), errors.Safe(b.bytesFree))
	}
	b.position = Put(b.buf, b.position, p)
	b.bytesFree -= len(p)
	w.checkAccountingLocked(b)
	return nil
}

// Corrupt closes the file without flushing. Buffered data is discarded and
// every further operation fails.
func (w *LogWriter) Corrupt() error {
	w.mu.Lock()
	if w.mu.err == nil {
		w.mu.err = errClosedWriter
	}
	w.mu.cond.Broadcast()
	w.mu.Unlock()

	w.file.Lock()
	defer w.file.Unlock()
	if w.file.f == nil {
		return nil
	}
	err := w.file.f.Close()
	w.file.f = nil
	return err
}

// Close flushes any buffered data and closes the file. Records should have
// been flushed before Close is called. Closing a writer that has already
// failed only closes the file.
func (w *LogWriter) Close() error {
	var err error
	w.mu.Lock()
	w.mu.closer.Close()
	if w.mu.err == nil {
		if b := w.mu.active; b != nil && b.position != w.checksumRecordSize {
			w.assertf("rawlog: log file closed with %d bytes still buffered",
				b.position-w.checksumRecordSize)
		}
		if err = w.switchLocked(); err == nil {
			err = w.flushDirtyLocked()
		}
		if w.mu.err == nil {
			w.mu.err = errClosedWriter
		}
		w.mu.cond.Broadcast()
	}
	w.mu.Unlock()

	w.file.Lock()
	defer w.file.Unlock()
	if w.file.f != nil {
		err = errors.CombineErrors(err, w.file.f.Close())
		w.file.f = nil
	}
	return err
}

// Metrics returns metrics for the LogWriter.
func (w *LogWriter) Metrics() LogWriterMetrics {
	return LogWriterMetrics{
		Writes:            w.metrics.writes.Load(),
		BytesWritten:      w.metrics.bytesWritten.Load(),
		Switches:          w.metrics.switches.Load(),
		BuffersFlushed:    w.metrics.buffersFlushed.Load(),
		DirectWrites:      w.metrics.directWrites.Load(),
		Syncs:             w.metrics.syncs.Load(),
		SyncRetries:       w.metrics.syncRetries.Load(),
		ReplicationErrors: w.metrics.replicationErrors.Load(),
	}
}
