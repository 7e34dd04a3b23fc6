// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/record"
	"github.com/rawstore/rawlog/vfs"
)

// Log is a write-ahead log stored as a sequence of log files in a
// directory. Records are addressed by the LogInstant at which they start.
//
// Appends are serialized by the Log. Flushes write and sync the log outside
// of the append lock, so appends proceed into free buffers while a flush is
// writing. Concurrent flushes are coalesced: a flush that finds another in
// progress waits for it and returns early if its record was covered.
type Log struct {
	dirname string
	opts    *Options
	// dir is synced after log files are created or removed. It is nil for a
	// read-only log and is only used with mu held.
	dir vfs.File

	mu struct {
		sync.Mutex
		// cond is signalled when a flush completes.
		cond sync.Cond
		// writer is nil for a read-only log.
		writer  *record.LogWriter
		fileNum FileNum
		// endPosition is the offset following the last record appended to the
		// current file.
		endPosition int64
		// flushed and synced are the instants up to which records have been
		// written to the file and synced. Every record that starts before
		// synced is durable.
		flushed LogInstant
		synced  LogInstant
		// flushing is set while a flush writes and syncs with mu released.
		flushing    bool
		replication record.Replication
		// corrupt is set once the log has been marked corrupt.
		corrupt error
		closed  bool

		// metrics accumulates the writer metrics of closed log files.
		metrics       record.LogWriterMetrics
		appends       int64
		bytesAppended int64
		flushes       int64
		fileSwitches  int64
	}
}

func newLog(dirname string, opts *Options) *Log {
	l := &Log{dirname: dirname, opts: opts}
	l.mu.cond.L = &l.mu.Mutex
	l.mu.replication = opts.Replication
	return l
}

// newWriterLocked returns a LogWriter for f, which must be positioned at the
// end of its records.
func (l *Log) newWriterLocked(f vfs.File) *record.LogWriter {
	cfg := l.opts.logWriterConfig()
	cfg.Replication = l.mu.replication
	if _, ok := l.mu.replication.(record.ReplicationSlave); !ok {
		cfg.Checksums = l.opts.FormatMajorVersion.checksums()
	}
	return record.NewLogWriter(f, cfg)
}

// checkLocked returns the error a write operation fails with, if any.
func (l *Log) checkLocked() error {
	switch {
	case l.mu.corrupt != nil:
		return l.mu.corrupt
	case l.mu.closed:
		return ErrClosed
	case l.mu.writer == nil:
		return ErrReadOnly
	}
	return nil
}

func (l *Log) endLocked() LogInstant {
	return base.MakeLogInstant(l.mu.fileNum, l.mu.endPosition)
}

// Append appends a record with payload data followed by optional and
// returns the instant at which it starts. The record is buffered: it is
// durable once Flush has been called with its instant.
func (l *Log) Append(data, optional []byte) (LogInstant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return InvalidLogInstant, err
	}
	if _, ok := l.mu.replication.(record.ReplicationSlave); ok {
		return InvalidLogInstant, errors.New("rawlog: cannot append to a replication slave")
	}
	return l.appendLocked(data, optional)
}

// AppendReplicated appends a record received from a replication master. It
// must start exactly at the end of the log, or at the start of a later log
// file, in which case the log switches files first.
func (l *Log) AppendReplicated(instant LogInstant, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return err
	}
	if _, ok := l.mu.replication.(record.ReplicationSlave); !ok {
		return errors.New("rawlog: not a replication slave")
	}
	for instant.FileNum() > l.mu.fileNum {
		if err := l.switchLogFileLocked(true /* force */); err != nil {
			return err
		}
	}
	if end := l.endLocked(); instant != end {
		return errors.Newf("rawlog: replicated record at %s does not start at the end of the log %s",
			instant, end)
	}
	got, err := l.appendLocked(payload, nil)
	if err != nil {
		return err
	}
	if got != instant {
		return errors.AssertionFailedf("rawlog: replicated record appended at %s, expected %s",
			got, instant)
	}
	return nil
}

func (l *Log) appendLocked(data, optional []byte) (LogInstant, error) {
	length := len(data) + len(optional)
	if length == 0 {
		return InvalidLogInstant, errors.New("rawlog: cannot append an empty record")
	}

	// A record must end within the addressable range of its file. The
	// checksum record that may precede it is accounted for as well.
	fits := func() bool {
		need := int64(record.RecordSize(length) + l.mu.writer.ChecksumRecordSize())
		return l.mu.endPosition+need < l.opts.private.maxLogFileSize
	}
	if !fits() {
		for l.mu.flushing {
			l.mu.cond.Wait()
		}
		if err := l.checkLocked(); err != nil {
			return InvalidLogInstant, err
		}
	}
	if !fits() {
		if err := l.switchLogFileLocked(false /* force */); err != nil {
			return InvalidLogInstant, err
		}
		if !fits() {
			return InvalidLogInstant, errors.Mark(
				errors.Newf("rawlog: record of %d bytes does not fit in a log file", errors.Safe(length)),
				base.ErrLogFull)
		}
	}

	w := l.mu.writer
	n, err := w.ReserveSpaceForChecksum(length, l.mu.fileNum, l.mu.endPosition)
	if err != nil {
		return InvalidLogInstant, l.markCorruptLocked(err)
	}
	l.mu.endPosition += int64(n)
	instant := l.endLocked()
	if err := w.WriteLogRecord(instant, data, optional); err != nil {
		return InvalidLogInstant, l.markCorruptLocked(err)
	}
	l.mu.endPosition += int64(record.RecordSize(length))
	l.mu.appends++
	l.mu.bytesAppended += int64(length)
	return instant, nil
}

// Flush makes the record at instant, and every record before it, durable.
// It returns immediately if they already are. Flushing an invalid instant
// is a no-op.
func (l *Log) Flush(instant LogInstant) error {
	if !instant.Valid() {
		return nil
	}
	// The record at instant starts before instant+1.
	return l.flush(instant + 1)
}

// FlushAll makes every record appended so far durable.
func (l *Log) FlushAll() error {
	l.mu.Lock()
	end := l.endLocked()
	l.mu.Unlock()
	return l.flush(end)
}

// Sync is an alias for FlushAll. A Log never holds data that has been
// written but not synced once a flush returns.
func (l *Log) Sync() error {
	return l.FlushAll()
}

// flush makes every record that starts before through durable.
func (l *Log) flush(through LogInstant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.mu.writer == nil && l.mu.corrupt == nil && !l.mu.closed {
			// Read-only.
			return nil
		}
		if err := l.checkLocked(); err != nil {
			return err
		}
		if through <= l.mu.synced {
			return nil
		}
		if !l.mu.flushing {
			break
		}
		l.mu.cond.Wait()
	}

	w := l.mu.writer
	if err := w.SwitchBuffer(); err != nil {
		return l.markCorruptLocked(err)
	}
	potential := l.endLocked()
	l.mu.flushing = true

	l.mu.Unlock()
	err := w.FlushDirtyBuffers()
	if err == nil {
		err = w.Sync()
	}
	l.mu.Lock()

	l.mu.flushing = false
	l.mu.cond.Broadcast()
	if err != nil {
		return l.markCorruptLocked(err)
	}
	if l.mu.corrupt != nil {
		return l.mu.corrupt
	}
	l.mu.flushes++
	if potential > l.mu.flushed {
		l.mu.flushed = potential
	}
	if potential > l.mu.synced {
		l.mu.synced = potential
	}

	// A slave follows the file boundaries of its master.
	_, slave := l.mu.replication.(record.ReplicationSlave)
	if !slave && potential.FileNum() == l.mu.fileNum && potential.Position() > l.opts.LogSwitchInterval {
		if err := l.switchLogFileLocked(false /* force */); err != nil {
			l.opts.Logger.Errorf("rawlog: switching log file after flush: %v", err)
		}
	}
	return nil
}

// SwitchLogFile ends the current log file with an end marker and continues
// the log in a new file. It is a no-op if the current file holds no records.
func (l *Log) SwitchLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return err
	}
	return l.switchLogFileLocked(false /* force */)
}

func (l *Log) switchLogFileLocked(force bool) error {
	for l.mu.flushing {
		l.mu.cond.Wait()
	}
	if err := l.checkLocked(); err != nil {
		return err
	}
	if !force && l.mu.endPosition == record.FileHeaderSize {
		return nil
	}
	if l.mu.fileNum >= base.MaxLogFileNumber {
		return errors.Mark(errors.Newf("rawlog: log file number %s exhausted", l.mu.fileNum),
			base.ErrLogFull)
	}

	// The records of the current file are made durable before the next file
	// exists. A crash then leaves at most a torn end marker behind, and a
	// failure to create the next file leaves the current one usable.
	old := l.mu.writer
	err := old.Flush()
	if err == nil {
		err = old.Sync()
	}
	if err != nil {
		return l.markCorruptLocked(err)
	}
	l.mu.flushed = l.endLocked()
	l.mu.synced = l.endLocked()

	prevEnd := l.endLocked()
	newNum := l.mu.fileNum + 1
	f, err := l.createLogFile(newNum, prevEnd)
	if err != nil {
		return err
	}

	err = old.WriteEndMarker(record.EndMarker)
	if err == nil {
		err = old.Sync()
	}
	if err != nil {
		_ = f.Close()
		return l.markCorruptLocked(err)
	}
	closeErr := old.Close()
	m := old.Metrics()
	l.mu.metrics.Merge(&m)
	if closeErr != nil {
		l.opts.Logger.Errorf("rawlog: closing log file %s: %v", l.mu.fileNum, closeErr)
	}

	l.mu.writer = l.newWriterLocked(f)
	l.mu.fileNum = newNum
	l.mu.endPosition = record.FileHeaderSize
	l.mu.flushed = l.endLocked()
	l.mu.synced = l.endLocked()
	l.mu.fileSwitches++
	return nil
}

// createLogFile creates, initializes and syncs a new log file along with its
// directory entry. The returned file is positioned after the header.
func (l *Log) createLogFile(fileNum FileNum, prevEnd LogInstant) (vfs.File, error) {
	path := logFilename(l.opts.FS, l.dirname, fileNum)
	info := LogCreateInfo{Path: path, FileNum: fileNum, PrevEnd: prevEnd}
	f, err := l.opts.FS.Create(path)
	if err == nil {
		h := record.FileHeader{
			Version: uint32(l.opts.FormatMajorVersion),
			FileNum: fileNum,
			PrevEnd: prevEnd,
		}
		if _, err = f.Write(h.Encode()); err == nil {
			err = f.Sync()
		}
		if err == nil {
			err = l.syncDir()
		}
		if err != nil {
			err = errors.CombineErrors(err, f.Close())
			f = nil
			if rerr := l.opts.FS.Remove(path); rerr != nil {
				l.opts.Logger.Infof("rawlog: removing log file %s: %v", fileNum, rerr)
			}
		}
	}
	if err != nil {
		info.Err = errors.Wrapf(err, "rawlog: creating log file %s", fileNum)
		l.opts.EventListener.LogCreated(info)
		return nil, info.Err
	}
	l.opts.EventListener.LogCreated(info)
	return f, nil
}

// removeLogFile removes log file fileNum and syncs the directory.
func (l *Log) removeLogFile(fileNum FileNum) error {
	if err := l.opts.FS.Remove(logFilename(l.opts.FS, l.dirname, fileNum)); err != nil {
		return errors.Wrapf(err, "rawlog: removing log file %s", fileNum)
	}
	return l.syncDir()
}

func (l *Log) syncDir() error {
	if err := l.dir.Sync(); err != nil {
		return errors.Wrapf(err, "rawlog: syncing directory %q", l.dirname)
	}
	return nil
}

// MarkCorrupt marks the log corrupt. The current file is closed without
// flushing and every later operation fails with an error marked
// ErrCorruption. Only the first call has an effect.
func (l *Log) MarkCorrupt(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.markCorruptLocked(err)
}

func (l *Log) markCorruptLocked(err error) error {
	if l.mu.corrupt != nil {
		return l.mu.corrupt
	}
	l.mu.corrupt = base.MarkCorruptionError(errors.Wrap(err, "rawlog: log corrupt"))
	if w := l.mu.writer; w != nil {
		if cerr := w.Corrupt(); cerr != nil {
			l.opts.Logger.Errorf("rawlog: closing corrupt log file %s: %v", l.mu.fileNum, cerr)
		}
		m := w.Metrics()
		l.mu.metrics.Merge(&m)
		l.mu.writer = nil
	}
	l.opts.EventListener.LogCorrupted(LogCorruptInfo{
		FileNum: l.mu.fileNum,
		End:     l.endLocked(),
		Err:     err,
	})
	l.mu.cond.Broadcast()
	return l.mu.corrupt
}

// StopReplication ends the log's replication role. A master stops mirroring
// writes to its sink. A slave becomes an ordinary log: it continues in a new
// log file that carries checksum records again.
func (l *Log) StopReplication() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return err
	}
	switch l.mu.replication.(type) {
	case record.ReplicationMaster:
		l.mu.writer.StopReplication()
		l.mu.replication = record.ReplicationDisabled{}
	case record.ReplicationSlave:
		l.mu.replication = record.ReplicationDisabled{}
		if err := l.switchLogFileLocked(true /* force */); err != nil {
			return err
		}
	}
	return nil
}

// Replicating returns true if writes are being mirrored to a sink. It
// becomes false when the sink fails.
func (l *Log) Replicating() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.writer != nil && l.mu.writer.Replicating()
}

// EndInstant returns the instant following the last record appended.
func (l *Log) EndInstant() LogInstant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endLocked()
}

// FlushedInstant returns the instant up to which records have been written
// to the current log file.
func (l *Log) FlushedInstant() LogInstant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.flushed
}

// SyncedInstant returns the instant before which every record is durable.
func (l *Log) SyncedInstant() LogInstant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.synced
}

// Metrics returns metrics about the log.
func (l *Log) Metrics() *Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &Metrics{
		LogWriter:     l.mu.metrics,
		FsyncLatency:  l.opts.FsyncLatency,
		Appends:       l.mu.appends,
		BytesAppended: l.mu.bytesAppended,
		Flushes:       l.mu.flushes,
		FileSwitches:  l.mu.fileSwitches,
		FileNum:       l.mu.fileNum,
		End:           l.endLocked(),
		Synced:        l.mu.synced,
		Corrupt:       l.mu.corrupt != nil,
	}
	if w := l.mu.writer; w != nil {
		wm := w.Metrics()
		m.LogWriter.Merge(&wm)
	}
	return m
}

// Close flushes the log, ends the current log file with an end marker and
// closes it. Closing a corrupt log releases its resources and returns nil.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.mu.flushing {
		l.mu.cond.Wait()
	}
	if l.mu.closed {
		return ErrClosed
	}
	l.mu.closed = true
	l.mu.cond.Broadcast()

	var err error
	if w := l.mu.writer; w != nil {
		l.mu.writer = nil
		err = w.WriteEndMarker(record.EndMarker)
		if err == nil {
			err = w.Sync()
		}
		err = errors.CombineErrors(err, w.Close())
		m := w.Metrics()
		l.mu.metrics.Merge(&m)
	}
	if l.dir != nil {
		err = errors.CombineErrors(err, l.dir.Close())
		l.dir = nil
	}
	return err
}
