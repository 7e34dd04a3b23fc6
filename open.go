// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/record"
)

// Open opens the log in the named directory, creating it if it does not
// exist. The last log file is scanned and any torn tail or end marker is
// truncated so that appending resumes after the last intact record.
func Open(dirname string, opts *Options) (_ *Log, err error) {
	if opts == nil {
		opts = &Options{}
	} else {
		o := *opts
		opts = &o
	}
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	fs := opts.FS

	if !opts.ReadOnly {
		if err := fs.MkdirAll(dirname, 0755); err != nil {
			return nil, errors.Wrapf(err, "rawlog: creating %q", dirname)
		}
	}
	nums, err := listLogFiles(fs, dirname)
	if err != nil {
		return nil, err
	}

	l := newLog(dirname, opts)
	if !opts.ReadOnly {
		if l.dir, err = fs.OpenDir(dirname); err != nil {
			return nil, errors.Wrapf(err, "rawlog: opening directory %q", dirname)
		}
		defer func() {
			if err != nil {
				_ = l.dir.Close()
			}
		}()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(nums) == 0 {
		if opts.ReadOnly {
			return nil, errors.Newf("rawlog: no log files in %q", dirname)
		}
		if err := l.startFileLocked(1, InvalidLogInstant); err != nil {
			return nil, err
		}
		return l, nil
	}

	for _, fileNum := range nums[:len(nums)-1] {
		if _, err := l.readHeader(fileNum); err != nil {
			return nil, err
		}
	}

	last := nums[len(nums)-1]
	res, err := l.scanLogFile(last, nil /* fn */)
	// A crash while switching files can leave the previous file with a torn
	// tail and the last file without records. The last file is dropped and
	// the log continues in the previous one.
	for len(nums) > 1 && holdsNoRecords(res, err) {
		prevNum := nums[len(nums)-2]
		prev, perr := l.scanLogFile(prevNum, nil /* fn */)
		if perr != nil || prev.Err == nil {
			break
		}
		if !opts.ReadOnly {
			opts.Logger.Infof("rawlog: removing empty log file %s following torn log file %s: %v",
				last, prevNum, prev.Err)
			if err := l.removeLogFile(last); err != nil {
				return nil, err
			}
		}
		nums = nums[:len(nums)-1]
		last = prevNum
		res, err = prev, nil
	}
	if err != nil {
		if !base.IsCorruptionError(err) || res.Size >= record.FileHeaderSize || opts.ReadOnly {
			return nil, err
		}
		// The last file was created but its header never made it to disk.
		// Recreate it.
		opts.Logger.Infof("rawlog: recreating log file %s with a torn header: %v", last, err)
		prevEnd := InvalidLogInstant
		if len(nums) > 1 {
			prev, err := l.scanLogFile(last-1, nil /* fn */)
			if err != nil {
				return nil, err
			}
			prevEnd = base.MakeLogInstant(last-1, prev.KnownGoodEnd)
		}
		if err := l.startFileLocked(last, prevEnd); err != nil {
			return nil, err
		}
		return l, nil
	}
	opts.EventListener.LogRecovered(LogRecoveryInfo{
		Path:         logFilename(fs, dirname, last),
		FileNum:      last,
		Size:         res.Size,
		KnownGoodEnd: res.KnownGoodEnd,
		Records:      res.Records,
		SawEndMarker: res.SawEndMarker,
		Err:          res.Err,
	})

	l.mu.fileNum = last
	l.mu.endPosition = res.KnownGoodEnd
	l.mu.flushed = l.endLocked()
	l.mu.synced = l.endLocked()
	if opts.ReadOnly {
		return l, nil
	}

	f, err := fs.OpenReadWrite(logFilename(fs, dirname, last))
	if err != nil {
		return nil, errors.Wrapf(err, "rawlog: opening log file %s", last)
	}
	if res.Size != res.KnownGoodEnd {
		if res.Err != nil {
			opts.Logger.Infof("rawlog: truncating log file %s from %d to %d bytes: %v",
				last, res.Size, res.KnownGoodEnd, res.Err)
		}
		err = f.Truncate(res.KnownGoodEnd)
		if err == nil {
			err = f.Sync()
		}
	}
	if err == nil {
		_, err = f.Seek(res.KnownGoodEnd, io.SeekStart)
	}
	if err != nil {
		return nil, errors.CombineErrors(
			errors.Wrapf(err, "rawlog: preparing log file %s for append", last), f.Close())
	}
	l.mu.writer = l.newWriterLocked(f)

	// A file written with another format is not appended to.
	if res.Header.Version != uint32(opts.FormatMajorVersion) {
		if err := l.switchLogFileLocked(true /* force */); err != nil {
			if w := l.mu.writer; w != nil {
				err = errors.CombineErrors(err, w.Close())
			}
			return nil, err
		}
	}
	return l, nil
}

// startFileLocked creates the log file fileNum and starts appending to it.
func (l *Log) startFileLocked(fileNum FileNum, prevEnd LogInstant) error {
	f, err := l.createLogFile(fileNum, prevEnd)
	if err != nil {
		return err
	}
	l.mu.writer = l.newWriterLocked(f)
	l.mu.fileNum = fileNum
	l.mu.endPosition = record.FileHeaderSize
	l.mu.flushed = l.endLocked()
	l.mu.synced = l.endLocked()
	return nil
}
