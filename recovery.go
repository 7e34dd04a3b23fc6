// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/record"
)

// scanResult describes a scanned log file.
type scanResult struct {
	Header record.FileHeader
	// Size is the size of the file.
	Size int64
	// KnownGoodEnd is the offset following the last intact record.
	KnownGoodEnd int64
	// Records is the number of intact data records.
	Records      int
	SawEndMarker bool
	// Err is the corruption that ended the scan. A scan that reaches the end
	// marker or the end of the file has no error.
	Err error
}

// holdsNoRecords returns true if a scan found no intact record, either
// because the file holds none or because its header is torn.
func holdsNoRecords(res scanResult, err error) bool {
	if err != nil {
		return base.IsCorruptionError(err) && res.Size < record.FileHeaderSize
	}
	return res.Records == 0
}

// followedByNoRecords returns true if none of the log files nums holds an
// intact record.
func (l *Log) followedByNoRecords(nums []FileNum) (bool, error) {
	for _, fileNum := range nums {
		res, err := l.scanLogFile(fileNum, nil /* fn */)
		if !holdsNoRecords(res, err) {
			return false, err
		}
	}
	return true, nil
}

// readHeader reads and validates the header of log file fileNum.
func (l *Log) readHeader(fileNum FileNum) (record.FileHeader, error) {
	f, err := l.opts.FS.Open(logFilename(l.opts.FS, l.dirname, fileNum))
	if err != nil {
		return record.FileHeader{}, errors.Wrapf(err, "rawlog: opening log file %s", fileNum)
	}
	defer f.Close()
	return checkHeader(f, fileNum)
}

func checkHeader(r io.ReaderAt, fileNum FileNum) (record.FileHeader, error) {
	h, err := record.ReadFileHeader(r)
	if err != nil {
		return h, errors.Wrapf(err, "rawlog: log file %s", fileNum)
	}
	if h.FileNum != fileNum {
		return h, base.CorruptionErrorf("rawlog: log file %s has a header for log file %s",
			fileNum, h.FileNum)
	}
	if v := FormatMajorVersion(h.Version); v.validate() != nil {
		return h, errors.Newf("rawlog: log file %s has unsupported format major version %s",
			fileNum, v)
	}
	return h, nil
}

// scanLogFile reads the records of log file fileNum, calling fn, if non-nil,
// for each data record. Corruption of the records ends the scan and is
// reported in the result. The returned error is set for anything else: a
// missing or invalid header, I/O errors and errors returned by fn.
func (l *Log) scanLogFile(
	fileNum FileNum, fn func(LogInstant, []byte) error,
) (scanResult, error) {
	var res scanResult
	f, err := l.opts.FS.Open(logFilename(l.opts.FS, l.dirname, fileNum))
	if err != nil {
		return res, errors.Wrapf(err, "rawlog: opening log file %s", fileNum)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return res, errors.Wrapf(err, "rawlog: stat log file %s", fileNum)
	}
	res.Size = fi.Size()
	if res.Header, err = checkHeader(f, fileNum); err != nil {
		return res, err
	}

	r := record.NewReader(f, res.Size, record.ReaderOptions{
		Checksums: FormatMajorVersion(res.Header.Version).checksums(),
		Cipher:    l.opts.Cipher,
		FileNum:   fileNum,
	})
	for {
		instant, payload, err := r.Next()
		if err == io.EOF {
			break
		} else if base.IsCorruptionError(err) {
			res.Err = err
			break
		} else if err != nil {
			return res, err
		}
		res.Records++
		if fn != nil {
			if err := fn(instant, payload); err != nil {
				return res, err
			}
		}
	}
	res.KnownGoodEnd = r.KnownGoodEnd()
	res.SawEndMarker = r.SawEndMarker()
	return res, nil
}

// Replay calls fn for every record at or after from, in log order, across
// all log files. Replay stops at the first torn write in the last log file
// that holds records; corruption of an earlier file is returned as an error. The payload passed
// to fn is only valid for the duration of the call.
//
// Records still buffered by an open log are not visible to Replay.
func (l *Log) Replay(from LogInstant, fn func(LogInstant, []byte) error) error {
	nums, err := listLogFiles(l.opts.FS, l.dirname)
	if err != nil {
		return err
	}
	for i, fileNum := range nums {
		if fileNum < from.FileNum() {
			continue
		}
		res, err := l.scanLogFile(fileNum, func(instant LogInstant, p []byte) error {
			if instant < from {
				return nil
			}
			return fn(instant, p)
		})
		if err != nil {
			return err
		}
		if res.Err != nil {
			if empty, err := l.followedByNoRecords(nums[i+1:]); err != nil {
				return err
			} else if empty {
				return nil
			}
			return errors.Wrapf(res.Err, "rawlog: log file %s", fileNum)
		}
	}
	return nil
}

// Check scans every log file and returns the end of the last intact record
// of the log along with the corruption that ends the last file holding
// records, if any.
func (l *Log) Check() (LogInstant, error) {
	nums, err := listLogFiles(l.opts.FS, l.dirname)
	if err != nil {
		return InvalidLogInstant, err
	}
	end := InvalidLogInstant
	for i, fileNum := range nums {
		res, err := l.scanLogFile(fileNum, nil /* fn */)
		if err != nil {
			return end, err
		}
		end = base.MakeLogInstant(fileNum, res.KnownGoodEnd)
		if res.Err != nil {
			if empty, err := l.followedByNoRecords(nums[i+1:]); err != nil {
				return end, err
			} else if !empty {
				return end, errors.Wrapf(res.Err, "rawlog: log file %s", fileNum)
			}
			return end, res.Err
		}
	}
	return end, nil
}
