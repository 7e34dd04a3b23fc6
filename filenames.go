// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/vfs"
)

// logFilename returns the path of the log file with the given number.
func logFilename(fs vfs.FS, dirname string, fileNum FileNum) string {
	return fs.PathJoin(dirname, base.MakeLogFilename(fileNum))
}

// listLogFiles returns the numbers of the log files in dirname in ascending
// order. Other files are ignored. The numbers must be contiguous.
func listLogFiles(fs vfs.FS, dirname string) ([]FileNum, error) {
	names, err := fs.List(dirname)
	if err != nil {
		return nil, errors.Wrapf(err, "rawlog: listing %q", dirname)
	}
	var nums []FileNum
	for _, name := range names {
		if fileNum, ok := base.ParseLogFilename(fs.PathBase(name)); ok {
			nums = append(nums, fileNum)
		}
	}
	slices.Sort(nums)
	for i := 1; i < len(nums); i++ {
		if nums[i] != nums[i-1]+1 {
			return nil, base.CorruptionErrorf("rawlog: log file %s is missing", nums[i-1]+1)
		}
	}
	return nums, nil
}
