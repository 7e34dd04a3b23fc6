// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	logFilePrefix = "log"
	logFileSuffix = ".dat"
)

// MakeLogFilename builds the name of the log file with the given number.
func MakeLogFilename(fileNum FileNum) string {
	return fmt.Sprintf("%s%d%s", logFilePrefix, uint32(fileNum), logFileSuffix)
}

// ParseLogFilename parses the components from a log filename. Names that do
// not follow the log<N>.dat pattern return ok=false.
func ParseLogFilename(filename string) (fileNum FileNum, ok bool) {
	if !strings.HasPrefix(filename, logFilePrefix) || !strings.HasSuffix(filename, logFileSuffix) {
		return 0, false
	}
	s := filename[len(logFilePrefix) : len(filename)-len(logFileSuffix)]
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	u, err := strconv.ParseUint(s, 10, 32)
	if err != nil || u == 0 || u > MaxLogFileNumber {
		return 0, false
	}
	return FileNum(u), true
}
