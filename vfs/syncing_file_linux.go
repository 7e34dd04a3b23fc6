// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux && !arm
// +build linux,!arm

package vfs

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// linuxFile syncs with fdatasync(2).
type linuxFile struct {
	*os.File
	fd uintptr
}

func wrapOSFile(f *os.File) File {
	return &linuxFile{File: f, fd: f.Fd()}
}

func (f *linuxFile) Sync() error {
	return errors.WithStack(unix.Fdatasync(int(f.fd)))
}
