// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/vfs"
	"github.com/stretchr/testify/require"
)

func TestLoggingEventListener(t *testing.T) {
	logger := &base.InMemLogger{}
	el := MakeLoggingEventListener(logger)
	opts := &Options{FS: vfs.NewMem(), Logger: logger, EventListener: &el}
	l, err := Open("db", opts)
	require.NoError(t, err)
	_, err = l.Append([]byte("a"), nil)
	require.NoError(t, err)
	require.NoError(t, l.FlushAll())
	require.NoError(t, l.SwitchLogFile())
	require.NoError(t, l.Close())

	l, err = Open("db", opts)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.Equal(t, `[LOG] created log file 000001 (previous end (invalid))
[LOG] created log file 000002 (previous end (1,70))
[LOG] recovered log file 000002: 0 records, 24/28 bytes intact
`, logger.String())
}

func TestTeeEventListener(t *testing.T) {
	var a, b []LogCorruptInfo
	el := TeeEventListener(
		EventListener{LogCorrupted: func(info LogCorruptInfo) { a = append(a, info) }},
		EventListener{LogCorrupted: func(info LogCorruptInfo) { b = append(b, info) }},
	)
	el.LogCreated(LogCreateInfo{})
	el.LogCorrupted(LogCorruptInfo{Err: errors.New("x")})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
}
