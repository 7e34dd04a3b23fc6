// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"testing"

	"github.com/rawstore/rawlog/record"
	"github.com/rawstore/rawlog/vfs"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	var nilOpts *Options
	o := nilOpts.EnsureDefaults()
	require.Equal(t, vfs.Default, o.FS)
	require.Equal(t, record.DefaultBufferSize, o.BufferSize)
	require.Equal(t, record.DefaultNumBuffers, o.NumBuffers)
	require.Equal(t, int64(DefaultLogSwitchInterval), o.LogSwitchInterval)
	require.Equal(t, record.DefaultSyncRetries, o.SyncRetry.MaxRetries)
	require.Equal(t, record.DefaultSyncRetryDelay, o.SyncRetry.Delay)
	require.Equal(t, FormatNewest, o.FormatMajorVersion)
	require.Equal(t, record.ReplicationDisabled{}, o.Replication)
	require.NotNil(t, o.FsyncLatency)
	require.NotNil(t, o.EventListener.LogCreated)
	require.NoError(t, o.Validate())
	require.True(t, o.checksums())

	expected := `[Options]
  format_major_version=002
  buffer_size=32768
  num_buffers=3
  log_switch_interval=1048576
  sync_max_retries=20
  sync_retry_delay=200ms
  replication=disabled
  encrypted=false
  read_only=false
`
	require.Equal(t, expected, o.String())
}

func TestOptionsClamping(t *testing.T) {
	o := (&Options{BufferSize: 1, LogSwitchInterval: 1}).EnsureDefaults()
	require.Equal(t, record.MinBufferSize, o.BufferSize)
	require.Equal(t, int64(MinLogSwitchInterval), o.LogSwitchInterval)

	o = (&Options{BufferSize: 1 << 30, LogSwitchInterval: 1 << 40}).EnsureDefaults()
	require.Equal(t, int64(MaxLogSwitchInterval), o.LogSwitchInterval)
	require.Equal(t, MaxLogSwitchInterval, o.BufferSize)

	o = (&Options{Replication: record.ReplicationSlave{}}).EnsureDefaults()
	require.False(t, o.checksums())
	require.False(t, o.logWriterConfig().Checksums)
}

func TestOptionsValidate(t *testing.T) {
	o := (&Options{
		FormatMajorVersion: FormatMostCompatible,
		Cipher:             rot13{},
	}).EnsureDefaults()
	require.Error(t, o.Validate())

	o = (&Options{FormatMajorVersion: FormatNewest + 1}).EnsureDefaults()
	require.Error(t, o.Validate())
}

type rot13 struct{}

func (rot13) EncryptedLength(n int) int { return n }

func (rot13) Encrypt(dst, src []byte) error {
	for i := range src {
		dst[i] = src[i] + 13
	}
	return nil
}

func (rot13) Decrypt(dst, src []byte) error {
	for i := range src {
		dst[i] = src[i] - 13
	}
	return nil
}
