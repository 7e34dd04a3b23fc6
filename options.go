// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rawstore/rawlog/internal/base"
	"github.com/rawstore/rawlog/record"
	"github.com/rawstore/rawlog/vfs"
)

const (
	// DefaultLogSwitchInterval is the default size after which a flush
	// switches to a new log file.
	DefaultLogSwitchInterval = 1 << 20
	// MinLogSwitchInterval and MaxLogSwitchInterval bound
	// Options.LogSwitchInterval.
	MinLogSwitchInterval = 100000
	MaxLogSwitchInterval = 128 << 20
)

// Options holds the optional parameters for opening a Log.
type Options struct {
	// FS provides the interface for persistent file storage.
	//
	// The default value uses the underlying operating system's file system.
	FS vfs.FS

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// EventListener provides hooks for listening to significant log events
	// such as file creation and recovery.
	EventListener *EventListener

	// BufferSize is the size of each log buffer. It is clamped to
	// [record.MinBufferSize, LogSwitchInterval].
	//
	// The default value is 32 KB.
	BufferSize int

	// NumBuffers is the number of log buffers. Appends block only when all of
	// them are waiting to be written.
	//
	// The default value is 3.
	NumBuffers int

	// LogSwitchInterval is the size after which a flush switches to a new log
	// file. It is clamped to [MinLogSwitchInterval, MaxLogSwitchInterval].
	//
	// The default value is 1 MB.
	LogSwitchInterval int64

	// SyncRetry bounds the retries of a failing sync before the log gives up
	// with ErrLogFull.
	//
	// The default retries 20 times, 200ms apart.
	SyncRetry record.SyncRetryPolicy

	// FormatMajorVersion is the format new log files are written with.
	//
	// The default value is FormatNewest.
	FormatMajorVersion FormatMajorVersion

	// Replication selects the replication role of the log: disabled, master
	// (writes are mirrored to a sink) or slave (records are applied with
	// AppendReplicated and no checksum records are generated).
	Replication record.Replication

	// Cipher, if set, encrypts checksum records.
	Cipher record.Cipher

	// ReadOnly opens the log without recovering or writing to it.
	ReadOnly bool

	// FsyncLatency, if set, records the latency of each sync in nanoseconds.
	// If nil, Open creates a histogram with FsyncLatencyBuckets.
	FsyncLatency prometheus.Histogram

	// private options are only used by internal tests.
	private struct {
		// maxLogFileSize overrides base.MaxLogFileSize.
		maxLogFileSize int64
	}
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger{}
	}
	if o.EventListener == nil {
		l := MakeLoggingEventListener(o.Logger)
		o.EventListener = &l
	}
	o.EventListener.EnsureDefaults(o.Logger)
	if o.LogSwitchInterval <= 0 {
		o.LogSwitchInterval = DefaultLogSwitchInterval
	}
	o.LogSwitchInterval = min(max(o.LogSwitchInterval, MinLogSwitchInterval), MaxLogSwitchInterval)
	if o.BufferSize <= 0 {
		o.BufferSize = record.DefaultBufferSize
	}
	o.BufferSize = min(max(o.BufferSize, record.MinBufferSize), int(o.LogSwitchInterval))
	if o.NumBuffers < 2 {
		o.NumBuffers = record.DefaultNumBuffers
	}
	if o.SyncRetry == (record.SyncRetryPolicy{}) {
		o.SyncRetry = record.SyncRetryPolicy{
			MaxRetries: record.DefaultSyncRetries,
			Delay:      record.DefaultSyncRetryDelay,
		}
	}
	if o.FormatMajorVersion == FormatDefault {
		o.FormatMajorVersion = FormatNewest
	}
	if o.Replication == nil {
		o.Replication = record.ReplicationDisabled{}
	}
	if o.FsyncLatency == nil {
		o.FsyncLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rawlog_fsync_latency_nanoseconds",
			Help:    "Latency of log file syncs.",
			Buckets: FsyncLatencyBuckets,
		})
	}
	if o.private.maxLogFileSize <= 0 {
		o.private.maxLogFileSize = base.MaxLogFileSize
	}
	return o
}

// Validate verifies that the options are mutually consistent.
func (o *Options) Validate() error {
	if err := o.FormatMajorVersion.validate(); err != nil {
		return err
	}
	if o.Cipher != nil && !o.FormatMajorVersion.checksums() {
		return errors.Newf("rawlog: a cipher requires format major version %s or newer",
			FormatChecksums)
	}
	return nil
}

// String implements fmt.Stringer, rendering the options that affect the
// files written.
func (o *Options) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  format_major_version=%s\n", o.FormatMajorVersion)
	fmt.Fprintf(&buf, "  buffer_size=%d\n", o.BufferSize)
	fmt.Fprintf(&buf, "  num_buffers=%d\n", o.NumBuffers)
	fmt.Fprintf(&buf, "  log_switch_interval=%d\n", o.LogSwitchInterval)
	fmt.Fprintf(&buf, "  sync_max_retries=%d\n", o.SyncRetry.MaxRetries)
	fmt.Fprintf(&buf, "  sync_retry_delay=%s\n", o.SyncRetry.Delay)
	fmt.Fprintf(&buf, "  replication=%s\n", record.ReplicationRole(o.Replication))
	fmt.Fprintf(&buf, "  encrypted=%t\n", o.Cipher != nil)
	fmt.Fprintf(&buf, "  read_only=%t\n", o.ReadOnly)
	return buf.String()
}

// checksums returns true if new log files carry checksum records.
func (o *Options) checksums() bool {
	if _, ok := o.Replication.(record.ReplicationSlave); ok {
		return false
	}
	return o.FormatMajorVersion.checksums()
}

func (o *Options) logWriterConfig() record.LogWriterConfig {
	return record.LogWriterConfig{
		BufferSize:   o.BufferSize,
		NumBuffers:   o.NumBuffers,
		Checksums:    o.checksums(),
		Cipher:       o.Cipher,
		Replication:  o.Replication,
		SyncRetry:    o.SyncRetry,
		FsyncLatency: o.FsyncLatency,
		Logger:       o.Logger,
	}
}
