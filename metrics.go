// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rawstore/rawlog/record"
)

// FsyncLatencyBuckets are prometheus histogram buckets suitable for a
// histogram that records latencies for fsyncs.
var FsyncLatencyBuckets = append(
	prometheus.LinearBuckets(0.0, float64(time.Microsecond*100), 50),
	prometheus.ExponentialBucketsRange(float64(time.Millisecond*5), float64(10*time.Second), 50)...,
)

// Metrics holds metrics for a Log.
type Metrics struct {
	// LogWriter aggregates the metrics of every log file written since the
	// log was opened.
	LogWriter record.LogWriterMetrics
	// FsyncLatency is the histogram of sync latencies in nanoseconds.
	FsyncLatency prometheus.Histogram

	// Appends and BytesAppended count records appended and their payload
	// bytes.
	Appends       int64
	BytesAppended int64
	// Flushes counts flushes that wrote and synced the log, excluding those
	// satisfied by an earlier flush.
	Flushes int64
	// FileSwitches counts log file switches.
	FileSwitches int64

	FileNum FileNum
	End     LogInstant
	Synced  LogInstant
	Corrupt bool
}

// String pretty-prints the metrics.
func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("file %s end %s synced %s corrupt %t\n",
		m.FileNum, m.End, m.Synced, redact.Safe(m.Corrupt))
	w.Printf("appends %d (%d bytes) flushes %d switches %d\n",
		redact.Safe(m.Appends), redact.Safe(m.BytesAppended),
		redact.Safe(m.Flushes), redact.Safe(m.FileSwitches))
	lw := &m.LogWriter
	w.Printf("writes %d (%d bytes) buffers %d/%d direct %d\n",
		redact.Safe(lw.Writes), redact.Safe(lw.BytesWritten),
		redact.Safe(lw.BuffersFlushed), redact.Safe(lw.Switches), redact.Safe(lw.DirectWrites))
	w.Printf("syncs %d retries %d replication errors %d\n",
		redact.Safe(lw.Syncs), redact.Safe(lw.SyncRetries), redact.Safe(lw.ReplicationErrors))
}

// collector exports the metrics of a Log to prometheus.
type collector struct {
	l     *Log
	descs struct {
		appends, bytesAppended, flushes, switches      *prometheus.Desc
		writes, bytesWritten, syncs, syncRetries       *prometheus.Desc
		directWrites, replicationErrors, endPos, fileN *prometheus.Desc
	}
}

// Collector returns a prometheus.Collector for the log's metrics. The fsync
// latency histogram is included.
func (l *Log) Collector() prometheus.Collector {
	c := &collector{l: l}
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("rawlog_"+name, help, nil, nil)
	}
	c.descs.appends = d("appends_total", "Records appended.")
	c.descs.bytesAppended = d("appended_bytes_total", "Payload bytes appended.")
	c.descs.flushes = d("flushes_total", "Flushes that wrote and synced the log.")
	c.descs.switches = d("file_switches_total", "Log file switches.")
	c.descs.writes = d("writes_total", "Physical writes to log files.")
	c.descs.bytesWritten = d("written_bytes_total", "Bytes written to log files.")
	c.descs.syncs = d("syncs_total", "Successful syncs.")
	c.descs.syncRetries = d("sync_retries_total", "Failed sync attempts that were retried.")
	c.descs.directWrites = d("direct_writes_total", "Records written without buffering.")
	c.descs.replicationErrors = d("replication_errors_total", "Replication sink failures.")
	c.descs.endPos = d("end_position_bytes", "End position within the current log file.")
	c.descs.fileN = d("file_number", "Number of the current log file.")
	return c
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.l.Metrics()
	counter := func(desc *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}
	counter(c.descs.appends, m.Appends)
	counter(c.descs.bytesAppended, m.BytesAppended)
	counter(c.descs.flushes, m.Flushes)
	counter(c.descs.switches, m.FileSwitches)
	counter(c.descs.writes, m.LogWriter.Writes)
	counter(c.descs.bytesWritten, m.LogWriter.BytesWritten)
	counter(c.descs.syncs, m.LogWriter.Syncs)
	counter(c.descs.syncRetries, m.LogWriter.SyncRetries)
	counter(c.descs.directWrites, m.LogWriter.DirectWrites)
	counter(c.descs.replicationErrors, m.LogWriter.ReplicationErrors)
	gauge(c.descs.endPos, m.End.Position())
	gauge(c.descs.fileN, int64(m.FileNum))
	if m.FsyncLatency != nil {
		ch <- m.FsyncLatency
	}
}
