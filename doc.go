// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rawlog implements a write-ahead log for a transactional storage
// engine.
//
// A Log is a sequence of log files named log<N>.dat in a directory. Each file
// starts with a header followed by framed records:
//
//	+---------+-----------+-----------------+---------+
//	| len (4) | instant(8)| payload (len)   | len (4) |
//	+---------+-----------+-----------------+---------+
//
// A record is addressed by its LogInstant, the file number and the offset
// at which the record starts. Records are buffered by a small pool of log
// buffers and written to the file when a buffer fills or the log is flushed.
// With FormatChecksums, each group of records written together is preceded
// by a checksum record covering the group, so that torn writes are detected
// on recovery.
//
// Open recovers the last log file, truncating any torn tail. Flush makes a
// record durable; concurrent flushes are coalesced. A Log can mirror every
// write to a replication sink (see the replication package), and a log
// opened as a replication slave applies the records of a master with
// AppendReplicated, producing byte-identical files.
package rawlog
