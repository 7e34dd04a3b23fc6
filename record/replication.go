// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import "github.com/rawstore/rawlog/internal/base"

// Sink receives every byte range a LogWriter writes to its file, in file
// order.
type Sink interface {
	// AppendLog is called with the file lock held, immediately after p was
	// written to the log file. highest is the greatest record instant
	// contained in p, or base.InvalidLogInstant for an end marker. p is only
	// valid for the duration of the call.
	AppendLog(highest base.LogInstant, p []byte) error
}

// Replication selects the replication role of a LogWriter. It is one of
// ReplicationDisabled, ReplicationMaster or ReplicationSlave.
type Replication interface {
	replicationRole() string
}

// ReplicationDisabled is the default role: no writes are mirrored.
type ReplicationDisabled struct{}

// ReplicationMaster mirrors every physical write to Sink.
type ReplicationMaster struct {
	Sink Sink
}

// ReplicationSlave disables local checksum records. The records appended to a
// slave, checksum records included, are received from the master.
type ReplicationSlave struct{}

func (ReplicationDisabled) replicationRole() string { return "disabled" }
func (ReplicationMaster) replicationRole() string   { return "master" }
func (ReplicationSlave) replicationRole() string    { return "slave" }

// ReplicationRole returns a short name for the role, for use in logs.
func ReplicationRole(r Replication) string {
	if r == nil {
		return ReplicationDisabled{}.replicationRole()
	}
	return r.replicationRole()
}
