// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package replication

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/record"
)

// Receiver applies the writes of a master to a log opened with
// record.ReplicationSlave. Every record, checksum records included, is
// appended at the instant it had on the master, and the slave is flushed
// after each write.
//
// A Receiver is itself a record.Sink, so a master can replicate to a slave
// in the same process.
type Receiver struct {
	l *rawlog.Log

	mu struct {
		sync.Mutex
		last    rawlog.LogInstant
		records int64
	}
}

var _ record.Sink = (*Receiver)(nil)

// NewReceiver returns a Receiver applying writes to l.
func NewReceiver(l *rawlog.Log) *Receiver {
	return &Receiver{l: l}
}

// AppendLog implements record.Sink.
func (r *Receiver) AppendLog(highest rawlog.LogInstant, p []byte) error {
	return r.Apply(highest, p)
}

// Apply decodes a write of the master and appends its records to the
// slave. highest is the instant of the last record in the write, or
// rawlog.InvalidLogInstant for a write holding only an end marker.
func (r *Receiver) Apply(highest rawlog.LogInstant, chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := false
	for len(chunk) > 0 {
		instant, payload, n, err := record.DecodeRecord(chunk)
		if err != nil {
			return errors.Wrapf(err, "rawlog: decoding write ending at %s", highest)
		}
		chunk = chunk[n:]
		if !instant.Valid() {
			// The master ended a log file. The slave switches when the next
			// record arrives in the new file.
			continue
		}
		if err := r.l.AppendReplicated(instant, payload); err != nil {
			return err
		}
		r.mu.last = instant
		r.mu.records++
		applied = true
	}
	if !applied {
		return nil
	}
	if highest.Valid() && highest != r.mu.last {
		return errors.Newf("rawlog: write ends at %s but its last record is at %s",
			highest, r.mu.last)
	}
	return r.l.FlushAll()
}

// Last returns the instant of the last record applied.
func (r *Receiver) Last() rawlog.LogInstant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.last
}

// Records returns the number of records applied.
func (r *Receiver) Records() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.records
}

// Consume applies the messages published by a KafkaSink until ctx is
// canceled or an error occurs. A message is committed once it has been
// applied and flushed.
func (r *Receiver) Consume(ctx context.Context, src MessageReader) error {
	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "rawlog: fetching replicated write")
		}
		highest, err := decodeInstant(msg.Key)
		if err != nil {
			return err
		}
		if err := r.Apply(highest, msg.Value); err != nil {
			return err
		}
		if err := src.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "rawlog: committing replicated write")
		}
	}
}
