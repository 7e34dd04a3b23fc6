// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package replication provides sinks for the writes a replication master
// mirrors, and the receiving side that applies them to a slave log.
//
// A master log passes every physical write to its sink, in file order, as a
// chunk of whole framed records (or an end marker) along with the instant of
// the last record in the chunk. The chunks are exactly the bytes written to
// the master's log files, so a slave that applies them produces
// byte-identical files.
package replication

import (
	"sync"

	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/record"
)

// Chunk is a write received by a MemSink.
type Chunk struct {
	// Highest is the instant of the last record in Data, or
	// rawlog.InvalidLogInstant for an end marker.
	Highest rawlog.LogInstant
	Data    []byte
}

// MemSink keeps an in-memory copy of the writes of a master, in order.
type MemSink struct {
	mu struct {
		sync.Mutex
		chunks []Chunk
		bytes  int64
	}
}

var _ record.Sink = (*MemSink)(nil)

// AppendLog implements record.Sink.
func (s *MemSink) AppendLog(highest rawlog.LogInstant, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.chunks = append(s.mu.chunks, Chunk{Highest: highest, Data: append([]byte(nil), p...)})
	s.mu.bytes += int64(len(p))
	return nil
}

// Chunks returns the writes received so far.
func (s *MemSink) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.mu.chunks...)
}

// Bytes returns the number of bytes received so far.
func (s *MemSink) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.bytes
}

// Drain passes the writes received so far to next, in order, and forgets
// them. Drain stops at the first error; the failed write and those after it
// are kept.
func (s *MemSink) Drain(next record.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.mu.chunks) > 0 {
		c := s.mu.chunks[0]
		if err := next.AppendLog(c.Highest, c.Data); err != nil {
			return err
		}
		s.mu.chunks = s.mu.chunks[1:]
		s.mu.bytes -= int64(len(c.Data))
	}
	return nil
}
