// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package replication

import (
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/record"
)

// ThrottledSink paces the writes passed to another sink to a byte rate. A
// write larger than one second's worth of bytes is let through once the
// bucket is full and puts the bucket into debt.
//
// Pacing happens on the master's write path, so a slow replication stream
// slows down the master's flushes rather than buffering without bound.
type ThrottledSink struct {
	next record.Sink

	mu struct {
		sync.Mutex
		limiter tokenbucket.TokenBucket
		// waited is the total time spent waiting for tokens.
		waited time.Duration
	}
	sleep func(time.Duration)
}

var _ record.Sink = (*ThrottledSink)(nil)

// NewThrottledSink returns a sink that passes writes to next at no more than
// bytesPerSecond.
func NewThrottledSink(next record.Sink, bytesPerSecond int64) *ThrottledSink {
	return newThrottledSink(next, bytesPerSecond, time.Now, time.Sleep)
}

func newThrottledSink(
	next record.Sink, bytesPerSecond int64, nowFn func() time.Time, sleep func(time.Duration),
) *ThrottledSink {
	s := &ThrottledSink{next: next, sleep: sleep}
	s.mu.limiter.InitWithNowFn(
		tokenbucket.TokensPerSecond(bytesPerSecond), tokenbucket.Tokens(bytesPerSecond), nowFn)
	return s
}

// AppendLog implements record.Sink.
func (s *ThrottledSink) AppendLog(highest rawlog.LogInstant, p []byte) error {
	s.mu.Lock()
	for {
		ok, d := s.mu.limiter.TryToFulfill(tokenbucket.Tokens(len(p)))
		if ok {
			break
		}
		s.mu.waited += d
		s.sleep(d)
	}
	s.mu.Unlock()
	return s.next.AppendLog(highest, p)
}

// Waited returns the total time writes have been held back.
func (s *ThrottledSink) Waited() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.waited
}
