// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"github.com/cockroachdb/redact"
)

// LogCreateInfo contains info about a log file creation event.
type LogCreateInfo struct {
	// Path is the location of the file.
	Path    string
	FileNum FileNum
	// PrevEnd is the end of the previous log file, or InvalidLogInstant for
	// the first file of a log.
	PrevEnd LogInstant
	Err     error
}

func (i LogCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i LogCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[LOG] log file %s create error: %s", i.FileNum, i.Err)
		return
	}
	w.Printf("[LOG] created log file %s (previous end %s)", i.FileNum, i.PrevEnd)
}

// LogRecoveryInfo contains info about the recovery of the last log file
// when a log is opened.
type LogRecoveryInfo struct {
	Path    string
	FileNum FileNum
	// Size is the size of the file before recovery.
	Size int64
	// KnownGoodEnd is the offset following the last intact record. The file
	// is truncated there.
	KnownGoodEnd int64
	// Records is the number of intact data records.
	Records int
	// SawEndMarker is true if the file ended with an end marker.
	SawEndMarker bool
	// Err is the corruption that ended the scan, if any.
	Err error
}

func (i LogRecoveryInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i LogRecoveryInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[LOG] recovered log file %s: %d records, %d/%d bytes intact",
		i.FileNum, redact.Safe(i.Records), redact.Safe(i.KnownGoodEnd), redact.Safe(i.Size))
	if i.Err != nil {
		w.Printf("; truncated: %s", i.Err)
	}
}

// LogCorruptInfo contains info about a log being marked corrupt.
type LogCorruptInfo struct {
	FileNum FileNum
	// End is the end of the log when it was marked corrupt.
	End LogInstant
	Err error
}

func (i LogCorruptInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i LogCorruptInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[LOG] log marked corrupt at %s: %s", i.End, i.Err)
}

// EventListener contains a set of functions that will be invoked when
// various significant log events occur. Note that the functions should not
// run for an excessive amount of time as they are invoked synchronously by
// the log, sometimes with internal locks held.
type EventListener struct {
	// LogCreated is invoked after a log file has been created.
	LogCreated func(LogCreateInfo)

	// LogRecovered is invoked after the last log file has been scanned on
	// open.
	LogRecovered func(LogRecoveryInfo)

	// LogCorrupted is invoked when the log is marked corrupt, either
	// explicitly or after an unrecoverable write error.
	LogCorrupted func(LogCorruptInfo)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.LogCorrupted == nil {
		if logger != nil {
			l.LogCorrupted = func(info LogCorruptInfo) {
				logger.Errorf("%s", info)
			}
		} else {
			l.LogCorrupted = func(LogCorruptInfo) {}
		}
	}
	if l.LogCreated == nil {
		l.LogCreated = func(LogCreateInfo) {}
	}
	if l.LogRecovered == nil {
		l.LogRecovered = func(LogRecoveryInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}

	return EventListener{
		LogCreated: func(info LogCreateInfo) {
			logger.Infof("%s", info)
		},
		LogRecovered: func(info LogRecoveryInfo) {
			logger.Infof("%s", info)
		},
		LogCorrupted: func(info LogCorruptInfo) {
			logger.Errorf("%s", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		LogCreated: func(info LogCreateInfo) {
			a.LogCreated(info)
			b.LogCreated(info)
		},
		LogRecovered: func(info LogRecoveryInfo) {
			a.LogRecovered(info)
			b.LogRecovered(info)
		},
		LogCorrupted: func(info LogCorruptInfo) {
			a.LogCorrupted(info)
			b.LogCorrupted(info)
		},
	}
}
