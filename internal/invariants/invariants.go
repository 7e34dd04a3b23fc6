// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package invariants

import "github.com/cockroachdb/errors"

// Reporter receives assertion failures in builds without invariants.
type Reporter interface {
	Errorf(format string, args ...interface{})
}

// Failf reports a broken internal assertion. It panics with an assertion
// failure error if we were built with the "invariants" or "race" build tags
// and logs through r otherwise.
func Failf(r Reporter, format string, args ...interface{}) {
	if Enabled {
		panic(errors.AssertionFailedf(format, args...))
	}
	if r != nil {
		r.Errorf("assertion failed: "+format, args...)
	}
}
