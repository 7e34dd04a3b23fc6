// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC(t *testing.T) {
	// Well known check value for CRC-32C.
	require.Equal(t, uint32(0xe3069283), New([]byte("123456789")).Value())

	// Accumulating in pieces matches a single pass.
	c := New([]byte("1234")).Update([]byte("56789"))
	require.Equal(t, New([]byte("123456789")), c)

	require.Equal(t, uint32(0), New(nil).Value())
}
