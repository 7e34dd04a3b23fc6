// Copyright 2021 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatMajorVersion(t *testing.T) {
	require.Equal(t, "001", FormatMostCompatible.String())
	require.Equal(t, "002", FormatChecksums.String())
	require.False(t, FormatMostCompatible.checksums())
	require.True(t, FormatNewest.checksums())

	require.Error(t, FormatDefault.validate())
	require.Error(t, (FormatNewest + 1).validate())
	for v := FormatMostCompatible; v <= FormatNewest; v++ {
		require.NoError(t, v.validate())
	}
}
