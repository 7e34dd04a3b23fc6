// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rawlog

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/rawstore/rawlog/vfs"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	l, err := Open("db", testOptions(vfs.NewMem()))
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Close()) }()

	for _, s := range []string{"alpha", "beta"} {
		_, err := l.Append([]byte(s), nil)
		require.NoError(t, err)
	}
	require.NoError(t, l.FlushAll())

	m := l.Metrics()
	require.EqualValues(t, 2, m.Appends)
	require.EqualValues(t, 9, m.BytesAppended)
	require.EqualValues(t, 1, m.Flushes)
	require.Equal(t, MakeLogInstant(1, 94), m.End)
	require.Equal(t, m.End, m.Synced)
	require.Contains(t, m.String(), "file 000001 end (1,94) synced (1,94) corrupt false\n")
	require.Contains(t, m.String(), "appends 2 (9 bytes) flushes 1 switches 0\n")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(l.Collector()))
	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*prometheusgo.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}
	value := func(name string) float64 {
		f, ok := byName[name]
		require.True(t, ok, "missing %s", name)
		require.Len(t, f.Metric, 1)
		if c := f.Metric[0].Counter; c != nil {
			return c.GetValue()
		}
		return f.Metric[0].Gauge.GetValue()
	}
	require.EqualValues(t, 2, value("rawlog_appends_total"))
	require.EqualValues(t, 9, value("rawlog_appended_bytes_total"))
	require.EqualValues(t, 1, value("rawlog_flushes_total"))
	require.EqualValues(t, 94, value("rawlog_end_position_bytes"))
	require.EqualValues(t, 1, value("rawlog_file_number"))
	require.EqualValues(t, 70, value("rawlog_written_bytes_total"))

	h, ok := byName["rawlog_fsync_latency_nanoseconds"]
	require.True(t, ok)
	require.GreaterOrEqual(t, h.Metric[0].Histogram.GetSampleCount(), uint64(1))
}
