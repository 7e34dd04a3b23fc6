// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/record"
	"github.com/rawstore/rawlog/replication"
	"github.com/rawstore/rawlog/vfs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchConfig struct {
	concurrency   int
	duration      time.Duration
	minRecordSize int
	maxRecordSize int
	// flushEvery is the number of appends between flushes of each worker.
	flushEvery        int
	bufferSize        int
	logSwitchInterval int64
	wipe              bool
	verbose           bool
	metricsAddr       string

	// Replication.
	slaveDir      string
	kafkaBrokers  string
	kafkaTopic    string
	replicateRate int64
}

func newBenchCmd() *cobra.Command {
	var c benchConfig
	cmd := &cobra.Command{
		Use:   "bench <dir>",
		Short: "run the append/flush benchmark",
		Long: `
Run concurrent workers appending records to the log in the directory, each
flushing its own records every --flush-every appends. The latency of each
append, including its flush if any, is reported once per second.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), cmd.OutOrStdout(), args[0], c)
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&c.concurrency, "concurrency", "c", 1, "number of concurrent workers")
	flags.DurationVarP(&c.duration, "duration", "d", 10*time.Second, "the duration to run (0, run forever)")
	flags.IntVar(&c.minRecordSize, "min-record-size", 60, "minimum record payload size")
	flags.IntVar(&c.maxRecordSize, "max-record-size", 80, "maximum record payload size")
	flags.IntVar(&c.flushEvery, "flush-every", 1, "appends between flushes (0, never flush)")
	flags.IntVar(&c.bufferSize, "buffer-size", record.DefaultBufferSize, "log buffer size")
	flags.Int64Var(&c.logSwitchInterval, "log-switch-interval", rawlog.DefaultLogSwitchInterval,
		"log file size that triggers a switch after a flush")
	flags.BoolVarP(&c.wipe, "wipe", "w", false, "wipe the directory before starting")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose event logging")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.StringVar(&c.slaveDir, "slave-dir", "", "replicate to a slave log in this directory")
	flags.StringVar(&c.kafkaBrokers, "kafka-brokers", "", "comma separated brokers to replicate to")
	flags.StringVar(&c.kafkaTopic, "kafka-topic", "rawlog", "topic to replicate to")
	flags.Int64Var(&c.replicateRate, "replicate-rate", 0, "replication bytes/sec limit (0, unlimited)")
	return cmd
}

func runBench(ctx context.Context, stdout io.Writer, dir string, c benchConfig) (err error) {
	if c.concurrency < 1 {
		return errors.Newf("invalid concurrency %d", c.concurrency)
	}
	if c.minRecordSize < 1 || c.maxRecordSize < c.minRecordSize {
		return errors.Newf("invalid record size range [%d,%d]", c.minRecordSize, c.maxRecordSize)
	}
	if c.wipe {
		fmt.Fprintf(stdout, "wiping %s\n", dir)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "dir %s\nconcurrency %d\n", dir, c.concurrency)

	opts := &rawlog.Options{
		FS:                vfs.Default,
		BufferSize:        c.bufferSize,
		LogSwitchInterval: c.logSwitchInterval,
	}
	if c.verbose {
		el := rawlog.MakeLoggingEventListener(nil)
		opts.EventListener = &el
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.CombineErrors(err, closers[i]())
		}
	}()

	var sink record.Sink
	switch {
	case c.slaveDir != "":
		slave, err := rawlog.Open(c.slaveDir, &rawlog.Options{
			FS:          vfs.Default,
			Replication: record.ReplicationSlave{},
		})
		if err != nil {
			return err
		}
		closers = append(closers, slave.Close)
		sink = replication.NewReceiver(slave)
	case c.kafkaBrokers != "":
		k := replication.NewKafkaSink(strings.Split(c.kafkaBrokers, ","), c.kafkaTopic)
		closers = append(closers, k.Close)
		sink = k
	}
	if sink != nil {
		if c.replicateRate > 0 {
			sink = replication.NewThrottledSink(sink, c.replicateRate)
		}
		opts.Replication = record.ReplicationMaster{Sink: sink}
	}

	l, err := rawlog.Open(dir, opts)
	if err != nil {
		return err
	}
	closers = append(closers, l.Close)

	if c.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(l.Collector())
		srv := &http.Server{
			Addr:    c.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		closers = append(closers, srv.Close)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if c.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.duration)
		defer cancel()
	}

	reg := newHistogramRegistry()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.concurrency; i++ {
		latency := reg.Register("append")
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			return benchWorker(gctx, l, c, latency, rand.New(rand.NewSource(seed)))
		})
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	for i := 0; ; i++ {
		select {
		case <-ticker.C:
			if i%20 == 0 {
				fmt.Fprintln(stdout, "_elapsed____ops/sec__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
			}
			elapsed := time.Since(start)
			reg.Tick(func(tick histogramTick) {
				h := tick.Hist
				fmt.Fprintf(stdout, "%8s %10.1f %8.1f %8.1f %8.1f %8.1f\n",
					time.Duration(elapsed.Seconds()+0.5)*time.Second,
					float64(h.TotalCount())/tick.Elapsed.Seconds(),
					time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(100)).Seconds()*1000,
				)
			})

		case err := <-done:
			elapsed := time.Since(start)
			fmt.Fprintln(stdout, "\n_elapsed_____ops(total)___ops/sec(cum)__avg(ms)__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
			reg.Tick(func(tick histogramTick) {
				h := tick.Cumulative
				fmt.Fprintf(stdout, "%7.1fs %14d %14.1f %8.1f %8.1f %8.1f %8.1f %8.1f\n\n",
					elapsed.Seconds(), h.TotalCount(),
					float64(h.TotalCount())/elapsed.Seconds(),
					time.Duration(h.Mean()).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
					time.Duration(h.ValueAtQuantile(100)).Seconds()*1000)
			})
			if err := l.FlushAll(); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s", l.Metrics())
			return err
		}
	}
}

func benchWorker(
	ctx context.Context,
	l *rawlog.Log,
	c benchConfig,
	latency *namedHistogram,
	rng *rand.Rand,
) error {
	data := make([]byte, c.maxRecordSize)
	for i := 1; ; i++ {
		if ctx.Err() != nil {
			return nil
		}
		n := c.minRecordSize
		if c.maxRecordSize > c.minRecordSize {
			n += rng.Intn(c.maxRecordSize - c.minRecordSize + 1)
		}
		rng.Read(data[:n])

		start := time.Now()
		instant, err := l.Append(data[:n], nil)
		if err != nil {
			return err
		}
		if c.flushEvery > 0 && i%c.flushEvery == 0 {
			if err := l.Flush(instant); err != nil {
				return err
			}
		}
		latency.Record(time.Since(start))
	}
}
