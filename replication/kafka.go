// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package replication

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rawstore/rawlog"
	"github.com/rawstore/rawlog/record"
	"github.com/segmentio/kafka-go"
)

// DefaultKafkaWriteTimeout bounds a single write to Kafka.
const DefaultKafkaWriteTimeout = 10 * time.Second

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader used by Receiver.Consume.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes each write of a master as a Kafka message. The key is
// the big-endian instant of the last record in the write and the value the
// bytes written. A topic with a single partition preserves the order of the
// writes.
type KafkaSink struct {
	w       MessageWriter
	timeout time.Duration
}

var _ record.Sink = (*KafkaSink)(nil)

// NewKafkaSink returns a sink publishing to topic on the given brokers. Each
// write waits for all in-sync replicas to acknowledge the message.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

// NewKafkaSinkWithWriter returns a sink publishing through w.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w, timeout: DefaultKafkaWriteTimeout}
}

// AppendLog implements record.Sink. It blocks until the message is
// acknowledged.
func (s *KafkaSink) AppendLog(highest rawlog.LogInstant, p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	msg := kafka.Message{Key: encodeInstant(highest), Value: p}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "rawlog: publishing write ending at %s", highest)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func encodeInstant(i rawlog.LogInstant) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return b[:]
}

func decodeInstant(b []byte) (rawlog.LogInstant, error) {
	if len(b) != 8 {
		return rawlog.InvalidLogInstant, errors.Newf("rawlog: bad message key of %d bytes", len(b))
	}
	return rawlog.LogInstant(binary.BigEndian.Uint64(b)), nil
}

// NewKafkaReader returns a reader of the messages a KafkaSink publishes to
// topic, for use with Receiver.Consume.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
}
