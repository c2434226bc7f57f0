// Package kafka provides a forwarding sink that produces normalized records
// to a Kafka topic using franz-go. It is meant as a secondary sink next to
// the CSV file: downstream consumers get the canonical record without
// polling the file.
package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
	"farmbridge/internal/sink"
)

const sinkType = "kafka"

// defaultTimeout bounds one produce; Append holds up the delivery goroutine
// for at most this long.
const defaultTimeout = time.Second

// Config holds Kafka sink configuration.
type Config struct {
	Brokers []string
	Topic   string
	Timeout time.Duration // per-record produce timeout, default 1s
	Logger  *slog.Logger
}

// Sink produces one Kafka record per appended record, keyed by sensor id.
type Sink struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ sink.Sink = (*Sink)(nil)

// New creates the producer client. No connection is made until the first
// Append.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}
	cfg.Timeout = cmp.Or(cfg.Timeout, defaultTimeout)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, sink.Wrap(sinkType, cfg.Topic, fmt.Errorf("kafka client: %w", err))
	}

	logger := logging.Default(cfg.Logger).With("component", "sink", "type", sinkType, "topic", cfg.Topic)
	logger.Info("kafka sink created", "brokers", cfg.Brokers)

	return &Sink{cfg: cfg, client: client, logger: logger}, nil
}

// Encode renders rec as the JSON value sent to Kafka, keyed by column name.
func Encode(rec record.Record) ([]byte, error) {
	fields := rec.Fields()
	m := make(map[string]string, len(record.Columns))
	for i, col := range record.Columns {
		m[col] = fields[i]
	}
	return json.Marshal(m)
}

// Append produces rec synchronously and waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return sink.Wrap(sinkType, s.cfg.Topic, sink.ErrClosed)
	}

	value, err := Encode(rec)
	if err != nil {
		return sink.Wrap(sinkType, s.cfg.Topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	r := &kgo.Record{Key: []byte(rec.SensorID), Value: value}
	if err := s.client.ProduceSync(ctx, r).FirstErr(); err != nil {
		return sink.Wrap(sinkType, s.cfg.Topic, err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	err := s.client.Flush(ctx)
	s.client.Close()
	s.logger.Info("kafka sink closed")
	return sink.Wrap(sinkType, s.cfg.Topic, err)
}

// Factory parameter keys.
const (
	ParamBrokers = "brokers"
	ParamTopic   = "topic"
	ParamTimeout = "timeout"
)

// NewFactory returns a factory for Kafka forwarding sinks.
func NewFactory() sink.Factory {
	return func(params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		brokers := params[ParamBrokers]
		if brokers == "" {
			return nil, fmt.Errorf("kafka sink: brokers param is required")
		}
		topic := params[ParamTopic]
		if topic == "" {
			return nil, fmt.Errorf("kafka sink: topic param is required")
		}

		var timeout time.Duration
		if v := params[ParamTimeout]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("kafka sink: invalid timeout %q: %w", v, err)
			}
			if d <= 0 {
				return nil, fmt.Errorf("kafka sink: timeout must be positive")
			}
			timeout = d
		}

		return New(Config{
			Brokers: SplitBrokers(brokers),
			Topic:   topic,
			Timeout: timeout,
			Logger:  logger,
		})
	}
}

// SplitBrokers splits a comma-separated broker list, trimming blanks.
func SplitBrokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
