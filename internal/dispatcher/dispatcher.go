// Package dispatcher turns inbound broker messages into persisted records.
//
// Each message is normalized and appended to the sink. Rejected payloads
// and sink failures are logged and counted; nothing propagates back to the
// caller, so one bad message or a failing disk never stops the delivery
// loop.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
	"farmbridge/internal/sink"
	"farmbridge/internal/supervisor"
)

// Defaults for the reject warning limiter.
const (
	DefaultRejectLogRate  = rate.Limit(10)
	DefaultRejectLogBurst = 20

	// maxLoggedPayload is how many payload bytes a reject warning includes.
	maxLoggedPayload = 256
)

// Outcome is the result of dispatching one message.
type Outcome int

const (
	Written Outcome = iota
	Rejected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return "written"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Appender persists one record.
type Appender interface {
	Append(ctx context.Context, rec record.Record) error
}

// Stats receives per-message counters.
type Stats interface {
	MessageReceived()
	RecordWritten()
	MessageRejected(reason string)
	AppendFailed()
}

type nopStats struct{}

func (nopStats) MessageReceived()       {}
func (nopStats) RecordWritten()         {}
func (nopStats) MessageRejected(string) {}
func (nopStats) AppendFailed()          {}

// Config holds dispatcher dependencies.
type Config struct {
	Sink       Appender
	Normalizer *record.Normalizer // default record.NewNormalizer()
	Stats      Stats              // optional

	// RejectLogRate and RejectLogBurst limit reject warnings. Suppressed
	// warnings are counted and reported with the next emitted one.
	RejectLogRate  rate.Limit
	RejectLogBurst int

	Logger *slog.Logger
}

// Dispatcher routes messages to the sink.
type Dispatcher struct {
	sink       Appender
	normalizer *record.Normalizer
	stats      Stats
	logger     *slog.Logger

	rejectLimiter *rate.Limiter
	suppressed    atomic.Int64
}

var _ supervisor.MessageHandler = (*Dispatcher)(nil)

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Normalizer == nil {
		cfg.Normalizer = record.NewNormalizer()
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStats{}
	}
	if cfg.RejectLogRate == 0 {
		cfg.RejectLogRate = DefaultRejectLogRate
	}
	if cfg.RejectLogBurst <= 0 {
		cfg.RejectLogBurst = DefaultRejectLogBurst
	}
	return &Dispatcher{
		sink:          cfg.Sink,
		normalizer:    cfg.Normalizer,
		stats:         cfg.Stats,
		logger:        logging.Default(cfg.Logger).With("component", "dispatcher"),
		rejectLimiter: rate.NewLimiter(cfg.RejectLogRate, cfg.RejectLogBurst),
	}
}

// HandleMessage dispatches message events and ignores all others.
func (d *Dispatcher) HandleMessage(ctx context.Context, ev supervisor.Event) {
	if ev.Kind != supervisor.EventMessage {
		return
	}
	d.Dispatch(ctx, ev.Topic, ev.Payload)
}

// Dispatch normalizes payload and appends the record. It never panics;
// a panic in a collaborator is recovered and reported as Failed.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while dispatching message", "topic", topic, "panic", fmt.Sprint(r))
			d.stats.AppendFailed()
			out = Failed
		}
	}()

	d.stats.MessageReceived()

	rec, err := d.normalizer.Normalize(payload)
	if err != nil {
		d.reject(topic, payload, err)
		return Rejected
	}

	if err := d.sink.Append(ctx, rec); err != nil {
		d.stats.AppendFailed()
		attrs := []any{"topic", topic, "sensor_id", rec.SensorID, "error", err}
		var se *sink.Error
		if errors.As(err, &se) {
			attrs = append(attrs, "sink", se.Sink, "path", se.Path)
		}
		d.logger.Error("append failed, message dropped", attrs...)
		return Failed
	}

	d.stats.RecordWritten()
	d.logger.Debug("record written", "topic", topic, "sensor_id", rec.SensorID)
	return Written
}

func (d *Dispatcher) reject(topic string, payload []byte, err error) {
	reason := "parse"
	var re *record.RejectError
	if errors.As(err, &re) {
		reason = re.Reason()
	}
	d.stats.MessageRejected(reason)

	if !d.rejectLimiter.Allow() {
		d.suppressed.Add(1)
		return
	}
	attrs := []any{
		"topic", topic,
		"reason", reason,
		"payload", logging.Truncate(string(payload), maxLoggedPayload),
	}
	if n := d.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, "suppressed", n)
	}
	d.logger.Warn("message rejected", attrs...)
}
