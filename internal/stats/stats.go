// Package stats counts bridge activity and exposes it as Prometheus metrics,
// a periodic log summary and a /metrics endpoint.
package stats

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "farmbridge"

// Reject reasons reported by the dispatcher.
const (
	ReasonDecode = "decode"
	ReasonParse  = "parse"
)

// Counters holds lock-free bridge counters. The zero value is ready to use.
type Counters struct {
	received       atomic.Int64
	written        atomic.Int64
	rejectedDecode atomic.Int64
	rejectedParse  atomic.Int64
	appendFailures atomic.Int64
	dropped        atomic.Int64
	reconnects     atomic.Int64
	connected      atomic.Bool
}

// MessageReceived counts an inbound message.
func (c *Counters) MessageReceived() { c.received.Add(1) }

// RecordWritten counts a record persisted by the primary sink.
func (c *Counters) RecordWritten() { c.written.Add(1) }

// MessageRejected counts a payload that could not be normalized.
func (c *Counters) MessageRejected(reason string) {
	if reason == ReasonDecode {
		c.rejectedDecode.Add(1)
		return
	}
	c.rejectedParse.Add(1)
}

// AppendFailed counts a failed sink append.
func (c *Counters) AppendFailed() { c.appendFailures.Add(1) }

// MessageDropped counts a message dropped before dispatch.
func (c *Counters) MessageDropped() { c.dropped.Add(1) }

// Reconnected counts a reconnect cycle started after a lost session.
func (c *Counters) Reconnected() { c.reconnects.Add(1) }

// SetConnected records whether the broker session is up.
func (c *Counters) SetConnected(up bool) { c.connected.Store(up) }

// Connected reports the last value passed to SetConnected.
func (c *Counters) Connected() bool { return c.connected.Load() }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Received       int64
	Written        int64
	RejectedDecode int64
	RejectedParse  int64
	AppendFailures int64
	Dropped        int64
	Reconnects     int64
	Connected      bool
}

// Rejected returns the total number of rejected payloads.
func (s Snapshot) Rejected() int64 { return s.RejectedDecode + s.RejectedParse }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:       c.received.Load(),
		Written:        c.written.Load(),
		RejectedDecode: c.rejectedDecode.Load(),
		RejectedParse:  c.rejectedParse.Load(),
		AppendFailures: c.appendFailures.Load(),
		Dropped:        c.dropped.Load(),
		Reconnects:     c.reconnects.Load(),
		Connected:      c.connected.Load(),
	}
}

// Collectors returns Prometheus collectors reading the counters.
func (c *Counters) Collectors() []prometheus.Collector {
	counter := func(name, help string, labels prometheus.Labels, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v.Load()) })
	}
	return []prometheus.Collector{
		counter("messages_received_total", "Messages received from the broker.", nil, &c.received),
		counter("records_written_total", "Records appended to the primary sink.", nil, &c.written),
		counter("messages_rejected_total", "Payloads that could not be normalized.",
			prometheus.Labels{"reason": ReasonDecode}, &c.rejectedDecode),
		counter("messages_rejected_total", "Payloads that could not be normalized.",
			prometheus.Labels{"reason": ReasonParse}, &c.rejectedParse),
		counter("append_failures_total", "Sink appends that failed.", nil, &c.appendFailures),
		counter("messages_dropped_total", "Messages dropped because the inflight queue was full or closed.", nil, &c.dropped),
		counter("reconnects_total", "Reconnect cycles started after a lost broker session.", nil, &c.reconnects),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 when the broker session is connected, 0 otherwise.",
		}, func() float64 {
			if c.connected.Load() {
				return 1
			}
			return 0
		}),
	}
}

// NewRegistry returns a Prometheus registry holding the counters' collectors
// plus the Go runtime and process collectors.
func NewRegistry(c *Counters) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := append(c.Collectors(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var errs []error
	for _, col := range cs {
		if err := reg.Register(col); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}
