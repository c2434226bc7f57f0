// Package bridge wires the broker session, dispatcher, sinks and stats into
// a running process and owns the shutdown order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"farmbridge/internal/broker"
	"farmbridge/internal/config"
	"farmbridge/internal/dispatcher"
	"farmbridge/internal/logging"
	"farmbridge/internal/sink"
	"farmbridge/internal/sink/file"
	"farmbridge/internal/sink/kafka"
	"farmbridge/internal/sink/sqlite"
	"farmbridge/internal/stats"
	"farmbridge/internal/supervisor"
)

// ErrShutdownTimeout marks a shutdown step that overran its bound. It is
// logged, never returned from Run.
var ErrShutdownTimeout = errors.New("shutdown timed out")

// Sink types in the factory registry.
const (
	SinkCSV    = "csv"
	SinkSQLite = "sqlite"
	SinkKafka  = "kafka"
)

// disconnectQuiesce is how long the transport may finish pending work on
// disconnect.
const disconnectQuiesce = 250 * time.Millisecond

// DefaultSinkFactories returns the built-in sink registry.
func DefaultSinkFactories() map[string]sink.Factory {
	return map[string]sink.Factory{
		SinkCSV:    file.NewFactory(),
		SinkSQLite: sqlite.NewFactory(),
		SinkKafka:  kafka.NewFactory(),
	}
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithTransport replaces the MQTT transport.
func WithTransport(t supervisor.Transport) Option {
	return func(b *Bridge) { b.transport = t }
}

// WithSinkFactories replaces the sink factory registry.
func WithSinkFactories(f map[string]sink.Factory) Option {
	return func(b *Bridge) { b.factories = f }
}

// Bridge is the running bridge process.
type Bridge struct {
	cfg    config.Config
	runID  string
	logger *slog.Logger

	factories map[string]sink.Factory
	transport supervisor.Transport

	counters   *stats.Counters
	sink       sink.Sink
	dispatcher *dispatcher.Dispatcher
	supervisor *supervisor.Supervisor
	reporter   *stats.Reporter
	metrics    *stats.Server
}

// New validates cfg and builds every component. Sinks are opened here so
// a bad output path fails before any broker traffic.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.NewString()
	b := &Bridge{
		cfg:       cfg,
		runID:     runID,
		logger:    logging.Default(logger).With("run_id", runID),
		factories: DefaultSinkFactories(),
		counters:  &stats.Counters{},
	}
	for _, opt := range opts {
		opt(b)
	}

	out, err := b.openSinks()
	if err != nil {
		return nil, err
	}
	b.sink = out

	if err := b.build(); err != nil {
		if cerr := out.Close(); cerr != nil {
			b.logger.Warn("closing sinks after failed start", "error", cerr)
		}
		return nil, err
	}
	return b, nil
}

func (b *Bridge) build() error {
	bc := b.cfg.Broker
	if b.transport == nil {
		t, err := broker.New(broker.Config{
			URL:         bc.BrokerURL(),
			ClientID:    bc.ClientID,
			Username:    bc.Username,
			Password:    bc.Password,
			TLS:         bc.TLS,
			KeepAlive:   bc.KeepAlive.D(),
			StatusTopic: bc.StatusTopic,
			Logger:      b.logger,
		})
		if err != nil {
			return fmt.Errorf("create transport: %w", err)
		}
		b.transport = t
	}

	b.dispatcher = dispatcher.New(dispatcher.Config{
		Sink:   b.sink,
		Stats:  b.counters,
		Logger: b.logger,
	})

	b.supervisor = supervisor.New(supervisor.Config{
		Transport:     b.transport,
		Handler:       b.dispatcher,
		Topic:         bc.Topic,
		QoS:           byte(bc.QoS),
		MinDelay:      bc.ReconnectMin.D(),
		MaxDelay:      bc.ReconnectMax.D(),
		MaxAttempts:   bc.ConnectAttempts,
		MaxInflight:   bc.MaxInflight,
		Quiesce:       disconnectQuiesce,
		DrainTimeout:  b.cfg.ShutdownTimeout.D(),
		OnStateChange: b.onStateChange,
		OnDrop:        func(supervisor.Event) { b.counters.MessageDropped() },
		Logger:        b.logger,
	})

	if b.cfg.StatsInterval > 0 {
		reporter, err := stats.NewReporter(b.counters, b.cfg.StatsInterval.D(), b.logger)
		if err != nil {
			return err
		}
		b.reporter = reporter
	}

	if b.cfg.MetricsAddr != "" {
		reg, err := stats.NewRegistry(b.counters)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		b.metrics = stats.NewServer(b.cfg.MetricsAddr, reg, b.counters.Connected, b.logger)
	}
	return nil
}

// openSinks opens the CSV sink and any configured secondary sinks.
func (b *Bridge) openSinks() (sink.Sink, error) {
	type sinkDef struct {
		kind   string
		params map[string]string
	}
	out := b.cfg.Output
	defs := []sinkDef{{SinkCSV, map[string]string{file.ParamPath: out.CSVPath}}}
	if out.SQLitePath != "" {
		defs = append(defs, sinkDef{SinkSQLite, map[string]string{sqlite.ParamPath: out.SQLitePath}})
	}
	if len(out.KafkaBrokers) > 0 {
		defs = append(defs, sinkDef{SinkKafka, map[string]string{
			kafka.ParamBrokers: strings.Join(out.KafkaBrokers, ","),
			kafka.ParamTopic:   out.KafkaTopic,
		}})
	}

	var opened []sink.Sink
	closeAll := func() {
		for _, s := range opened {
			_ = s.Close()
		}
	}
	for _, sp := range defs {
		factory, ok := b.factories[sp.kind]
		if !ok {
			closeAll()
			return nil, fmt.Errorf("no factory for sink type %q", sp.kind)
		}
		s, err := factory(sp.params, b.logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open %s sink: %w", sp.kind, err)
		}
		opened = append(opened, s)
		b.logger.Info("sink opened", "type", sp.kind)
	}

	m := sink.NewMulti(b.logger, opened[0], opened[1:]...)
	m.OnSecondaryError = func(error) { b.counters.AppendFailed() }
	return m, nil
}

func (b *Bridge) onStateChange(from, to supervisor.State) {
	b.counters.SetConnected(to == supervisor.Connected)
	if from == supervisor.Connected && to == supervisor.Connecting {
		b.counters.Reconnected()
	}
}

// Counters returns the bridge counters.
func (b *Bridge) Counters() *stats.Counters { return b.counters }

// State returns the broker session state.
func (b *Bridge) State() supervisor.State { return b.supervisor.State() }

// Run blocks until ctx is cancelled or the first connection is abandoned.
// Shutdown stops intake, lets queued appends finish, disconnects the
// session and then closes the sinks, each step bounded by the configured
// shutdown timeout. A step that overruns is logged and does not make Run
// fail; only ErrAttemptsExhausted or a failed metrics listener do.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge starting",
		"broker", b.cfg.Broker.BrokerURL(),
		"topic", b.cfg.Broker.Topic,
		"client_id", b.cfg.Broker.ClientID,
		"out", b.cfg.Output.CSVPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	// Auxiliary services outlive the session so the final summary and
	// scrape see the drained counters.
	auxCtx, stopAux := context.WithCancel(context.WithoutCancel(gctx))
	defer stopAux()

	g.Go(func() error {
		defer stopAux()
		err := b.supervisor.Run(gctx)
		if errors.Is(err, supervisor.ErrAttemptsExhausted) {
			return err
		}
		if errors.Is(err, supervisor.ErrDrainTimeout) {
			b.logger.Warn("session shutdown forced", "error", fmt.Errorf("%w: %w", ErrShutdownTimeout, err))
			return nil
		}
		return err
	})
	if b.reporter != nil {
		g.Go(func() error { return b.reporter.Run(auxCtx) })
	}
	if b.metrics != nil {
		g.Go(func() error { return b.metrics.Run(auxCtx) })
	}

	err := g.Wait()
	b.closeSinks()

	if err != nil {
		b.logger.Error("bridge stopped", "error", err)
		return err
	}
	b.logger.Info("bridge stopped")
	return nil
}

// closeSinks closes the sinks, giving up after the shutdown timeout.
func (b *Bridge) closeSinks() {
	done := make(chan error, 1)
	go func() { done <- b.sink.Close() }()

	timeout := b.cfg.ShutdownTimeout.D()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			b.logger.Error("closing sinks", "error", err)
		}
	case <-t.C:
		b.logger.Warn("sinks did not close in time", "error", fmt.Errorf("%w: closing sinks", ErrShutdownTimeout), "timeout", timeout)
	}
}

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
