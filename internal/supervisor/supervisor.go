// Package supervisor owns the broker session lifecycle: connecting with
// exponential backoff, subscribing, reconnecting after a lost session and
// tearing everything down in order on shutdown.
//
// The supervisor is driven by a single event handler. The transport reports
// connection loss and inbound messages as Events; messages are placed on a
// bounded queue and delivered to the MessageHandler by one goroutine, so
// arrival order is preserved and a slow handler never blocks the network
// goroutine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"farmbridge/internal/logging"
)

var (
	// ErrAttemptsExhausted is returned by Run when the first connection
	// could not be established within MaxAttempts tries.
	ErrAttemptsExhausted = errors.New("connect attempts exhausted")

	// ErrDrainTimeout is returned by Run when queued messages or the
	// transport disconnect did not finish within DrainTimeout.
	ErrDrainTimeout = errors.New("shutdown drain timed out")
)

const (
	defaultMaxInflight  = 20
	defaultQuiesce      = 250 * time.Millisecond
	defaultDrainTimeout = 5 * time.Second
)

// Config holds supervisor settings.
type Config struct {
	Transport Transport
	Handler   MessageHandler

	Topic string
	QoS   byte

	// MinDelay and MaxDelay bound the reconnect backoff.
	MinDelay time.Duration
	MaxDelay time.Duration

	// MaxAttempts caps connection attempts before the first successful
	// connect. Zero means unbounded. Reconnects after a lost session are
	// always unbounded.
	MaxAttempts int

	// MaxInflight bounds the number of received messages waiting for the
	// handler. Messages arriving while the queue is full are dropped.
	MaxInflight int

	// Quiesce is passed to Transport.Disconnect.
	Quiesce time.Duration

	// DrainTimeout bounds each shutdown step.
	DrainTimeout time.Duration

	// OnStateChange is called after every transition. Optional.
	OnStateChange func(from, to State)

	// OnDrop is called for every message dropped by the queue. Optional.
	OnDrop func(ev Event)

	Logger *slog.Logger
}

// Supervisor runs the connection state machine.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	backoff Backoff

	mu         sync.Mutex
	state      State
	attempt    int
	reconnects int
	closed     bool
	queue      chan Event
	lost       chan error
	changed    *broadcast

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor and installs its handler on the transport.
func New(cfg Config) *Supervisor {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if cfg.Quiesce <= 0 {
		cfg.Quiesce = defaultQuiesce
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	s := &Supervisor{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "supervisor"),
		backoff: Backoff{Min: cfg.MinDelay, Max: cfg.MaxDelay},
		state:   Disconnected,
		queue:   make(chan Event, cfg.MaxInflight),
		lost:    make(chan error, 1),
		changed: newBroadcast(),
		sleep:   sleepCtx,
	}
	cfg.Transport.SetHandler(s.handle)
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the number of the current (or last) connect attempt
// within the ongoing connect phase.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Reconnects returns how many times a lost session was re-established.
func (s *Supervisor) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Watch returns a channel that is closed on the next state transition.
// Callers re-call Watch after each wakeup.
func (s *Supervisor) Watch() <-chan struct{} {
	return s.changed.C()
}

// Run drives the state machine until ctx is cancelled or the first
// connection fails MaxAttempts times. On cancellation it stops accepting
// messages, delivers what is already queued, disconnects the transport and
// returns nil, or ErrDrainTimeout if a step overran DrainTimeout.
func (s *Supervisor) Run(ctx context.Context) error {
	done := make(chan struct{})
	go s.deliver(context.WithoutCancel(ctx), done)

	err := s.loop(ctx)
	return errors.Join(err, s.shutdown(done))
}

func (s *Supervisor) loop(ctx context.Context) error {
	everConnected := false
	for {
		s.backoff.Reset()
		if err := s.connect(ctx, everConnected); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if everConnected {
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
		}
		everConnected = true

		select {
		case <-ctx.Done():
			return nil
		case cause := <-s.lost:
			s.logger.Warn("connection lost", "error", cause)
		}
	}
}

// connect loops until the transport is connected and subscribed, ctx is
// cancelled, or the attempt cap is hit on the first connection.
func (s *Supervisor) connect(ctx context.Context, reconnect bool) error {
	// Discard a loss notification left over from the previous session.
	select {
	case <-s.lost:
	default:
	}

	for attempt := 1; ; attempt++ {
		s.setAttempt(attempt)
		if !s.transition(Connecting, "attempt", attempt, "delay", s.backoff.Current()) {
			return nil
		}

		err := s.establish(ctx)
		if err == nil {
			s.transition(Connected, "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if !reconnect && s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			s.logger.Error("giving up on broker", "attempts", attempt, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		delay := s.backoff.Next()
		s.logger.Warn("connect failed", "attempt", attempt, "retry_in", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// establish connects and subscribes. A failed subscribe tears the session
// down so the next attempt starts clean.
func (s *Supervisor) establish(ctx context.Context) error {
	if err := s.cfg.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	granted, err := s.cfg.Transport.Subscribe(ctx, s.cfg.Topic, s.cfg.QoS)
	if err != nil {
		s.cfg.Transport.Disconnect(0)
		return fmt.Errorf("subscribe %s: %w", s.cfg.Topic, err)
	}
	s.logger.Info("subscribed", "topic", s.cfg.Topic, "qos", granted)
	return nil
}

// handle is the single entry point for transport events.
func (s *Supervisor) handle(ev Event) {
	switch ev.Kind {
	case EventMessage:
		s.enqueue(ev)
	case EventDisconnected:
		select {
		case s.lost <- ev.Err:
		default:
		}
	case EventConnected:
		s.logger.Debug("transport connected")
	case EventSubscribeAck:
		s.logger.Debug("subscription acknowledged", "topic", ev.Topic, "qos", ev.GrantedQoS)
	}
}

func (s *Supervisor) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("message after shutdown dropped", "topic", ev.Topic)
		s.drop(ev)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("inflight queue full, message dropped", "topic", ev.Topic, "max_inflight", s.cfg.MaxInflight)
		s.drop(ev)
	}
}

func (s *Supervisor) drop(ev Event) {
	if s.cfg.OnDrop != nil {
		s.cfg.OnDrop(ev)
	}
}

func (s *Supervisor) deliver(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for ev := range s.queue {
		s.cfg.Handler.HandleMessage(ctx, ev)
	}
}

func (s *Supervisor) shutdown(delivered <-chan struct{}) error {
	s.transition(ShuttingDown)

	s.mu.Lock()
	s.closed = true
	pending := len(s.queue)
	close(s.queue)
	s.mu.Unlock()

	var errs []error
	if !waitFor(delivered, s.cfg.DrainTimeout) {
		s.logger.Warn("queued messages not delivered in time", "pending", pending, "timeout", s.cfg.DrainTimeout)
		errs = append(errs, fmt.Errorf("%w: message delivery", ErrDrainTimeout))
	}

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		s.cfg.Transport.Disconnect(s.cfg.Quiesce)
	}()
	if !waitFor(disconnected, s.cfg.DrainTimeout+s.cfg.Quiesce) {
		s.logger.Warn("transport disconnect did not finish in time", "timeout", s.cfg.DrainTimeout)
		errs = append(errs, fmt.Errorf("%w: disconnect", ErrDrainTimeout))
	}

	s.logger.Info("supervisor stopped")
	return errors.Join(errs...)
}

func (s *Supervisor) setAttempt(n int) {
	s.mu.Lock()
	s.attempt = n
	s.mu.Unlock()
}

// transition moves to the given state, logging and notifying watchers.
// It returns false if the move is not allowed, which only happens once
// shutdown has begun.
func (s *Supervisor) transition(to State, attrs ...any) bool {
	s.mu.Lock()
	from := s.state
	if !validTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info("state transition", append([]any{"from", from.String(), "to", to.String()}, attrs...)...)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
	s.changed.notify()
	return true
}

func waitFor(ch <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
