package sink

import (
	"context"
	"errors"
	"log/slog"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
)

// Multi fans a record out to a primary sink and any number of secondary
// sinks. Only the primary sink decides success: secondary failures are
// logged and reported through OnSecondaryError.
type Multi struct {
	primary   Sink
	secondary []Sink
	logger    *slog.Logger

	// OnSecondaryError, if set, is called for every failed secondary append.
	OnSecondaryError func(err error)
}

var _ Sink = (*Multi)(nil)

// NewMulti returns a Multi writing to primary first, then to each secondary.
func NewMulti(logger *slog.Logger, primary Sink, secondary ...Sink) *Multi {
	return &Multi{
		primary:   primary,
		secondary: secondary,
		logger:    logging.Default(logger).With("component", "sink", "type", "multi"),
	}
}

// Append writes rec to the primary sink. Secondary sinks are only written
// when the primary append succeeded, so they never hold rows the primary lacks.
func (m *Multi) Append(ctx context.Context, rec record.Record) error {
	if err := m.primary.Append(ctx, rec); err != nil {
		return err
	}
	for _, s := range m.secondary {
		if err := s.Append(ctx, rec); err != nil {
			m.logger.Warn("secondary sink append failed", "sensor_id", rec.SensorID, "error", err)
			if m.OnSecondaryError != nil {
				m.OnSecondaryError(err)
			}
		}
	}
	return nil
}

// Close closes every sink, secondaries first, and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.secondary {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
