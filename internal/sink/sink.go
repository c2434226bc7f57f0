// Package sink defines the durable, append-only destination for normalized
// records.
//
// A Sink owns its underlying resource (file handle, database connection,
// producer client) and its own mutual-exclusion gate: callers may invoke
// Append concurrently and never hold a lock across calls. Every Append is a
// single row written in record.Columns order.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"farmbridge/internal/record"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink closed")

// Sink is an append-only store of records.
type Sink interface {
	// Append writes one record. Failures are returned as *Error.
	Append(ctx context.Context, rec record.Record) error
	// Close releases the underlying resource. Close is idempotent.
	Close() error
}

// Factory creates a Sink from configuration parameters.
// Factories validate required params, apply defaults, and open the
// underlying resource. The logger parameter is optional.
type Factory func(params map[string]string, logger *slog.Logger) (Sink, error)

// Error is a failed append or open, carrying the sink type and location.
type Error struct {
	Sink string // "csv", "sqlite", "kafka"
	Path string // file path, database path or topic
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink %s: %v", e.Sink, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error, or nil if err is nil.
func Wrap(sinkType, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Sink: sinkType, Path: path, Err: err}
}
