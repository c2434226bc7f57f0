// Package file provides the append-only CSV file sink.
//
// The file holds a fixed header (record.Columns) followed by one row per
// record. The header is written at most once: the sink checks, under its
// lock, whether the file holds any bytes before writing the first row. An
// advisory flock keeps a second bridge process off the same file.
package file

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
	"farmbridge/internal/sink"
)

const sinkType = "csv"

// ErrLocked is returned when another process holds the file lock.
var ErrLocked = errors.New("file is locked by another process")

// Config holds CSV sink configuration.
type Config struct {
	Path     string
	FileMode os.FileMode // default 0o644
	Logger   *slog.Logger
}

// Sink appends records to a CSV file.
type Sink struct {
	path   string
	logger *slog.Logger

	mu            sync.Mutex
	f             *os.File
	out           io.Writer // destination of w; the file unless replaced in tests
	w             *csv.Writer
	headerWritten bool
	// size is the file length after the last complete row.
	size int64
	// dirty is set after a failed write or flush. The writer is rebuilt at
	// that point and the file is cut back to size before the next row.
	dirty bool
	rows          uint64
	closed        bool
}

var _ sink.Sink = (*Sink)(nil)

// Open creates the parent directory if needed, opens path for appending and
// takes an exclusive advisory lock on it.
func Open(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, sink.Wrap(sinkType, "", errors.New("missing path"))
	}
	mode := cmp.Or(cfg.FileMode, 0o644)
	path := filepath.Clean(cfg.Path)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, sink.Wrap(sinkType, path, fmt.Errorf("create directory: %w", err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, mode)
	if err != nil {
		return nil, sink.Wrap(sinkType, path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil { //nolint:gosec // G115: uintptr->int is safe on 64-bit
		_ = f.Close()
		return nil, sink.Wrap(sinkType, path, ErrLocked)
	}

	logger := logging.Default(cfg.Logger).With("component", "sink", "type", sinkType, "path", path)

	s := &Sink{path: path, logger: logger, f: f, out: f, w: csv.NewWriter(f)}
	if err := s.recover(); err != nil {
		_ = f.Close()
		return nil, sink.Wrap(sinkType, path, err)
	}

	if s.size, err = f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, sink.Wrap(sinkType, path, fmt.Errorf("seek end: %w", err))
	}

	logger.Info("csv sink opened", "existing", s.headerWritten)
	return s, nil
}

// recover inspects an existing file. A non-empty file already has its
// header. A file whose last byte is not a newline was cut mid-row by a crash;
// terminate that row so the next one starts on its own line.
func (s *Sink) recover() error {
	info, err := s.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	s.headerWritten = size > 0
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := s.f.ReadAt(last, size-1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read tail: %w", err)
	}
	if last[0] != '\n' {
		s.logger.Warn("csv file ends with a partial row, terminating it", "size", size)
		if _, err := s.f.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("terminate partial row: %w", err)
		}
	}
	return nil
}

// Append writes one row, preceded by the header when the file is empty.
// The row is flushed and synced before Append returns.
func (s *Sink) Append(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sink.Wrap(sinkType, s.path, sink.ErrClosed)
	}

	if s.dirty {
		if err := s.rollback(); err != nil {
			return sink.Wrap(sinkType, s.path, err)
		}
	}

	if !s.headerWritten {
		if err := s.w.Write(record.Columns); err != nil {
			return s.fail(fmt.Errorf("write header: %w", err))
		}
	}
	if err := s.w.Write(rec.Fields()); err != nil {
		return s.fail(fmt.Errorf("write row: %w", err))
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return s.fail(fmt.Errorf("flush: %w", err))
	}
	// The header counts as written once it reached the file, even if the
	// sync below fails.
	s.headerWritten = true
	off, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return sink.Wrap(sinkType, s.path, fmt.Errorf("offset: %w", err))
	}
	s.size = off
	if err := s.f.Sync(); err != nil {
		return sink.Wrap(sinkType, s.path, fmt.Errorf("sync: %w", err))
	}
	s.rows++
	return nil
}

// fail discards the csv writer, whose buffered error is sticky, so a
// transient I/O failure loses only the current row.
func (s *Sink) fail(err error) error {
	s.w = csv.NewWriter(s.out)
	s.dirty = true
	return sink.Wrap(sinkType, s.path, err)
}

// rollback removes whatever a failed flush left after the last complete row.
func (s *Sink) rollback() error {
	if err := s.f.Truncate(s.size); err != nil {
		return fmt.Errorf("truncate partial row: %w", err)
	}
	s.headerWritten = s.size > 0
	s.dirty = false
	s.logger.Info("csv sink recovered after write failure", "size", s.size)
	return nil
}

// Rows returns the number of rows appended since Open.
func (s *Sink) Rows() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Path returns the cleaned file path.
func (s *Sink) Path() string { return s.path }

// Close flushes pending output, releases the lock and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.dirty {
		if err := s.rollback(); err != nil {
			errs = append(errs, err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		errs = append(errs, err)
	}
	if err := s.f.Sync(); err != nil {
		errs = append(errs, err)
	}
	// Closing the descriptor releases the flock.
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("csv sink closed", "rows", s.rows)

	if len(errs) > 0 {
		return sink.Wrap(sinkType, s.path, errs[0])
	}
	return nil
}
