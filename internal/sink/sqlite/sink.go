// Package sqlite provides a table sink that stores records in a SQLite
// database, one row per record, with the same four columns as the CSV file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
	"farmbridge/internal/sink"
)

const sinkType = "sqlite"

const schema = `CREATE TABLE IF NOT EXISTS readings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_id   TEXT NOT NULL,
	humidity    TEXT NOT NULL,
	nutrient    TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	ingested_at TEXT NOT NULL
) STRICT`

// Config holds SQLite sink configuration.
type Config struct {
	Path   string
	Now    func() time.Time // ingested_at clock, default time.Now
	Logger *slog.Logger
}

// Sink inserts records into the readings table.
type Sink struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ sink.Sink = (*Sink)(nil)

// Open opens (or creates) the database at cfg.Path and ensures the table exists.
func Open(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, sink.Wrap(sinkType, "", errors.New("missing path"))
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, sink.Wrap(sinkType, cfg.Path, fmt.Errorf("create directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, sink.Wrap(sinkType, cfg.Path, fmt.Errorf("open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, sink.Wrap(sinkType, cfg.Path, fmt.Errorf("init: %w", err))
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.Default(cfg.Logger).With("component", "sink", "type", sinkType, "path", cfg.Path)
	logger.Info("sqlite sink opened")

	return &Sink{db: db, path: cfg.Path, now: now, logger: logger}, nil
}

// Append inserts one row.
func (s *Sink) Append(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return sink.Wrap(sinkType, s.path, sink.ErrClosed)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (sensor_id, humidity, nutrient, timestamp, ingested_at) VALUES (?, ?, ?, ?, ?)`,
		rec.SensorID, rec.Humidity, rec.Nutrient, rec.Timestamp, s.now().Format(time.RFC3339),
	)
	return sink.Wrap(sinkType, s.path, err)
}

// Records returns all stored records in insertion order.
func (s *Sink) Records(ctx context.Context) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sensor_id, humidity, nutrient, timestamp FROM readings ORDER BY id`)
	if err != nil {
		return nil, sink.Wrap(sinkType, s.path, err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var r record.Record
		if err := rows.Scan(&r.SensorID, &r.Humidity, &r.Nutrient, &r.Timestamp); err != nil {
			return nil, sink.Wrap(sinkType, s.path, err)
		}
		out = append(out, r)
	}
	return out, sink.Wrap(sinkType, s.path, rows.Err())
}

// Close closes the database. Close is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("sqlite sink closed")
	return sink.Wrap(sinkType, s.path, s.db.Close())
}

// ParamPath is the factory parameter naming the database file.
const ParamPath = "path"

// NewFactory returns a factory that opens SQLite sinks.
func NewFactory() sink.Factory {
	return func(params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		path := params[ParamPath]
		if path == "" {
			return nil, errors.New("sqlite sink: path param is required")
		}
		return Open(Config{Path: path, Logger: logger})
	}
}
