package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"farmbridge/internal/record"
	"farmbridge/internal/sink"
)

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "readings.db")
	s, err := Open(Config{Path: path, Now: func() time.Time { return time.Unix(0, 0) }})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	want := []record.Record{
		{SensorID: "s1", Humidity: "25.5", Nutrient: "", Timestamp: "2024-01-01T00:00:00"},
		{SensorID: "s2", Humidity: "33.1", Nutrient: "9.4", Timestamp: "2024-01-01T00:00:01"},
	}
	for _, r := range want {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")
	ctx := context.Background()

	for i := range 2 {
		s, err := Open(Config{Path: path})
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		if err := s.Append(ctx, record.Record{SensorID: fmt.Sprintf("s%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i == 1 {
			got, err := s.Records(ctx)
			if err != nil {
				t.Fatalf("Records: %v", err)
			}
			if len(got) != 2 {
				t.Errorf("expected 2 rows after reopen, got %d", len(got))
			}
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestConcurrentAppend(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "readings.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 10 {
				if err := s.Append(ctx, record.Record{SensorID: fmt.Sprintf("%d-%d", w, i)}); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		})
	}
	wg.Wait()

	got, err := s.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != 80 {
		t.Errorf("expected 80 rows, got %d", len(got))
	}
}

func TestAppendAfterClose(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "readings.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Append(context.Background(), record.Record{}); !errors.Is(err, sink.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFactoryRequiresPath(t *testing.T) {
	if _, err := NewFactory()(nil, nil); err == nil {
		t.Fatal("expected error when path is missing")
	}
}
