package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// newBridgeLoggers returns a filtered text logger writing to buf, the way
// main builds it, plus loggers scoped to the bridge components.
func newBridgeLoggers(buf *bytes.Buffer, def slog.Level) (*ComponentFilterHandler, map[string]*slog.Logger) {
	filter := NewComponentFilterHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), def)
	root := slog.New(filter)
	scoped := map[string]*slog.Logger{}
	for _, c := range []string{"supervisor", "dispatcher", "paho", "sink"} {
		scoped[c] = root.With("component", c)
	}
	return filter, scoped
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// --- Default Tests ---

func TestDefaultNilDiscards(t *testing.T) {
	if Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("nil logger should fall back to a discard logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Default(l) != l {
		t.Error("non-nil logger should be returned as is")
	}
}

// --- Filter Tests ---

func TestLogLevelSetsDefaultThreshold(t *testing.T) {
	tests := []struct {
		env  string
		want []string
	}{
		{"DEBUG", []string{"debug", "info", "warn", "error"}},
		{"INFO", []string{"info", "warn", "error"}},
		{"warning", []string{"warn", "error"}},
		{"CRITICAL", []string{"error"}},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			filter, loggers := newBridgeLoggers(&buf, slog.LevelInfo)
			lvl, err := ParseLevel(tt.env)
			if err != nil {
				t.Fatalf("ParseLevel: %v", err)
			}
			filter.SetDefaultLevel(lvl)

			d := loggers["dispatcher"]
			d.Debug("debug")
			d.Info("info")
			d.Warn("warn")
			d.Error("error")

			got := lines(&buf)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d records, got %d: %q", len(tt.want), len(got), got)
			}
			for i, msg := range tt.want {
				if !strings.Contains(got[i], "msg="+msg) {
					t.Errorf("record %d: expected msg=%s in %q", i, msg, got[i])
				}
			}
		})
	}
}

func TestPahoDebugOverride(t *testing.T) {
	var buf bytes.Buffer
	filter, loggers := newBridgeLoggers(&buf, slog.LevelWarn)
	filter.SetLevel("paho", slog.LevelDebug)

	loggers["paho"].Debug("[net] ping")
	loggers["supervisor"].Debug("backoff")
	loggers["supervisor"].Info("state transition")
	loggers["sink"].Warn("append failed")

	got := lines(&buf)
	if len(got) != 2 {
		t.Fatalf("expected paho debug and sink warn only, got %q", got)
	}
	if !strings.Contains(got[0], "component=paho") || !strings.Contains(got[1], "component=sink") {
		t.Errorf("unexpected records %q", got)
	}

	filter.ClearLevel("paho")
	buf.Reset()
	loggers["paho"].Debug("[net] ping")
	if n := len(lines(&buf)); n != 0 {
		t.Errorf("cleared override should fall back to warn, got %d records", n)
	}
}

func TestLevelChangeReachesScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	filter, loggers := newBridgeLoggers(&buf, slog.LevelInfo)
	// Scoped before the change, as every component is at construction.
	sup := loggers["supervisor"].With("run_id", "r1")

	sup.Debug("hidden")
	filter.SetLevel("supervisor", slog.LevelDebug)
	sup.Debug("shown")

	got := lines(&buf)
	if len(got) != 1 || !strings.Contains(got[0], "msg=shown") || !strings.Contains(got[0], "run_id=r1") {
		t.Errorf("unexpected records %q", got)
	}
}

func TestComponentFromRecordAttrs(t *testing.T) {
	var buf bytes.Buffer
	filter, _ := newBridgeLoggers(&buf, slog.LevelWarn)
	filter.SetLevel("paho", slog.LevelDebug)
	root := slog.New(filter)

	if !root.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("unscoped logger must stay enabled while any override admits debug")
	}
	root.Debug("from paho", "component", "paho")
	root.Debug("from dispatcher", "component", "dispatcher")
	root.Debug("no component")

	got := lines(&buf)
	if len(got) != 1 || !strings.Contains(got[0], "from paho") {
		t.Errorf("expected only the paho record, got %q", got)
	}
}

func TestWithGroupKeepsComponent(t *testing.T) {
	var buf bytes.Buffer
	filter, loggers := newBridgeLoggers(&buf, slog.LevelInfo)
	filter.SetLevel("sink", slog.LevelError)

	loggers["sink"].WithGroup("csv").Warn("slow fsync")
	if n := len(lines(&buf)); n != 0 {
		t.Errorf("grouped sink logger should keep the sink threshold, got %d records", n)
	}
}

// --- ParseLevel / Truncate Tests ---

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"Warning", slog.LevelWarn, false},
		{" warn ", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"critical", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected untouched string, got %q", got)
	}
	got := Truncate(strings.Repeat("x", 20), 5)
	if !strings.HasPrefix(got, "xxxxx") || len(got) <= 5 || strings.HasPrefix(got, "xxxxxx") {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Errorf("n=0 should disable truncation, got %q", got)
	}
}
