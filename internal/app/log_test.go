package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "backup-1a2b3c4d",
			level:   slog.LevelInfo,
			message: "snapshot committed",
			want:    "2024-06-15T14:30:45Z\tINFO\tbackup-1a2b3c4d\tsnapshot committed\n",
		},
		{
			name:    "debug level",
			opID:    "serve-0",
			level:   slog.LevelDebug,
			message: "queue drained",
			want:    "2024-06-15T14:30:45Z\tDEBUG\tserve-0\tqueue drained\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "copied",
			attrs:   []slog.Attr{slog.String("file", "image_20240115120000.jpg"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tcopied\tfile=image_20240115120000.jpg\tsize=42\n",
		},
		{
			name:    "quotes values with tabs",
			opID:    "op-1",
			level:   slog.LevelWarn,
			message: "bad line",
			attrs:   []slog.Attr{slog.String("error", "a\tb")},
			want:    "2024-06-15T14:30:45Z\tWARN\top-1\tbad line\terror=\"a\\tb\"\n",
		},
		{
			name:    "flattens groups",
			opID:    "op-1",
			level:   slog.LevelInfo,
			message: "drained",
			attrs:   []slog.Attr{slog.Group("stats", slog.Int("applied", 3), slog.Int("dropped", 1))},
			want:    "2024-06-15T14:30:45Z\tINFO\top-1\tdrained\tstats.applied=3\tstats.dropped=1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &lineHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &lineHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "vault")}).(*lineHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=vault") {
		t.Errorf("expected pre-set attr component=vault, got: %q", got)
	}
	if !strings.Contains(got, "key=abc") {
		t.Errorf("expected record attr key=abc, got: %q", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestLineHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&lineHandler{w: &buf, opID: "op-1"})

	logger.WithGroup("store").With("key", "images").Info("locked", "waited", "2s")

	got := buf.String()
	for _, want := range []string{"\tstore.key=images", "\tstore.waited=2s"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Leveler
		check slog.Level
		want  bool
	}{
		{"nil level allows debug", nil, slog.LevelDebug, true},
		{"info drops debug", slog.LevelInfo, slog.LevelDebug, false},
		{"info allows warn", slog.LevelInfo, slog.LevelWarn, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &lineHandler{level: tt.level}
			if got := h.Enabled(context.Background(), tt.check); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	if _, err := os.Stat(filepath.Join(dir, "camstore.log")); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}
