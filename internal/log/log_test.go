package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "k=v") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers())
	}

	line := []byte("hello\n")
	if _, err := b.Write(line); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line[0] = 'j'

	select {
	case got := <-ch:
		if string(got) != "hello\n" {
			t.Errorf("got %q, want copy of original line", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no line delivered")
	}

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", b.Subscribers())
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < subscriberBuffer+10; i++ {
		_, _ = b.Write([]byte("x"))
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestSetLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	SetLogDir(dir)
	if got := GetLogDir(); got != dir {
		t.Errorf("GetLogDir = %q, want %q", got, dir)
	}
	if got := GetStatsFilePath("stats"); got != filepath.Join(dir, "stats") {
		t.Errorf("GetStatsFilePath = %q", got)
	}
	if !strings.HasSuffix(GetLogFilePath(), "mitmrw.log") {
		t.Errorf("GetLogFilePath = %q", GetLogFilePath())
	}
}
