package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.name); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Warn("shown", "replicas", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written below threshold: %q", out)
	}
	if !strings.Contains(out, "[WRN] shown replicas=2") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestHandlerKeepsAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelDebug)).
		With("component", "policer").
		WithGroup("pass").
		With("scope", 100)

	log.Debug("started", "objects", 7)

	line := buf.String()
	for _, want := range []string{"[DBG] started", "component=policer", "pass.scope=100", "pass.objects=7"} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %q in %q", want, line)
		}
	}
}
