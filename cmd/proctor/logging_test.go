package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.level); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	logger := slog.New(h).With("component", "test")

	logger.Debug("detail")
	logger.Info("started", "execution_id", "e-1")

	if strings.Contains(info.String(), "detail") {
		t.Error("info handler should drop debug records")
	}
	for name, out := range map[string]string{"info": info.String(), "debug": debug.String()} {
		if !strings.Contains(out, "started") || !strings.Contains(out, "component=test") {
			t.Errorf("%s handler output = %q", name, out)
		}
	}
	if !strings.Contains(debug.String(), "detail") {
		t.Error("debug handler should keep debug records")
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) should be true when any handler accepts it")
	}
}
