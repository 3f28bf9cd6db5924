package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/telhawk-systems/eventgate/internal/middleware"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  slog.Level
		format string
	}{
		{name: "json format with info level", level: slog.LevelInfo, format: "json"},
		{name: "text format with debug level", level: slog.LevelDebug, format: "text"},
		{name: "default format with error level", level: slog.LevelError, format: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expectID string
	}{
		{
			name:     "context with correlation ID",
			ctx:      middleware.WithCorrelationID(context.Background(), "corr-123"),
			expectID: "corr-123",
		},
		{
			name: "context without correlation ID",
			ctx:  context.Background(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, slog.LevelInfo, "json")

			logger.InfoContext(tt.ctx, "test message", EventID("e1"))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse log output: %v", err)
			}

			got, _ := entry[FieldCorrelationID].(string)
			if got != tt.expectID {
				t.Errorf("correlation_id = %q, want %q", got, tt.expectID)
			}
			if entry[FieldEventID] != "e1" {
				t.Errorf("event_id = %v, want e1", entry[FieldEventID])
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "text")
	ctx := context.Background()

	logger.DebugContext(ctx, "debug")
	logger.InfoContext(ctx, "info")
	logger.WarnContext(ctx, "warn")
	logger.ErrorContext(ctx, "error")

	out := buf.String()
	if strings.Contains(out, "msg=debug") || strings.Contains(out, "msg=info") {
		t.Errorf("expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "msg=warn") || !strings.Contains(out, "msg=error") {
		t.Errorf("expected warn and error in output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		" Debug ": slog.LevelDebug,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFields(t *testing.T) {
	if a := Duration(1500 * time.Millisecond); a.Value.Int64() != 1500 {
		t.Errorf("Duration = %d, want 1500", a.Value.Int64())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Errorf("Error = %q, want boom", a.Value.String())
	}
	if a := Error(nil); a.Value.String() != "" {
		t.Errorf("Error(nil) = %q, want empty", a.Value.String())
	}
	if a := RetryAttempt(3); a.Key != FieldRetryAttempt || a.Value.Int64() != 3 {
		t.Errorf("RetryAttempt = %v", a)
	}
}
