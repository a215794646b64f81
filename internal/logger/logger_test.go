package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}

	ctx = WithRunID(ctx, "run-123")
	if id := RunID(ctx); id != "run-123" {
		t.Errorf("expected 'run-123', got %q", id)
	}
}

func TestWithRunIDGenerates(t *testing.T) {
	id := RunID(WithRunID(context.Background(), ""))
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated run id %q is not a uuid: %v", id, err)
	}
	if NewRunID() == NewRunID() {
		t.Error("run ids should differ")
	}
}

func TestAttrs(t *testing.T) {
	if attrs := Attrs(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs when no run id, got %v", attrs)
	}
	attrs := Attrs(WithRunID(context.Background(), "abc"))
	if len(attrs) != 1 {
		t.Fatalf("attrs = %v", attrs)
	}
	if a, ok := attrs[0].(slog.Attr); !ok || a.Key != "run_id" || a.Value.String() != "abc" {
		t.Errorf("attr = %v", attrs[0])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"info":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWriter(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "formula", slog.LevelWarn)
	l.Info("dropped")
	l.Warn("kept", Attrs(WithRunID(context.Background(), "r1"))...)
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"service":"formula"`) || !strings.Contains(out, `"run_id":"r1"`) {
		t.Errorf("record = %s", out)
	}
}
