package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDiscardWritesNothing(t *testing.T) {
	t.Parallel()
	log := Discard()
	if log == nil {
		t.Fatal("Discard() returned nil")
	}
	// Should not panic
	log.Error("dropped", "key", "value")
	log.With("component", "x").Info("dropped")
}

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	output := buf.String()
	if !strings.Contains(output, `"key":"value"`) {
		t.Fatalf("expected key=value in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", output)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")

	if buf.Len() > 0 {
		t.Fatalf("expected no output for info at warn level, got: %s", buf.String())
	}
	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestSetupFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"", "pretty", "json", "text", "JSON"} {
		var buf bytes.Buffer
		log, err := Setup(&buf, format, "info")
		if err != nil {
			t.Fatalf("Setup(%q) error = %v", format, err)
		}
		log.Info("configured")
		if !strings.Contains(buf.String(), "configured") {
			t.Fatalf("Setup(%q): expected message, got: %s", format, buf.String())
		}
	}

	if _, err := Setup(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPrettyComponentTag(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo).With("component", "mnn")
	log.Info("model loaded", "path", "/models/qwen", "duration", 1500*time.Millisecond)

	output := buf.String()
	if !strings.Contains(output, "[mnn]") {
		t.Fatalf("expected component tag, got: %s", output)
	}
	if strings.Contains(output, "component=") {
		t.Fatalf("component should not be rendered as an attribute: %s", output)
	}
	if !strings.Contains(output, "path=/models/qwen") || !strings.Contains(output, "duration=1.5s") {
		t.Fatalf("expected attributes, got: %s", output)
	}
}

func TestPrettyQuotesSpaces(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Pretty(&buf, slog.LevelInfo).Info("question", "text", "hello there")

	if !strings.Contains(buf.String(), `text="hello there"`) {
		t.Fatalf("expected quoted value, got: %s", buf.String())
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestPrettyHandlerWithGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("service", "api")}).WithGroup("req"))
	logger.Info("grouped", "id", "42")

	output := buf.String()
	if !strings.Contains(output, "service=api") {
		t.Fatalf("expected ungrouped handler attr, got: %s", output)
	}
	if !strings.Contains(output, "req.id=42") {
		t.Fatalf("expected grouped attr, got: %s", output)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))

	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}
