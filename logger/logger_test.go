package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want slog.Level
	}{
		{"default", Config{}, slog.LevelInfo},
		{"debug", Config{Level: "debug"}, slog.LevelDebug},
		{"warn", Config{Level: "warn"}, slog.LevelWarn},
		{"warning alias", Config{Level: "warning"}, slog.LevelWarn},
		{"error", Config{Level: "error"}, slog.LevelError},
		{"unknown falls back to info", Config{Level: "trace"}, slog.LevelInfo},
		{"quiet overrides level", Config{Level: "debug", Quiet: true}, slog.LevelError},
		{"verbose overrides quiet", Config{Quiet: true, Verbose: true}, slog.LevelDebug},
		{"mixed case", Config{Level: "WARN"}, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLevel(tt.cfg); got != tt.want {
				t.Errorf("parseLevel(%+v) = %v, want %v", tt.cfg, got, tt.want)
			}
		})
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("job finished", "nonce", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "job finished" {
		t.Errorf("Expected msg %q, got %v", "job finished", record["msg"])
	}
	if record["nonce"] != float64(42) {
		t.Errorf("Expected nonce attribute 42, got %v", record["nonce"])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.Warn("slow search", "elapsed", "3s")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("Expected level in text output, got %q", out)
	}
	if !strings.Contains(out, "elapsed=3s") {
		t.Errorf("Expected attribute in text output, got %q", out)
	}
}

func TestColorFallsBackToTextForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "color", Output: &buf})

	log.Info("hello")

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Expected no ANSI escapes when writing to a buffer, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "error", Format: "text", Output: &buf})

	log.Info("dropped")
	log.Debug("dropped too")

	if buf.Len() != 0 {
		t.Errorf("Expected below-level records to be dropped, got %q", buf.String())
	}

	log.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("Expected error record to pass the filter, got %q", buf.String())
	}
}

func TestColorHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newColorHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(h).With("job", "abc123")

	log.Info("running", "workers", 8)

	out := buf.String()
	if !strings.Contains(out, "job=abc123") {
		t.Errorf("Expected pre-bound attribute in output, got %q", out)
	}
	if !strings.Contains(out, "workers=8") {
		t.Errorf("Expected record attribute in output, got %q", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	ctx := WithLogger(context.Background(), log)
	FromContext(ctx).Info("through context")

	if !strings.Contains(buf.String(), "through context") {
		t.Errorf("Context logger was not used, got %q", buf.String())
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Error("FromContext should fall back to the global logger, not nil")
	}
}

func TestSetGet(t *testing.T) {
	old := Get()
	defer Set(old)

	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})
	Set(log)

	if Get() != log {
		t.Error("Get did not return the logger installed by Set")
	}

	Info("global path")
	if !strings.Contains(buf.String(), "global path") {
		t.Errorf("Package-level Info did not use the installed logger, got %q", buf.String())
	}
}
