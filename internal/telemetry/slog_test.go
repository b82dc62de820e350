package telemetry

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
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger_JSONFormat_ProducesValidJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "info")
	logger.Info("key redeemed", "tenant_id", "t1", "outcome", "success")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if record["msg"] != "key redeemed" {
		t.Errorf("msg = %v, want key redeemed", record["msg"])
	}
	if record["tenant_id"] != "t1" {
		t.Errorf("tenant_id = %v, want t1", record["tenant_id"])
	}
	if _, ok := record["source"]; ok {
		t.Error("source should only be added at debug level")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "info")
	logger.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "text", "warn")
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record missing")
	}
}

func TestNewLogger_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "json", "debug").Debug("trace")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := record["source"]; !ok {
		t.Error("expected source at debug level")
	}
}

func TestSetupLogger_InstallsDefault(t *testing.T) {
	before := slog.Default()
	t.Cleanup(func() { slog.SetDefault(before) })

	SetupLogger("json", "error")
	if slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("default logger should drop warn records at error level")
	}
}

func TestRedactCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3F2504E0-4F89-11D3-9A0C-0305E82C3301", "3F25…"},
		{"ABCDE", "ABCD…"},
		{"ABCD", "****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RedactCode(tt.in); got != tt.want {
			t.Errorf("RedactCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
