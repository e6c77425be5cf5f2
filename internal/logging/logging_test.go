package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "taskboard-auth", "test")
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "taskboard-auth" || entry["env"] != "test" || entry["msg"] != "kept" {
		t.Errorf("entry = %v", entry)
	}
}
