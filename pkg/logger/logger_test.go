package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"homevoice/pkg/config"
)

// capture builds a logger writing into a buffer with the HOMEVOICE_LOG_*
// variables cleared.
func capture(t *testing.T, cfg config.LoggingConfig) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(cfg, &out)
	if err != nil {
		t.Fatalf("newWithWriter(%+v): %v", cfg, err)
	}
	return log, &out
}

func decodeEntry(t *testing.T, line string) LogEntry {
	t.Helper()

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return entry
}

func TestLoggerJSONPromotesCommandIDs(t *testing.T) {
	log, out := capture(t, config.LoggingConfig{Format: "json", Level: "info"})

	log.With("component", "dispatch.worker").Info("Command handled", "message_id", "42", "ok", true)

	entry := decodeEntry(t, strings.TrimSpace(out.String()))
	want := LogEntry{
		Level:     "info",
		Timestamp: entry.Timestamp,
		Component: "dispatch.worker",
		Message:   "Command handled",
		MessageID: "42",
		Fields:    map[string]any{"ok": true},
	}
	if entry.Timestamp == "" {
		t.Fatal("timestamp missing")
	}
	if !reflect.DeepEqual(entry, want) {
		t.Fatalf("entry = %+v\nwant    %+v", entry, want)
	}
}

func TestLoggerSettings(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		env      map[string]string
		emit     func(*slog.Logger)
		wantJSON bool
		wantNone bool
	}{
		{
			name:     "text by default",
			emit:     func(l *slog.Logger) { l.Info("porch light on") },
			wantJSON: false,
		},
		{
			name:     "below level is dropped",
			cfg:      config.LoggingConfig{Format: "json", Level: "error"},
			emit:     func(l *slog.Logger) { l.Warn("queue slow") },
			wantNone: true,
		},
		{
			name:     "at level is kept",
			cfg:      config.LoggingConfig{Format: "json", Level: "error"},
			emit:     func(l *slog.Logger) { l.Error("queue down") },
			wantJSON: true,
		},
		{
			name:     "environment wins over config",
			cfg:      config.LoggingConfig{Format: "json", Level: "error"},
			env:      map[string]string{envLevel: "debug", envFormat: "text"},
			emit:     func(l *slog.Logger) { l.Debug("payload staged") },
			wantJSON: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLoggingEnv(t)
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			var out bytes.Buffer
			log, err := newWithWriter(tt.cfg, &out)
			if err != nil {
				t.Fatalf("newWithWriter: %v", err)
			}
			tt.emit(log)

			line := strings.TrimSpace(out.String())
			switch {
			case tt.wantNone:
				if line != "" {
					t.Fatalf("expected no output, got %q", line)
				}
			case line == "":
				t.Fatal("expected output")
			case strings.HasPrefix(line, "{") != tt.wantJSON:
				t.Fatalf("json=%v, line %q", tt.wantJSON, line)
			}
		})
	}
}

func TestLoggerJSONFieldsAndGroups(t *testing.T) {
	log, out := capture(t, config.LoggingConfig{Format: "json"})

	log.WithGroup("stt").Warn("Transcription slow",
		"user_id", "7",
		"elapsed", 1500*time.Millisecond,
		"error", errors.New("deadline exceeded"),
	)
	log.Info("Outcome routed", "user_id", "7", "attempt", 2)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	grouped := decodeEntry(t, lines[0])
	if grouped.UserID != "" || grouped.Fields["stt.user_id"] != "7" {
		t.Fatalf("grouped user_id must stay in fields: %+v", grouped)
	}
	if grouped.Fields["stt.elapsed"] != "1.5s" || grouped.Fields["stt.error"] != "deadline exceeded" {
		t.Fatalf("grouped fields = %v", grouped.Fields)
	}

	plainEntry := decodeEntry(t, lines[1])
	if plainEntry.UserID != "7" {
		t.Fatalf("user_id = %q, want 7", plainEntry.UserID)
	}
	if plainEntry.Fields["attempt"] != float64(2) {
		t.Fatalf("attempt = %v, want 2", plainEntry.Fields["attempt"])
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	clearLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "trace"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func clearLoggingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envLevel, envFormat, envAddSource, envFile} {
		t.Setenv(key, "")
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	clearLoggingEnv(t)

	path := filepath.Join(t.TempDir(), "homevoice.log")
	log, err := New(config.LoggingConfig{Format: "json", File: path})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	log.With("component", "gateway").Info("Gateway started")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "Gateway started") {
		t.Fatalf("log file = %q, want record", content)
	}
}

func TestDiscardDropsRecords(t *testing.T) {
	log := Discard()
	if log.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected discard logger to disable error level")
	}
}
