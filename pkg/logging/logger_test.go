package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected JSON output by default")
	}
}

func TestSetup_Levels(t *testing.T) {
	// Each level emits one line per worker event of that level or above.
	events := []struct {
		level zerolog.Level
		msg   string
	}{
		{zerolog.DebugLevel, "Static cache hit"},
		{zerolog.InfoLevel, "Worker activated"},
		{zerolog.WarnLevel, "Serving stale data"},
		{zerolog.ErrorLevel, "Precache failed"},
	}

	tests := []struct {
		level LogLevel
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			for _, e := range events {
				logger.WithLevel(e.level).Msg(e.msg)
			}

			lines := strings.Count(buf.String(), "\n")
			if lines != tt.want {
				t.Errorf("level %s wrote %d lines, want %d: %q", tt.level, lines, tt.want, buf.String())
			}
			if !strings.Contains(buf.String(), "Precache failed") {
				t.Errorf("errors must always be logged, got %q", buf.String())
			}
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Int("version", 2).Msg("Worker claimed clients")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "Worker claimed clients") {
		t.Errorf("Unexpected console output %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"WARNING", zerolog.WarnLevel},
		{" debug ", zerolog.DebugLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger_Fields(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("strategy")
	logger.Info().Str("key", "/api/grades").Msg("served from cache")

	output := buf.String()
	for _, want := range []string{`"service":"campus-offline"`, `"component":"strategy"`, `"key":"/api/grades"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got %q", want, output)
		}
	}
}
