package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"trace", zerolog.TraceLevel, true},
		{"diagnostics", zerolog.TraceLevel, true},
		{" DEBUG ", zerolog.DebugLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseLevel(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "not-a-bool")
	t.Setenv(EnvLogJSON, "1")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Level)
	}
	if cfg.Timestamp {
		t.Error("Timestamp should be disabled by environment")
	}
	if cfg.NoColor {
		t.Error("NoColor should ignore an unparsable value")
	}
	if !cfg.JSON {
		t.Error("JSON should be enabled by environment")
	}
}

func TestNewJSONRespectsLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogJSON, "")

	var buf bytes.Buffer
	log := New(&buf, Config{Level: "warn", JSON: true})

	log.Info().Msg("hidden")
	log.Warn().Int("cpu", 3).Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"cpu":3`) || !strings.Contains(out, "shown") {
		t.Errorf("warn message missing structured field: %s", out)
	}
}
