package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewDefaultsToInfo(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	log := New(Options{Out: &buf, NoColor: true})

	log.Debug().Msg("hidden")
	log.Info().Msg("packet received")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "packet received") || !strings.Contains(out, "app=kiss-bridge") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestQuietHidesInfo(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	var buf bytes.Buffer
	log := New(Options{Out: &buf, NoColor: true, Quiet: true, Level: "debug"})

	log.Info().Msg("packet received")
	log.Warn().Msg("queue full")

	out := buf.String()
	if strings.Contains(out, "packet received") {
		t.Fatalf("info line should be filtered in quiet mode: %q", out)
	}
	if !strings.Contains(out, "queue full") {
		t.Fatalf("warning should remain visible: %q", out)
	}
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	var buf bytes.Buffer
	log := New(Options{Out: &buf, Level: "debug"})

	if log.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %s", log.GetLevel())
	}
	log.Error().Msg("device closed")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected no color codes: %q", buf.String())
	}
}

func TestEnvIgnoresUnknownLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "loud")
	log := New(Options{Out: &bytes.Buffer{}, Level: "warn"})
	if log.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("unexpected level: %s", log.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, true},
		{" warning ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"chatty", zerolog.InfoLevel, false},
	}
	for _, tc := range tests {
		got, ok := ParseLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseLevel(%q) = %s, %v; want %s, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
