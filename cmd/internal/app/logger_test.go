package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"msg":"bootstrap.bot.ready"`},
		{format: "", want: `"msg":"bootstrap.bot.ready"`},
		{format: "text", want: "msg=bootstrap.bot.ready"},
		{format: "pretty", want: "INFO  bootstrap.bot.ready"},
	}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	for _, tc := range cases {
		var buf bytes.Buffer
		log := newLogger(&buf, "debug", tc.format)
		log.Info("bootstrap.bot.ready", "login", "doublecolonbot")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format %q wrote %q, want %q", tc.format, buf.String(), tc.want)
		}
	}
}
